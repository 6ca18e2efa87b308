package relay

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseWebhookPayloadSuccess(t *testing.T) {
	body := []byte(`{
		"success": true,
		"data": {
			"backendAnswer": "Here is your implementation",
			"bestImplementation": {"code": "public class Stack {}"},
			"otherImplementations": [{"code": "class A {}"}, {"code": "class B {}"}]
		},
		"processingTime": 42.5
	}`)

	p, err := ParseWebhookPayload("abc", body)
	if err != nil {
		t.Fatalf("ParseWebhookPayload failed: %v", err)
	}

	if p.SessionID != "abc" {
		t.Errorf("SessionID = %q, want abc", p.SessionID)
	}
	if !p.Success {
		t.Error("Success should be true")
	}
	if p.Data == nil {
		t.Fatal("Data should be set on success")
	}
	if p.Data.BackendAnswer != "Here is your implementation" {
		t.Errorf("BackendAnswer = %q", p.Data.BackendAnswer)
	}
	if len(p.Data.OtherImplementations) != 2 {
		t.Errorf("OtherImplementations count = %d, want 2", len(p.Data.OtherImplementations))
	}
	if p.ProcessingTime != 42.5 {
		t.Errorf("ProcessingTime = %v, want 42.5", p.ProcessingTime)
	}
	if p.ReceivedAt.IsZero() {
		t.Error("ReceivedAt should be stamped")
	}
}

func TestParseWebhookPayloadFailure(t *testing.T) {
	p, err := ParseWebhookPayload("abc", []byte(`{"success": false, "error": "generation timed out"}`))
	if err != nil {
		t.Fatalf("ParseWebhookPayload failed: %v", err)
	}
	if p.Success {
		t.Error("Success should be false")
	}
	if p.Error != "generation timed out" {
		t.Errorf("Error = %q", p.Error)
	}
}

func TestParseWebhookPayloadRejectsMalformed(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr error
	}{
		{"not json", `{{{`, ErrNotJSON},
		{"missing success", `{"data": {}}`, ErrMissingSuccess},
		{"success without data", `{"success": true}`, ErrMissingData},
		{"failure without error", `{"success": false}`, ErrMissingError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseWebhookPayload("abc", []byte(tt.body))
			if err == nil {
				t.Fatal("expected parse error")
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestFlexIndex(t *testing.T) {
	tests := []struct {
		input string
		want  int
	}{
		{`2`, 2},
		{`"3"`, 3},
		{`null`, 0},
		{`0`, 0},
	}

	for _, tt := range tests {
		var f FlexIndex
		if err := json.Unmarshal([]byte(tt.input), &f); err != nil {
			t.Errorf("Unmarshal(%s) failed: %v", tt.input, err)
			continue
		}
		if int(f) != tt.want {
			t.Errorf("FlexIndex(%s) = %d, want %d", tt.input, int(f), tt.want)
		}
	}

	var f FlexIndex
	if err := json.Unmarshal([]byte(`"abc"`), &f); err == nil {
		t.Error("expected error for non-numeric string index")
	}

	out, err := json.Marshal(FlexIndex(7))
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(out) != "7" {
		t.Errorf("Marshal = %s, want 7", out)
	}
}

func TestRefinedIndexInData(t *testing.T) {
	body := []byte(`{
		"success": true,
		"data": {"isRefinement": true, "refinedImplementation": {}, "refinedImplementationIndex": "1"}
	}`)

	p, err := ParseWebhookPayload("abc", body)
	if err != nil {
		t.Fatalf("ParseWebhookPayload failed: %v", err)
	}
	if p.Data.RefinedImplementationIndex == nil {
		t.Fatal("RefinedImplementationIndex should be set")
	}
	if int(*p.Data.RefinedImplementationIndex) != 1 {
		t.Errorf("RefinedImplementationIndex = %d, want 1", int(*p.Data.RefinedImplementationIndex))
	}
}

func TestFrameRoundTrip(t *testing.T) {
	p, err := ParseWebhookPayload("abc", []byte(`{"success": false, "error": "boom", "processingTime": 1.5}`))
	if err != nil {
		t.Fatal(err)
	}

	frame := p.Frame()
	if frame.Type != FrameTypeComplete {
		t.Errorf("Type = %q, want %q", frame.Type, FrameTypeComplete)
	}
	if frame.SessionID != "abc" || frame.Success || frame.Error != "boom" {
		t.Errorf("unexpected frame: %+v", frame)
	}
}

func TestParseProgressFrame(t *testing.T) {
	frame, err := ParseProgressFrame("abc", []byte(`{"stage": "testing", "message": "running candidate tests"}`))
	if err != nil {
		t.Fatalf("ParseProgressFrame failed: %v", err)
	}
	if frame.Type != FrameTypeProgress {
		t.Errorf("Type = %q, want %q", frame.Type, FrameTypeProgress)
	}
	if frame.Stage != "testing" {
		t.Errorf("Stage = %q", frame.Stage)
	}

	if _, err := ParseProgressFrame("abc", []byte(`not json`)); err == nil {
		t.Error("expected error for malformed progress body")
	}
}
