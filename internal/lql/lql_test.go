package lql

import (
	"strings"
	"testing"
)

const validStack = `Stack {
    push(java.lang.Object) -> java.lang.Object
    pop() -> java.lang.Object
    size() -> int
}`

func TestValidateAcceptsWellFormedInterface(t *testing.T) {
	res := Validate(validStack)
	if !res.Valid {
		t.Fatalf("valid document rejected: %v", res.Errors)
	}
}

func TestParseExtractsSignatures(t *testing.T) {
	iface, err := Parse(validStack)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	if iface.Name != "Stack" {
		t.Errorf("name = %q, want Stack", iface.Name)
	}
	if len(iface.Methods) != 3 {
		t.Fatalf("methods = %d, want 3", len(iface.Methods))
	}

	push := iface.Methods[0]
	if push.Name != "push" {
		t.Errorf("method name = %q, want push", push.Name)
	}
	if len(push.Params) != 1 || push.Params[0] != "java.lang.Object" {
		t.Errorf("push params = %v, want [java.lang.Object]", push.Params)
	}
	if push.ReturnType != "java.lang.Object" {
		t.Errorf("push return = %q, want java.lang.Object", push.ReturnType)
	}

	pop := iface.Methods[1]
	if len(pop.Params) != 0 {
		t.Errorf("pop params = %v, want none", pop.Params)
	}
}

func TestValidateMultipleParams(t *testing.T) {
	res := Validate(`Map {
    put(java.lang.String, java.lang.Object) -> java.lang.Object
}`)
	if !res.Valid {
		t.Fatalf("valid document rejected: %v", res.Errors)
	}
}

func TestValidateArrayTypes(t *testing.T) {
	res := Validate(`Sorter {
    sort(int[]) -> int[]
}`)
	if !res.Valid {
		t.Fatalf("array types rejected: %v", res.Errors)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{"empty document", "", "empty"},
		{"whitespace only", "   \n\t  ", "empty"},
		{"missing header", "push(int) -> int", "interface header"},
		{"missing closing brace", "Stack {\n    size() -> int", `missing closing "}"`},
		{"no methods", "Stack {\n}", "declares no methods"},
		{"missing arrow", "Stack {\n    size() int\n}", "method signature"},
		{"bad return type", "Stack {\n    size() -> 3nt\n}", "invalid return type"},
		{"bad parameter type", "Stack {\n    push(1bad) -> int\n}", "invalid parameter type"},
		{"bad interface name", "9Stack {\n    size() -> int\n}", "invalid interface name"},
		{"content after end", "Stack {\n    size() -> int\n}\nextra", "after interface end"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Validate(tt.input)
			if res.Valid {
				t.Fatal("malformed document accepted")
			}
			found := false
			for _, e := range res.Errors {
				if strings.Contains(e.Message, tt.wantErr) {
					found = true
				}
			}
			if !found {
				t.Errorf("errors %v do not mention %q", res.Errors, tt.wantErr)
			}
		})
	}
}

func TestValidateCollectsMultipleErrors(t *testing.T) {
	res := Validate(`Stack {
    size() int
    peek() -> 9bad
}`)
	if res.Valid {
		t.Fatal("malformed document accepted")
	}
	if len(res.Errors) < 2 {
		t.Errorf("errors = %d, want at least 2: %v", len(res.Errors), res.Errors)
	}
}

func TestErrorsCarryLineNumbers(t *testing.T) {
	res := Validate("Stack {\n    size() -> int\n    broken line\n}")
	if res.Valid {
		t.Fatal("malformed document accepted")
	}
	if res.Errors[0].Line != 3 {
		t.Errorf("error line = %d, want 3", res.Errors[0].Line)
	}
}
