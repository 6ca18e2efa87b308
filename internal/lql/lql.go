// Package lql validates LQL interface descriptions.
//
// LQL is a small interface-description language used to pin down the method
// signatures generated code must implement:
//
//	Stack {
//	    push(java.lang.Object) -> java.lang.Object
//	    pop() -> java.lang.Object
//	    size() -> int
//	}
//
// The validator checks structure only. Whether the named types exist is the
// backend's problem.
package lql

import (
	"fmt"
	"regexp"
	"strings"
)

// Error describes one problem found in an LQL document.
type Error struct {
	Line    int
	Message string
}

func (e Error) String() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Message)
}

// Result is the outcome of validating an LQL document.
type Result struct {
	Valid  bool
	Errors []Error
}

// Interface is the parsed form of a valid LQL declaration.
type Interface struct {
	Name    string
	Methods []Method
}

// Method is one signature inside an interface declaration.
type Method struct {
	Name       string
	Params     []string
	ReturnType string
}

var (
	identRe = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)
	// Java-style type name, optionally qualified and optionally an array.
	typeRe   = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*(\.[A-Za-z_$][A-Za-z0-9_$]*)*(\[\])*$`)
	methodRe = regexp.MustCompile(`^([A-Za-z_$][A-Za-z0-9_$]*)\s*\(([^)]*)\)\s*->\s*(\S+)$`)
)

// Validate checks an LQL document and collects every structural problem it
// finds rather than stopping at the first.
func Validate(text string) Result {
	_, errs := parse(text)
	return Result{Valid: len(errs) == 0, Errors: errs}
}

// Parse returns the typed form of the document, or the first validation
// error.
func Parse(text string) (*Interface, error) {
	iface, errs := parse(text)
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid LQL: %s", errs[0])
	}
	return iface, nil
}

func parse(text string) (*Interface, []Error) {
	var errs []Error
	addErr := func(line int, format string, args ...interface{}) {
		errs = append(errs, Error{Line: line, Message: fmt.Sprintf(format, args...)})
	}

	if strings.TrimSpace(text) == "" {
		addErr(1, "document is empty")
		return nil, errs
	}

	iface := &Interface{}
	sawHeader := false
	sawClose := false

	for i, raw := range strings.Split(text, "\n") {
		lineNo := i + 1
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		switch {
		case !sawHeader:
			name, rest, ok := splitHeader(line)
			if !ok {
				addErr(lineNo, "expected interface header %q, got %q", "Name {", line)
				return nil, errs
			}
			if !identRe.MatchString(name) {
				addErr(lineNo, "invalid interface name %q", name)
			}
			iface.Name = name
			sawHeader = true
			// Allow a method on the same line as the header.
			if rest != "" && rest != "}" {
				if m, ok := parseMethod(rest, lineNo, addErr); ok {
					iface.Methods = append(iface.Methods, m)
				}
			}
			if rest == "}" {
				sawClose = true
			}

		case line == "}":
			if sawClose {
				addErr(lineNo, "unexpected %q after interface end", "}")
				continue
			}
			sawClose = true

		case sawClose:
			addErr(lineNo, "content after interface end: %q", line)

		default:
			if m, ok := parseMethod(line, lineNo, addErr); ok {
				iface.Methods = append(iface.Methods, m)
			}
		}
	}

	lastLine := strings.Count(text, "\n") + 1
	if sawHeader && !sawClose {
		addErr(lastLine, "missing closing %q", "}")
	}
	if sawHeader && sawClose && len(iface.Methods) == 0 {
		addErr(lastLine, "interface %q declares no methods", iface.Name)
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return iface, nil
}

// splitHeader recognizes "Name {" and returns anything that follows the
// brace on the same line.
func splitHeader(line string) (name, rest string, ok bool) {
	idx := strings.Index(line, "{")
	if idx < 0 {
		return "", "", false
	}
	name = strings.TrimSpace(line[:idx])
	rest = strings.TrimSpace(line[idx+1:])
	if name == "" {
		return "", "", false
	}
	return name, rest, true
}

func parseMethod(line string, lineNo int, addErr func(int, string, ...interface{})) (Method, bool) {
	m := methodRe.FindStringSubmatch(line)
	if m == nil {
		addErr(lineNo, "expected method signature %q, got %q", "name(paramTypes) -> returnType", line)
		return Method{}, false
	}

	method := Method{Name: m[1], ReturnType: m[3]}
	if !typeRe.MatchString(method.ReturnType) {
		addErr(lineNo, "invalid return type %q", method.ReturnType)
	}

	params := strings.TrimSpace(m[2])
	if params != "" {
		for _, p := range strings.Split(params, ",") {
			p = strings.TrimSpace(p)
			if !typeRe.MatchString(p) {
				addErr(lineNo, "invalid parameter type %q", p)
				continue
			}
			method.Params = append(method.Params, p)
		}
	}
	return method, true
}
