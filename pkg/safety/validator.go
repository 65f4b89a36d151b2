package safety

import (
	"fmt"
	"strings"

	"github.com/sameehj/gencad/pkg/errinfo"
)

// Verdict is the immutable outcome of Validate.
type Verdict struct {
	Accepted bool         `json:"accepted"`
	Reason   errinfo.Kind `json:"reason,omitempty"`
	Message  string       `json:"message"`
	// Pattern is the rule that decided a rejection, if any.
	Pattern string `json:"pattern,omitempty"`
}

// Err converts a rejection into a pipeline error. It returns nil for an
// accepted verdict.
func (v Verdict) Err() error {
	if v.Accepted {
		return nil
	}
	return errinfo.New(v.Reason, "%s", v.Message)
}

// Validator is the pre-execution screen. It is safe for concurrent use.
type Validator struct {
	denied []Rule
}

// NewValidator returns a validator using the built-in denylist followed by extra.
func NewValidator(extra ...Rule) (*Validator, error) {
	denied := DeniedRules()
	for _, r := range extra {
		if strings.TrimSpace(r.Pattern) == "" {
			return nil, fmt.Errorf("deny rule with empty pattern")
		}
		c, err := r.compile()
		if err != nil {
			return nil, err
		}
		denied = append(denied, c)
	}
	return &Validator{denied: denied}, nil
}

// Default returns a validator with only the built-in rules.
func Default() *Validator {
	return &Validator{denied: DeniedRules()}
}

// Validate runs the checks in order and stops at the first failure.
func (v *Validator) Validate(source string) Verdict {
	if strings.TrimSpace(source) == "" {
		return reject(errinfo.KindEmptyScript, "", "Script is empty or contains only whitespace")
	}

	for _, r := range compiledRequired {
		if !r.match(source) {
			return reject(errinfo.KindMissingRequiredImport, r.Pattern,
				fmt.Sprintf("Missing required import matching pattern: %s", r.Pattern))
		}
	}

	if !compiledInit.match(source) {
		return reject(errinfo.KindNotAValidScript, compiledInit.Pattern,
			"Script does not appear to be a valid FreeCAD Python script (missing FreeCAD.newDocument()). Possible hallucination or invalid response.")
	}

	if !anyMatch(compiledOperations, source) {
		return reject(errinfo.KindNoRecognizedOperations, "", "Script does not contain recognizable FreeCAD operations")
	}

	for _, r := range v.denied {
		if r.match(source) {
			return reject(errinfo.KindDangerousOperation, r.Pattern,
				fmt.Sprintf("Script contains potentially dangerous operation: %s", r.Pattern))
		}
	}

	return Verdict{Accepted: true, Message: "Script validation passed"}
}

// Rules returns the denylist this validator evaluates, in order.
func (v *Validator) Rules() []Rule {
	out := make([]Rule, len(v.denied))
	copy(out, v.denied)
	return out
}

func anyMatch(rules []Rule, text string) bool {
	for _, r := range rules {
		if r.match(text) {
			return true
		}
	}
	return false
}

func reject(kind errinfo.Kind, pattern, msg string) Verdict {
	return Verdict{Reason: kind, Message: msg, Pattern: pattern}
}
