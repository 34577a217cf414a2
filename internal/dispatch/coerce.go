package dispatch

import (
	"strconv"
	"strings"

	"aide/internal/skill"
)

// coerceArgs validates extracted parameters against the declared
// schema. Unknown extras are dropped; missing required params and
// values that do not parse for their kind produce a ValidationError
// with a message fit for the end user.
func coerceArgs(params []skill.Param, raw map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(params))
	for _, p := range params {
		v, ok := raw[p.Name]
		v = strings.TrimSpace(v)
		if !ok || v == "" {
			if p.Required {
				return nil, ValidationError{Param: p.Name, Reason: "please tell me the " + p.Name}
			}
			continue
		}
		switch p.Kind {
		case skill.KindNumber:
			if _, err := strconv.ParseFloat(normalizeNumber(v), 64); err != nil {
				return nil, ValidationError{Param: p.Name, Reason: "I expected a number, got " + strconv.Quote(v)}
			}
			out[p.Name] = normalizeNumber(v)
		case skill.KindDuration:
			when, err := ParseWhen(v)
			if err != nil {
				return nil, ValidationError{Param: p.Name, Reason: "I couldn't understand the time " + strconv.Quote(v)}
			}
			// Re-render canonically so handlers parse one format.
			out[p.Name] = when.Canonical()
		case skill.KindString, skill.KindText, "":
			out[p.Name] = v
		default:
			out[p.Name] = v
		}
	}
	return out, nil
}

func normalizeNumber(s string) string {
	return strings.TrimSuffix(strings.TrimSpace(s), ".0")
}
