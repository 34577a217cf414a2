package oracle

import (
	"encoding/json"
	"errors"
	"strings"
)

// Intent is the structured routing decision the model returns for a
// natural-language message: which capability to invoke and with what
// arguments. An empty Action means "no capability matched, just chat".
type Intent struct {
	Action string            `json:"action"`
	Params map[string]string `json:"params"`
}

// ErrNoIntent reports that the reply carried no parseable JSON object.
var ErrNoIntent = errors.New("oracle: no intent in reply")

// ParseIntent pulls the routing decision out of a model reply. Models
// wrap JSON in prose or markdown fences more often than not, so the
// parse takes everything between the first '{' and the last '}' before
// decoding. Action is lowercased no/none/null-normalized to "".
func ParseIntent(reply string) (Intent, error) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end <= start {
		return Intent{}, ErrNoIntent
	}
	var in Intent
	if err := json.Unmarshal([]byte(reply[start:end+1]), &in); err != nil {
		// Some models emit params with non-string values; retry with a
		// loose decode and stringify scalars.
		loose, lerr := parseLoose(reply[start : end+1])
		if lerr != nil {
			return Intent{}, errors.Join(ErrNoIntent, err)
		}
		in = loose
	}
	in.Action = strings.ToUpper(strings.TrimSpace(in.Action))
	switch in.Action {
	case "NO", "NONE", "NULL", "CHAT":
		in.Action = ""
	}
	if in.Params == nil {
		in.Params = map[string]string{}
	}
	return in, nil
}

func parseLoose(raw string) (Intent, error) {
	var generic struct {
		Action string         `json:"action"`
		Params map[string]any `json:"params"`
	}
	if err := json.Unmarshal([]byte(raw), &generic); err != nil {
		return Intent{}, err
	}
	in := Intent{Action: generic.Action, Params: map[string]string{}}
	for k, v := range generic.Params {
		switch t := v.(type) {
		case string:
			in.Params[k] = t
		case float64:
			b, _ := json.Marshal(t)
			in.Params[k] = string(b)
		case bool:
			if t {
				in.Params[k] = "true"
			} else {
				in.Params[k] = "false"
			}
		case nil:
			// drop nulls
		default:
			b, _ := json.Marshal(t)
			in.Params[k] = string(b)
		}
	}
	return in, nil
}
