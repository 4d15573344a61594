package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var (
	reDecimal = regexp.MustCompile(`^-?\d+(\.\d{1,2})?$`)
	reDate    = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	optMoney  = []string{"tax_amount"} // optional money fields only
)

// SanitizeOptionalFields removes or normalizes optional fields that don't meet our stricter schema,
// so the overall document can still validate. We only touch OPTIONALS.
func SanitizeOptionalFields(doc []byte) ([]byte, []string, error) {
	var m map[string]any
	if err := json.Unmarshal(doc, &m); err != nil {
		return nil, nil, err
	}

	var dropped []string

	coerceMoney := func(m map[string]any, k string) {
		v, ok := m[k]
		if !ok {
			return
		}
		switch t := v.(type) {
		case nil:
			delete(m, k)
			dropped = append(dropped, k+"(null)")
		case float64:
			m[k] = fmt.Sprintf("%.2f", t)
		case string:
			s := strings.TrimSpace(t)
			if s == "" || strings.EqualFold(s, "null") || !reDecimal.MatchString(s) {
				delete(m, k)
				dropped = append(dropped, k+"(invalid)")
			} else {
				m[k] = s
			}
		default:
			delete(m, k)
			dropped = append(dropped, k+"(type)")
		}
	}

	for _, k := range optMoney {
		coerceMoney(m, k)
	}

	// currency_code: required overall; still normalize casing if present
	if v, ok := m["currency_code"].(string); ok {
		m["currency_code"] = strings.ToUpper(strings.TrimSpace(v))
	}

	// dates: drop optionals that don't match YYYY-MM-DD
	for _, k := range []string{"invoice_date", "due_date"} {
		if v, ok := m[k].(string); ok {
			s := strings.TrimSpace(v)
			if !reDate.MatchString(s) {
				delete(m, k)
				dropped = append(dropped, k+"(format)")
			} else {
				m[k] = s
			}
		}
	}

	// entries: amounts are optional per entry; normalize or drop them,
	// never drop the entry itself
	if raw, ok := m["entries"].([]any); ok {
		for _, e := range raw {
			if entry, ok := e.(map[string]any); ok {
				coerceMoney(entry, "amount")
				if v, ok := entry["entry_type"].(string); ok {
					entry["entry_type"] = strings.ToUpper(strings.TrimSpace(v))
				}
			}
		}
	}

	out, err := json.Marshal(m)
	if err != nil {
		return nil, dropped, err
	}
	return out, dropped, nil
}
