package ledger

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// Redaction markers. The marker type survives in the entry so reports
// can still count what kind of data was submitted.
const (
	markerEmail       = "[REDACTED:email]"
	markerPhone       = "[REDACTED:phone]"
	markerPaymentCard = "[REDACTED:payment_card]"
	markerNationalID  = "[REDACTED:national_id]"
	markerNetworkAddr = "[REDACTED:network_address]"

	placeholderUnserializable = "[UNSERIALIZABLE]"
)

// Pattern order matters: cards before national IDs so a 16-digit card
// number is never half-matched as an SSN, and network addresses before
// phones so a dotted quad is never mistaken for a dotted phone number.
var redactions = []struct {
	pattern *regexp.Regexp
	marker  string
}{
	{regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), markerEmail},
	{regexp.MustCompile(`\b(?:\d[ \-]?){13,16}\b`), markerPaymentCard},
	{regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), markerNationalID},
	{regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`), markerNetworkAddr},
	{regexp.MustCompile(`\+?\d{1,3}[ \-.]?\(?\d{2,4}\)?[ \-.]?\d{3,4}[ \-.]?\d{3,4}\b`), markerPhone},
}

// sanitize flattens a detail payload into redacted strings. It never
// fails: values that do not serialize degrade to a typed placeholder.
func sanitize(details map[string]interface{}) map[string]string {
	if len(details) == 0 {
		return nil
	}
	out := make(map[string]string, len(details))
	for key, value := range details {
		out[key] = redact(stringify(value))
	}
	return out
}

func stringify(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return placeholderUnserializable
		}
		return string(data)
	}
}

func redact(s string) string {
	for _, r := range redactions {
		s = r.pattern.ReplaceAllString(s, r.marker)
	}
	return s
}
