package types

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// JobRequest is the payload consumed from the email queue. It is immutable
// once dequeued. JSON tags use snake_case to match the upstream producers.
type JobRequest struct {
	NotificationID string         `json:"notification_id" validate:"required"`
	UserID         string         `json:"user_id" validate:"required"`
	TemplateCode   string         `json:"template_code" validate:"required"`
	Variables      map[string]any `json:"variables"`
}

// DeadLetterRecord is the body published to the dead-letter destination.
// OriginalMessage carries the job exactly as it was received.
type DeadLetterRecord struct {
	OriginalMessage json.RawMessage `json:"original_message"`
	Error           string          `json:"error"`
}

// NewDeadLetterRecord wraps a raw message body. Bodies that are not valid JSON
// are embedded as a JSON string so the record itself always decodes.
func NewDeadLetterRecord(original []byte, errText string) DeadLetterRecord {
	raw := json.RawMessage(original)
	if len(original) == 0 || !json.Valid(original) {
		quoted, _ := json.Marshal(string(original))
		raw = quoted
	}
	return DeadLetterRecord{OriginalMessage: raw, Error: errText}
}

// StatusUpdate is the body POSTed to the status callback endpoint.
type StatusUpdate struct {
	NotificationID string `json:"notification_id"`
	Status         string `json:"status"`
	Error          string `json:"error,omitempty"`
}

// StringifyVariables coerces template variables to strings. nil becomes "",
// numbers keep their shortest decimal form, booleans become "true"/"false",
// and nested objects or arrays are JSON-encoded.
func StringifyVariables(vars map[string]any) map[string]string {
	out := make(map[string]string, len(vars))
	for k, v := range vars {
		out[k] = stringify(v)
	}
	return out
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case fmt.Stringer:
		return val.String()
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	}
}
