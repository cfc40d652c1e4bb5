package jobs

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	domain "github.com/ahrav/stationsnap/internal/domain/jobs"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// EncodeMessage serializes a queue message as base64-encoded JSON, the
// encoding every producer in the system uses.
func EncodeMessage(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal queue message: %w", err)
	}

	out := make([]byte, base64.StdEncoding.EncodedLen(len(raw)))
	base64.StdEncoding.Encode(out, raw)
	return out, nil
}

// DecodeMessage is the single decode step for every queue payload. It accepts
// base64-encoded JSON or plain JSON, then validates the typed schema. Any
// failure wraps domain.ErrMalformedMessage.
func DecodeMessage(payload []byte, v any) error {
	data := bytes.TrimSpace(payload)
	if len(data) == 0 {
		return fmt.Errorf("%w: empty payload", domain.ErrMalformedMessage)
	}

	if decoded, err := base64.StdEncoding.DecodeString(string(data)); err == nil {
		data = bytes.TrimSpace(decoded)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedMessage, err)
	}

	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedMessage, err)
	}

	return nil
}
