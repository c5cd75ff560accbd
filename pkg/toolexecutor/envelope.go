package toolexecutor

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/harun/dbperms-mcp/pkg/apierr"
)

// Envelope is the uniform result of a tool call. Text is the JSON payload of
// a success or {"error": message} of a failure. Kind is KindNone on success.
type Envelope struct {
	Text string      `json:"text"`
	Kind apierr.Kind `json:"-"`
}

type errorPayload struct {
	Error string `json:"error"`
}

// IsError reports whether the envelope carries a failure
func (e Envelope) IsError() bool {
	return e.Kind != apierr.KindNone
}

// Success wraps a JSON payload, keeping its bytes as given apart from
// surrounding whitespace. Empty payloads become {}.
func Success(payload json.RawMessage) Envelope {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return Envelope{Text: "{}"}
	}
	if !json.Valid(trimmed) {
		return Failure(apierr.Internal(errors.New("tool returned invalid JSON")))
	}
	return Envelope{Text: string(trimmed)}
}

// Failure wraps an error as {"error": message}
func Failure(err error) Envelope {
	kind := apierr.KindOf(err)
	if kind == apierr.KindNone {
		kind = apierr.KindInternal
	}

	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}

	text, marshalErr := json.Marshal(errorPayload{Error: msg})
	if marshalErr != nil {
		text = []byte(`{"error":"failed to encode error"}`)
	}
	return Envelope{Text: string(text), Kind: kind}
}
