package schemas

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidPayload is returned when a save body matches none of the accepted shapes.
var ErrInvalidPayload = errors.New("invalid payload")

// Recording is the committed result of one recording session.
type Recording struct {
	// StartURL is nil only when recording began on a non-http(s) page and no
	// navigation has been observed since.
	StartURL *string  `json:"startUrl"`
	Actions  []Action `json:"actions"`
}

// Session is the orchestrator state mirrored into the durable backup slot.
type Session struct {
	ID       string   `json:"id,omitempty"`
	StartURL *string  `json:"startUrl"`
	Actions  []Action `json:"actions"`
	// Active is set from START until a successful upload, so an interrupted
	// session can still be committed after a restart.
	Active bool `json:"active"`
}

// Recording returns the uploadable view of the session.
func (s Session) Recording() Recording {
	actions := s.Actions
	if actions == nil {
		actions = []Action{}
	}
	return Recording{StartURL: s.StartURL, Actions: actions}
}

// StoredRecording is the on-disk form kept by the storage service. Actions are
// held as raw JSON so that kinds unknown to this build are preserved verbatim.
type StoredRecording struct {
	StartURL *string           `json:"startUrl"`
	Actions  []json.RawMessage `json:"actions"`
}

// savePayload covers the two object shapes accepted by the save endpoint.
type savePayload struct {
	StartURL json.RawMessage `json:"startUrl"`
	Actions  json.RawMessage `json:"actions"`
}

// ParseSavePayload normalizes a save request body. Three shapes are accepted:
// a bare array of actions, an object with an actions array, and an object whose
// actions field is a JSON-encoded array string. A missing or falsy startUrl
// normalizes to nil.
func ParseSavePayload(body []byte) (*StoredRecording, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, ErrInvalidPayload
	}

	switch trimmed[0] {
	case '[':
		actions, err := decodeActionArray(trimmed)
		if err != nil {
			return nil, err
		}
		return &StoredRecording{Actions: actions}, nil
	case '{':
	default:
		return nil, ErrInvalidPayload
	}

	var p savePayload
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	raw := bytes.TrimSpace(p.Actions)
	if len(raw) == 0 {
		return nil, ErrInvalidPayload
	}

	var actions []json.RawMessage
	switch raw[0] {
	case '[':
		a, err := decodeActionArray(raw)
		if err != nil {
			return nil, err
		}
		actions = a
	case '"':
		var encoded string
		if err := json.Unmarshal(raw, &encoded); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		a, err := decodeActionArray(bytes.TrimSpace([]byte(encoded)))
		if err != nil {
			return nil, err
		}
		actions = a
	default:
		return nil, ErrInvalidPayload
	}

	return &StoredRecording{StartURL: truthyString(p.StartURL), Actions: actions}, nil
}

func decodeActionArray(raw []byte) ([]json.RawMessage, error) {
	if len(raw) == 0 || raw[0] != '[' {
		return nil, ErrInvalidPayload
	}
	var actions []json.RawMessage
	if err := json.Unmarshal(raw, &actions); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if actions == nil {
		actions = []json.RawMessage{}
	}
	return actions, nil
}

// truthyString keeps a startUrl only when it is a non-empty string. Other JSON
// values (null, false, numbers) are treated as absent.
func truthyString(raw json.RawMessage) *string {
	if len(raw) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil || s == "" {
		return nil
	}
	return &s
}
