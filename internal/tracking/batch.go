package tracking

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/AngelCh415/leadscore/internal/validation"
)

// MaxBatch is the largest number of events accepted in one request.
const MaxBatch = 50

// ErrMalformed is returned for bodies that are not valid event JSON.
var ErrMalformed = errors.New("malformed event body")

// EventInput is one event as posted by a client.
type EventInput struct {
	EventID    string          `json:"event_id" validate:"required,max=128"`
	EventName  string          `json:"event_name" validate:"required,max=64"`
	Category   string          `json:"category" validate:"max=64"`
	PagePath   string          `json:"page_path" validate:"max=512"`
	LeadID     string          `json:"lead_id" validate:"max=64"`
	SessionID  string          `json:"session_id" validate:"max=128"`
	OccurredAt *time.Time      `json:"occurred_at"`
	Metadata   json.RawMessage `json:"metadata"`
}

type batch struct {
	Events []EventInput `json:"events" validate:"required,min=1,max=50,dive"`
}

// ParseBatch accepts a single event object or {"events":[...]} and
// validates every event. Any invalid event rejects the whole body.
func ParseBatch(body []byte) ([]EventInput, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '{' {
		return nil, fmt.Errorf("%w: expected a JSON object", ErrMalformed)
	}
	var envelope struct {
		Events json.RawMessage `json:"events"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var b batch
	if envelope.Events != nil {
		if err := json.Unmarshal(body, &b); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	} else {
		var ev EventInput
		if err := json.Unmarshal(body, &ev); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		b.Events = []EventInput{ev}
	}

	if err := validation.Struct(b); err != nil {
		return nil, err
	}
	var bad []validation.FieldError
	for i, ev := range b.Events {
		if !isObject(ev.Metadata) {
			bad = append(bad, validation.FieldError{
				Field:   fmt.Sprintf("events[%d].metadata", i),
				Tag:     "object",
				Message: fmt.Sprintf("events[%d].metadata must be an object", i),
			})
		}
	}
	if len(bad) > 0 {
		return nil, &validation.Error{Fields: bad}
	}
	return b.Events, nil
}

func isObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null")) || raw[0] == '{'
}
