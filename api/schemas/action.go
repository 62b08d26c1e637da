package schemas

import (
	"errors"
	"fmt"
	"time"
)

// ActionKind is the discriminator carried in the "action" field of a recorded step.
type ActionKind string

const (
	KindNavigate ActionKind = "navigate"
	KindClick    ActionKind = "click"
	KindType     ActionKind = "type"
)

// SelectorPrefix marks a locator as a CSS selector for the playback engine.
const SelectorPrefix = "css="

var (
	// ErrUnknownAction is returned for an action whose discriminator is not navigate, click or type.
	ErrUnknownAction = errors.New("unknown action")
	// ErrInvalidAction is returned when a known action is missing a required field.
	ErrInvalidAction = errors.New("invalid action")
)

// Action is a single recorded user operation. Only the fields relevant to the
// Action kind are populated; the rest are omitted from the JSON form.
type Action struct {
	Action   ActionKind `json:"action"`
	URL      string     `json:"url,omitempty"`
	Selector string     `json:"selector,omitempty"`
	// Value is a pointer so a cleared field ("") survives serialization while an
	// absent value can still be told apart before sanitization.
	Value *string `json:"value,omitempty"`
	// Time is milliseconds since the Unix epoch, stamped by the producer.
	Time int64 `json:"time"`
}

// NewNavigate builds a navigate action stamped at the given time.
func NewNavigate(url string, at time.Time) Action {
	return Action{Action: KindNavigate, URL: url, Time: at.UnixMilli()}
}

// NewClick builds a click action stamped at the given time.
func NewClick(selector string, at time.Time) Action {
	return Action{Action: KindClick, Selector: selector, Time: at.UnixMilli()}
}

// NewType builds a type action carrying the element's full text.
func NewType(selector, value string, at time.Time) Action {
	v := value
	return Action{Action: KindType, Selector: selector, Value: &v, Time: at.UnixMilli()}
}

// Validate checks the action against the schema. Unknown kinds yield ErrUnknownAction.
func (a Action) Validate() error {
	switch a.Action {
	case KindNavigate:
		if a.URL == "" {
			return fmt.Errorf("%w: navigate requires a url", ErrInvalidAction)
		}
	case KindClick, KindType:
		if a.Selector == "" {
			return fmt.Errorf("%w: %s requires a selector", ErrInvalidAction, a.Action)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, a.Action)
	}
	return nil
}

// Sanitize returns a copy of the action in which a type action without a value
// carries the empty string instead.
func (a Action) Sanitize() Action {
	if a.Action == KindType && a.Value == nil {
		empty := ""
		a.Value = &empty
	}
	return a
}

// TextValue returns the action value, or "" when unset.
func (a Action) TextValue() string {
	if a.Value == nil {
		return ""
	}
	return *a.Value
}

// String renders a short human form, used in logs and the CLI.
func (a Action) String() string {
	switch a.Action {
	case KindNavigate:
		return fmt.Sprintf("navigate %s", a.URL)
	case KindClick:
		return fmt.Sprintf("click %s", a.Selector)
	case KindType:
		return fmt.Sprintf("type %s -> %q", a.Selector, a.TextValue())
	default:
		return string(a.Action)
	}
}
