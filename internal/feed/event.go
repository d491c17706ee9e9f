package feed

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Kind tags a decoded channel event. The set is closed: anything the decoder
// does not recognize comes back as KindUnknown and is dropped downstream.
type Kind int

const (
	KindUnknown Kind = iota
	KindPong
	KindNotification
	KindUpdate
)

// String returns the wire tag for the kind.
func (k Kind) String() string {
	switch k {
	case KindPong:
		return "pong"
	case KindNotification:
		return "notification"
	case KindUpdate:
		return "update"
	default:
		return "unknown"
	}
}

// Component names for update events.
const (
	ComponentStats = "stats"
	ComponentUsers = "users"
)

// Event is a channel message decoded once at the boundary. Exactly one of
// Notification/Update is set, matching Kind.
type Event struct {
	Kind         Kind
	RawType      string // Wire tag, kept for logging unknown kinds
	Notification *Notification
	Update       *Update
}

// Notification carries a user-facing message and its severity category.
type Notification struct {
	Message  string
	Category string
}

// Update carries a component-keyed live update. Stats is populated for the
// "stats" component, Users for the "users" component; other component names
// pass through with both zero so the dispatcher can log and drop them.
type Update struct {
	Component string
	Stats     map[string]string
	Users     int64
}

// envelope is the wire shape shared by all inbound messages.
type envelope struct {
	Type      string          `json:"type"`
	Message   string          `json:"message"`
	Category  string          `json:"category"`
	Component string          `json:"component"`
	Data      json.RawMessage `json:"data"`
}

// Decode parses a raw channel message into an Event. A structural parse
// failure is an error; an unrecognized type tag is not, it decodes to
// KindUnknown so the caller can drop it without treating it as a failure.
func Decode(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, fmt.Errorf("parse message: %w", err)
	}
	if env.Type == "" {
		return Event{}, fmt.Errorf("message has no type tag")
	}

	switch env.Type {
	case "pong":
		return Event{Kind: KindPong, RawType: env.Type}, nil

	case "notification":
		category := env.Category
		if category == "" {
			category = "info"
		}
		return Event{
			Kind:    KindNotification,
			RawType: env.Type,
			Notification: &Notification{
				Message:  env.Message,
				Category: category,
			},
		}, nil

	case "update":
		upd, err := decodeUpdate(env)
		if err != nil {
			return Event{}, err
		}
		return Event{Kind: KindUpdate, RawType: env.Type, Update: upd}, nil

	default:
		return Event{Kind: KindUnknown, RawType: env.Type}, nil
	}
}

// decodeUpdate parses the component-specific data payload.
func decodeUpdate(env envelope) (*Update, error) {
	upd := &Update{Component: env.Component}

	switch env.Component {
	case ComponentStats:
		var values map[string]json.RawMessage
		if err := json.Unmarshal(env.Data, &values); err != nil {
			return nil, fmt.Errorf("parse stats data: %w", err)
		}
		upd.Stats = make(map[string]string, len(values))
		for key, raw := range values {
			upd.Stats[key] = renderValue(raw)
		}

	case ComponentUsers:
		var count int64
		if err := json.Unmarshal(env.Data, &count); err != nil {
			return nil, fmt.Errorf("parse users data: %w", err)
		}
		upd.Users = count
	}

	// Unknown components keep only the name; the dispatcher drops them.
	return upd, nil
}

// renderValue converts a JSON scalar to its display text: strings lose
// their quotes, numbers keep their wire lexeme, everything else stays raw.
func renderValue(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return strconv.FormatBool(b)
	}
	return string(raw)
}
