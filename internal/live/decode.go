package live

import (
	"encoding/json"
	"fmt"

	"github.com/emberwatch/ember/internal/models"
)

// Kind identifies one of the closed set of live mutation kinds.
type Kind string

const (
	KindSubscribers  Kind = "subscribers"
	KindSubscribe    Kind = "subscribe"
	KindUnsubscribe  Kind = "unsubscribe"
	KindCreateEvent  Kind = "create_event"
	KindStarEvent    Kind = "star_event"
	KindTrashEvent   Kind = "trash_event"
	KindDeleteEvent  Kind = "delete_event"
	KindRestoreEvent Kind = "restore_event"
	KindUpdateCase   Kind = "update_case"
	KindDeleteCase   Kind = "delete_case"
)

// Message is one decoded live mutation. Only the fields relevant to the Kind
// are populated.
type Message struct {
	Kind Kind

	// Case carries the full case metadata on update_case.
	Case *models.Case

	// Event carries the event payload on the *_event kinds. For star_event
	// only GUID and Starred are meaningful.
	Event *models.Event

	// Usernames is the full roster on subscribers.
	Usernames []string

	// Username is the single operator on subscribe/unsubscribe.
	Username string
}

// envelope is the wire shape of one live message: a category discriminator,
// the owning case and a category-specific extension payload.
type envelope struct {
	Source   string          `json:"source"`
	Category string          `json:"category"`
	Case     *models.Case    `json:"case,omitempty"`
	Ext      json.RawMessage `json:"ext,omitempty"`
}

type rosterExt struct {
	Username  string   `json:"username"`
	Usernames []string `json:"usernames"`
}

// Decode parses one wire message. Unknown categories return ok=false with no
// error: they are ignored as a forward-compatible default.
func Decode(data []byte) (Message, bool, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{}, false, fmt.Errorf("decode envelope: %w", err)
	}

	msg := Message{Kind: Kind(env.Category), Case: env.Case}
	switch msg.Kind {
	case KindSubscribers, KindSubscribe, KindUnsubscribe:
		var ext rosterExt
		if len(env.Ext) > 0 {
			if err := json.Unmarshal(env.Ext, &ext); err != nil {
				return Message{}, false, fmt.Errorf("decode %s ext: %w", env.Category, err)
			}
		}
		msg.Username = ext.Username
		msg.Usernames = ext.Usernames
		return msg, true, nil

	case KindCreateEvent, KindStarEvent, KindTrashEvent, KindDeleteEvent, KindRestoreEvent:
		var ev models.Event
		if err := json.Unmarshal(env.Ext, &ev); err != nil {
			return Message{}, false, fmt.Errorf("decode %s ext: %w", env.Category, err)
		}
		msg.Event = &ev
		return msg, true, nil

	case KindUpdateCase:
		if msg.Case == nil && len(env.Ext) > 0 {
			// Some producers nest the case under ext instead.
			var ext struct {
				Case *models.Case `json:"case"`
			}
			if err := json.Unmarshal(env.Ext, &ext); err != nil {
				return Message{}, false, fmt.Errorf("decode update_case ext: %w", err)
			}
			msg.Case = ext.Case
		}
		if msg.Case == nil {
			return Message{}, false, fmt.Errorf("update_case without case payload")
		}
		return msg, true, nil

	case KindDeleteCase:
		return msg, true, nil
	}

	return Message{}, false, nil
}
