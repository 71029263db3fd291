package realtime

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/PaulBabatuyi/roomchat/internal/data"
)

// Inbound event names.
const (
	EventJoinChat    = "join_chat"
	EventLeaveChat   = "leave_chat"
	EventSendMessage = "send_message"
	EventMarkAsRead  = "mark_as_read"
)

// Outbound event names.
const (
	EventJoinedChat   = "joined_chat"
	EventLeftChat     = "left_chat"
	EventNewMessage   = "new_message"
	EventMessagesRead = "messages_read"
	EventError        = "error"
	EventChatDeleted  = "chat_deleted"
	EventChatCreated  = "chat_created"
	EventChatUpdated  = "chat_updated"
	// EventRemovedFromChat tells a user's connections they were taken out of
	// a group; the conversation id is the payload.
	EventRemovedFromChat = "removed_from_chat"
)

// Envelope is the wire frame shared by every transport:
// {"event": "<name>", "data": <payload>}.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Event is an outbound event. Data is encoded as the envelope's payload.
type Event struct {
	Name string
	Data any
}

func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Event string `json:"event"`
		Data  any    `json:"data,omitempty"`
	}{e.Name, e.Data})
}

// Inbound is one of JoinChat, LeaveChat, SendMessage or MarkAsRead.
type Inbound interface {
	EventName() string
}

type JoinChat struct {
	ConversationID string
}

type LeaveChat struct {
	ConversationID string
}

type SendMessage struct {
	ConversationID string   `json:"conversationId"`
	Content        string   `json:"content,omitempty"`
	MessageType    string   `json:"messageType,omitempty"`
	MediaURL       string   `json:"mediaUrl,omitempty"`
	MediaURLs      []string `json:"mediaUrls,omitempty"`
	ImageCount     int      `json:"imageCount,omitempty"`
}

type MarkAsRead struct {
	ConversationID string   `json:"conversationId"`
	MessageIDs     []string `json:"messageIds"`
}

func (JoinChat) EventName() string    { return EventJoinChat }
func (LeaveChat) EventName() string   { return EventLeaveChat }
func (SendMessage) EventName() string { return EventSendMessage }
func (MarkAsRead) EventName() string  { return EventMarkAsRead }

// ReadUpdate is the messages_read payload.
type ReadUpdate struct {
	ConversationID string   `json:"conversationId"`
	MessageIDs     []string `json:"messageIds"`
	UserID         string   `json:"userId"`
	// Changed counts messages whose readBy actually grew.
	Changed int `json:"-"`
}

// ErrorPayload is the error event payload.
type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// ParseInbound decodes a raw envelope into its typed variant. Unknown event
// names and malformed payloads yield validation errors.
func ParseInbound(raw []byte) (Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, validationError(fmt.Errorf("%w: %v", ErrMalformedPayload, err))
	}
	return DecodeInbound(env)
}

// DecodeInbound converts an envelope into its typed variant.
func DecodeInbound(env Envelope) (Inbound, error) {
	switch env.Event {
	case EventJoinChat:
		id, err := decodeConversationRef(env.Data)
		if err != nil {
			return nil, err
		}
		return JoinChat{ConversationID: id}, nil
	case EventLeaveChat:
		id, err := decodeConversationRef(env.Data)
		if err != nil {
			return nil, err
		}
		return LeaveChat{ConversationID: id}, nil
	case EventSendMessage:
		var m SendMessage
		if err := decodePayload(env.Data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case EventMarkAsRead:
		var m MarkAsRead
		if err := decodePayload(env.Data, &m); err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, validationError(fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event))
	}
}

// decodeConversationRef accepts a bare id string or {"conversationId": id}.
func decodeConversationRef(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '{' {
		var obj struct {
			ConversationID string `json:"conversationId"`
		}
		if err := decodePayload(raw, &obj); err != nil {
			return "", err
		}
		return obj.ConversationID, nil
	}
	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		return "", validationError(fmt.Errorf("%w: %v", ErrMalformedPayload, err))
	}
	return id, nil
}

func decodePayload(raw json.RawMessage, v any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return validationError(fmt.Errorf("%w: missing data", ErrMalformedPayload))
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return validationError(fmt.Errorf("%w: %v", ErrMalformedPayload, err))
	}
	return nil
}

func JoinedChat(conversationID string) Event {
	return Event{Name: EventJoinedChat, Data: conversationID}
}

func LeftChat(conversationID string) Event {
	return Event{Name: EventLeftChat, Data: conversationID}
}

func NewMessage(m *data.MessageView) Event {
	return Event{Name: EventNewMessage, Data: m}
}

func MessagesRead(u *ReadUpdate) Event {
	return Event{Name: EventMessagesRead, Data: u}
}

func ChatDeleted(conversationID string) Event {
	return Event{Name: EventChatDeleted, Data: conversationID}
}

func ChatCreated(c *data.Chat) Event {
	return Event{Name: EventChatCreated, Data: c}
}

func ChatUpdated(c *data.Chat) Event {
	return Event{Name: EventChatUpdated, Data: c}
}

func RemovedFromChat(conversationID string) Event {
	return Event{Name: EventRemovedFromChat, Data: conversationID}
}

// ErrorEvent renders err for the originating connection. Storage failures
// are reported without their cause.
func ErrorEvent(err error) Event {
	kind := KindOf(err)
	msg := err.Error()
	if kind == KindStorage || kind == KindInternal {
		msg = "temporary server error, please retry"
	}
	return Event{Name: EventError, Data: ErrorPayload{Message: msg, Code: kind.String()}}
}
