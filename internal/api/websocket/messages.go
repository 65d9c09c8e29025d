package websocket

import (
	"time"

	"github.com/KevinKickass/OpenMotionCore/internal/report"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// Machine messages mirror report event types
	MessageTypeStatus   MessageType = MessageType(report.EventStatus)
	MessageTypeState    MessageType = MessageType(report.EventState)
	MessageTypeAlarm    MessageType = MessageType(report.EventAlarm)
	MessageTypeFeedback MessageType = MessageType(report.EventFeedback)
	MessageTypeHoming   MessageType = MessageType(report.EventHoming)

	// Connection messages
	MessageTypeAuthSuccess MessageType = "auth_success"
	MessageTypeAuthFailed  MessageType = "auth_failed"
	MessageTypeError       MessageType = "error"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// ClientMessage is a message sent by a client. Realtime requests carry the
// signal or override name in Name.
type ClientMessage struct {
	Type  string `json:"type"`
	Token string `json:"token,omitempty"`
	Name  string `json:"name,omitempty"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data interface{}) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// NewEventMessage converts a report event.
func NewEventMessage(ev report.Event) Message {
	msg := Message{Type: MessageType(ev.Type), Timestamp: ev.Timestamp}
	switch ev.Type {
	case report.EventStatus:
		msg.Data = ev.Status
	case report.EventState:
		msg.Data = ev.State
	case report.EventAlarm:
		msg.Data = ev.Alarm
	case report.EventHoming:
		msg.Data = ev.Homing
	case report.EventFeedback:
		msg.Data = ev.Feedback
	}
	return msg
}
