package gateway

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/eldtechnologies/chatrelay/internal/logstream"
)

// MessageType is the numeric type of a socket frame.
type MessageType int

const (
	RoomJoining MessageType = iota + 1
	SendMessage
	Message
	Ack
	Thinking
	Control
)

func (t MessageType) String() string {
	switch t {
	case RoomJoining:
		return "ROOM_JOINING"
	case SendMessage:
		return "SEND_MESSAGE"
	case Message:
		return "MESSAGE"
	case Ack:
		return "ACK"
	case Thinking:
		return "THINKING"
	case Control:
		return "CONTROL"
	default:
		return "UNKNOWN"
	}
}

// Named inbound events.
const (
	EventSubscribeLogs    = "subscribe_logs"
	EventUnsubscribeLogs  = "unsubscribe_logs"
	EventUpdateLogFilters = "update_log_filters"
)

// Outbound event names.
const (
	EventConnectionEstablished = "connection_established"
	EventChannelJoined         = "channel_joined"
	EventRoomJoined            = "room_joined"
	EventMessageBroadcast      = "messageBroadcast"
	EventMessageAck            = "messageAck"
	EventMessageError          = "messageError"
	EventControlMessage        = "controlMessage"
	EventMessageDeleted        = "messageDeleted"
	EventChannelCleared        = "channelCleared"
	EventLogSubscription       = "log_subscription_confirmed"
	EventLogFiltersUpdated     = "log_filters_updated"
	EventLogStream             = "log_stream"
)

// AckStatusProcessing is the status of a messageAck.
const AckStatusProcessing = "received_by_server_and_processing"

// Frame is an inbound socket frame. Type is either a MessageType number or
// a named event.
type Frame struct {
	Type    json.RawMessage `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Kind decodes the frame type. Exactly one of the results is set.
func (f Frame) Kind() (MessageType, string, error) {
	raw := strings.TrimSpace(string(f.Type))
	if raw == "" || raw == "null" {
		return 0, "", fmt.Errorf("frame type is required")
	}

	var n int
	if err := json.Unmarshal(f.Type, &n); err == nil {
		return MessageType(n), "", nil
	}

	var s string
	if err := json.Unmarshal(f.Type, &s); err != nil {
		return 0, "", fmt.Errorf("frame type must be a number or string")
	}
	if n, err := strconv.Atoi(s); err == nil {
		return MessageType(n), "", nil
	}
	return 0, s, nil
}

// OutFrame is an outbound socket frame.
type OutFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// JoinPayload is the payload of ROOM_JOINING.
type JoinPayload struct {
	ChannelID string         `json:"channelId"`
	RoomID    string         `json:"roomId"`
	EntityID  string         `json:"entityId"`
	ServerID  string         `json:"serverId"`
	Metadata  map[string]any `json:"metadata"`
}

// SendPayload is the payload of SEND_MESSAGE.
type SendPayload struct {
	ChannelID       string         `json:"channelId"`
	RoomID          string         `json:"roomId"`
	ServerID        string         `json:"serverId"`
	SenderID        string         `json:"senderId"`
	SenderName      string         `json:"senderName"`
	Message         string         `json:"message"`
	Source          string         `json:"source"`
	TargetUserID    string         `json:"targetUserId"`
	ClientMessageID string         `json:"messageId"`
	InReplyTo       string         `json:"inReplyToMessageId"`
	Attachments     []any          `json:"attachments"`
	Metadata        map[string]any `json:"metadata"`
}

// LogFilterPayload is the payload of update_log_filters.
type LogFilterPayload struct {
	AgentName string          `json:"agentName"`
	Level     logstream.Level `json:"level"`
}

// ConnectionEstablished greets a new connection.
type ConnectionEstablished struct {
	SocketID string `json:"socketId"`
	Message  string `json:"message"`
}

// Joined acknowledges a join.
type Joined struct {
	ChannelID string `json:"channelId"`
	RoomID    string `json:"roomId"`
	Message   string `json:"message"`
}

// MessageBroadcast is delivered to every member of a channel.
type MessageBroadcast struct {
	ID          string         `json:"id"`
	Text        string         `json:"text"`
	SenderID    string         `json:"senderId"`
	SenderName  string         `json:"senderName,omitempty"`
	ChannelID   string         `json:"channelId"`
	RoomID      string         `json:"roomId"`
	ServerID    string         `json:"serverId"`
	CreatedAt   int64          `json:"createdAt"`
	Source      string         `json:"source"`
	Attachments []any          `json:"attachments,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// MessageAck confirms persistence to the sender.
type MessageAck struct {
	Status          string `json:"status"`
	MessageID       string `json:"messageId"`
	ChannelID       string `json:"channelId"`
	ClientMessageID string `json:"clientMessageId,omitempty"`
}

// MessageError reports a rejected request to its sender.
type MessageError struct {
	Error string `json:"error"`
}

// ControlMessage carries a CONTROL action to a channel.
type ControlMessage struct {
	Type      MessageType `json:"type"`
	Action    string      `json:"action"`
	Target    string      `json:"target,omitempty"`
	ChannelID string      `json:"channelId"`
}

// LogSubscription confirms a log stream (un)subscription.
type LogSubscription struct {
	Subscribed bool   `json:"subscribed"`
	Message    string `json:"message"`
}

// LogFiltersUpdated confirms new log filters.
type LogFiltersUpdated struct {
	Success bool             `json:"success"`
	Filters logstream.Filter `json:"filters"`
}

// LogStream wraps one streamed log entry.
type LogStream struct {
	Type    string          `json:"type"`
	Payload logstream.Entry `json:"payload"`
}
