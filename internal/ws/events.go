package ws

import (
	"encoding/json"
	"strings"

	"chatbackend/internal/domain"
)

// Client to server events.
const (
	EventJoinChat       = "joinChat"
	EventLeaveChat      = "leaveChat"
	EventSendMessage    = "sendMessage"
	EventTyping         = "typing"
	EventGetOnlineUsers = "getOnlineUsers"
	EventMarkRead       = "markRead"
)

// Server to client events.
const (
	EventOnlineUsers         = "onlineUsers"
	EventUserOnline          = "userOnline"
	EventUserOffline         = "userOffline"
	EventJoinedChat          = "joinedChat"
	EventLeftChat            = "leftChat"
	EventReceiveMessage      = "receiveMessage"
	EventMessageSent         = "messageSent"
	EventMessageUpdated      = "messageUpdated"
	EventMessageDeleted      = "messageDeleted"
	EventUserTyping          = "userTyping"
	EventMessagesRead        = "messagesRead"
	EventConversationCreated = "conversationCreated"
	EventChatCreated         = "chatCreated"
	EventMemberAdded         = "memberAdded"
	EventRoomDeleted         = "roomDeleted"
	EventError               = "errorMessage"
)

// Frame is the envelope of every realtime message in both directions.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type outFrame struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

func encodeFrame(event string, payload any) ([]byte, error) {
	return json.Marshal(outFrame{Type: event, Data: payload})
}

type RoomPayload struct {
	RoomID string `json:"roomId"`
}

type UserPayload struct {
	UserID string `json:"userId"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}

type TypingPayload struct {
	RoomID   string `json:"roomId"`
	IsTyping bool   `json:"isTyping"`
}

type UserTypingPayload struct {
	UserID   string `json:"userId"`
	RoomID   string `json:"roomId"`
	IsTyping bool   `json:"isTyping"`
}

type MessageDeletedPayload struct {
	MessageID string `json:"messageId"`
	RoomID    string `json:"roomId"`
}

type MessagesReadPayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

type MemberAddedPayload struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
}

// SendMessagePayload carries exactly one of ConversationID or ChatID.
// Message is accepted as an alias of Content.
type SendMessagePayload struct {
	ConversationID string              `json:"conversationId"`
	ChatID         string              `json:"chatId"`
	Content        string              `json:"content"`
	Message        string              `json:"message"`
	Type           domain.MessageType  `json:"type"`
	Attachments    []domain.Attachment `json:"attachments"`
}

func (p SendMessagePayload) text() string {
	if p.Content != "" {
		return p.Content
	}
	return p.Message
}

// decodeRoomID accepts either a bare JSON string or {"roomId": "..."}.
func decodeRoomID(data json.RawMessage) (string, error) {
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		return strings.TrimSpace(id), nil
	}
	var p RoomPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return "", domain.Errorf(domain.ErrInvalidInput, "room id is required")
	}
	return strings.TrimSpace(p.RoomID), nil
}
