package domain

import "time"

// User represents an application user. TokenVersion is bumped to invalidate every
// token issued before the bump.
type User struct {
	ID             string    `db:"id" json:"id"`
	FirstName      string    `db:"first_name" json:"firstName"`
	LastName       string    `db:"last_name" json:"lastName"`
	Email          string    `db:"email" json:"email"`
	HashedPassword string    `db:"hashed_password" json:"-"`
	IsAdmin        bool      `db:"is_admin" json:"isAdmin"`
	TokenVersion   int       `db:"token_version" json:"-"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time `db:"updated_at" json:"updatedAt"`
}

// Conversation is a private room between exactly two users.
type Conversation struct {
	ID              string    `db:"id" json:"id"`
	Participants    []string  `json:"participants"`
	LatestMessageID *string   `db:"latest_message_id" json:"latestMessageId,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time `db:"updated_at" json:"updatedAt"`
}

// Room returns the conversation's room reference.
func (c *Conversation) Room() RoomRef { return PrivateRoom(c.ID) }

// GroupChat is a named room with three or more members at creation time.
type GroupChat struct {
	ID              string    `db:"id" json:"id"`
	Name            string    `db:"name" json:"name"`
	IsGroup         bool      `json:"isGroup"`
	Participants    []string  `json:"participants"`
	AdminID         string    `db:"admin_id" json:"admin"`
	LatestMessageID *string   `db:"latest_message_id" json:"latestMessageId,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time `db:"updated_at" json:"updatedAt"`
}

// Room returns the group's room reference.
func (g *GroupChat) Room() RoomRef { return GroupRoom(g.ID) }

// MessageType classifies message payloads.
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageVideo MessageType = "video"
	MessageFile  MessageType = "file"
)

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageVideo, MessageFile:
		return true
	}
	return false
}

// Attachment is a file referenced by a message.
type Attachment struct {
	URL      string `json:"url"`
	FileName string `json:"fileName"`
	FileType string `json:"fileType"`
}

// Message represents a single chat message. Content is stored encrypted at rest.
type Message struct {
	ID          string       `db:"id"`
	SenderID    string       `db:"sender_id"`
	Room        RoomRef      `db:"-"`
	Content     string       `db:"content"`
	Type        MessageType  `db:"message_type"`
	Attachments []Attachment `db:"attachments"`
	ReadBy      []string     `db:"-"`
	CreatedAt   time.Time    `db:"created_at"`
	UpdatedAt   time.Time    `db:"updated_at"`
}
