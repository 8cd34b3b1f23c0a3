package domain

import (
	"context"
	"time"
)

// UserRepository defines persistence operations for users. Lookups of absent users
// return ErrNotFound.
type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	Search(ctx context.Context, query string, limit int) ([]*User, error)
	// UpdatePassword stores a new hash and bumps the token version in one statement.
	UpdatePassword(ctx context.Context, id, hashedPassword string) (int, error)
	BumpTokenVersion(ctx context.Context, id string) (int, error)
	// UpdateProfile stores names and email. When bumpVersion is set the token
	// version is incremented in the same statement. u.TokenVersion and
	// u.UpdatedAt are refreshed. A taken email returns ErrConflict.
	UpdateProfile(ctx context.Context, u *User, bumpVersion bool) error
	// Delete removes the user together with their private conversations and the
	// messages they sent. Groups they administered pass to the longest-standing
	// remaining member, or are removed when none is left.
	Delete(ctx context.Context, id string) error
}

// ConversationRepository defines persistence operations for private conversations.
type ConversationRepository interface {
	// GetOrCreatePrivate returns the single conversation for the unordered pair,
	// creating it when absent. created reports whether this call inserted it.
	GetOrCreatePrivate(ctx context.Context, userA, userB string) (conv *Conversation, created bool, err error)
	GetByID(ctx context.Context, id string) (*Conversation, error)
	ListForUser(ctx context.Context, userID string) ([]*Conversation, error)
	Delete(ctx context.Context, id string) error
}

// GroupRepository defines persistence operations for group chats.
type GroupRepository interface {
	Create(ctx context.Context, g *GroupChat) error
	GetByID(ctx context.Context, id string) (*GroupChat, error)
	ListForUser(ctx context.Context, userID string) ([]*GroupChat, error)
	// AddMember returns ErrConflict when the user is already a member.
	AddMember(ctx context.Context, groupID, userID string) error
	Delete(ctx context.Context, id string) error
}

// MessageRepository defines persistence operations for messages.
type MessageRepository interface {
	// Append inserts the message and moves the room's latest-message pointer in one
	// transaction. A failed pointer update does not discard the message; it is reported
	// through summaryUpdated=false.
	Append(ctx context.Context, m *Message) (summaryUpdated bool, err error)
	GetByID(ctx context.Context, id string) (*Message, error)
	ListByRoom(ctx context.Context, room RoomRef) ([]*Message, error)
	UpdateContent(ctx context.Context, id, content string, at time.Time) error
	// Delete removes the message and repoints the room summary if it referenced it.
	Delete(ctx context.Context, id string) error
	DeleteByRoom(ctx context.Context, room RoomRef) (int64, error)
	MarkRoomRead(ctx context.Context, room RoomRef, userID string) (int64, error)
}
