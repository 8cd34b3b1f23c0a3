package domain

import "strings"

// RoomKind tells the two addressable room variants apart.
type RoomKind string

const (
	RoomPrivate RoomKind = "private"
	RoomGroup   RoomKind = "group"
)

// RoomRef names exactly one room: a private conversation or a group chat.
type RoomRef struct {
	Kind RoomKind
	ID   string
}

func PrivateRoom(conversationID string) RoomRef {
	return RoomRef{Kind: RoomPrivate, ID: conversationID}
}

func GroupRoom(chatID string) RoomRef {
	return RoomRef{Kind: RoomGroup, ID: chatID}
}

// NewRoomRef builds a reference from the two optional wire fields. Exactly one of them
// must be set.
func NewRoomRef(conversationID, chatID string) (RoomRef, error) {
	conversationID = strings.TrimSpace(conversationID)
	chatID = strings.TrimSpace(chatID)
	switch {
	case conversationID != "" && chatID != "":
		return RoomRef{}, Errorf(ErrInvalidInput, "provide either conversationId or chatId, not both")
	case conversationID != "":
		return PrivateRoom(conversationID), nil
	case chatID != "":
		return GroupRoom(chatID), nil
	default:
		return RoomRef{}, Errorf(ErrInvalidInput, "conversationId or chatId is required")
	}
}

// Validate rejects zero values and unknown kinds.
func (r RoomRef) Validate() error {
	if r.ID == "" {
		return Errorf(ErrInvalidInput, "room id is required")
	}
	if r.Kind != RoomPrivate && r.Kind != RoomGroup {
		return Errorf(ErrInvalidInput, "unknown room kind %q", r.Kind)
	}
	return nil
}

// ConversationID returns the id when the room is private, nil otherwise.
func (r RoomRef) ConversationID() *string {
	if r.Kind != RoomPrivate {
		return nil
	}
	id := r.ID
	return &id
}

// ChatID returns the id when the room is a group, nil otherwise.
func (r RoomRef) ChatID() *string {
	if r.Kind != RoomGroup {
		return nil
	}
	id := r.ID
	return &id
}

func (r RoomRef) String() string { return string(r.Kind) + ":" + r.ID }

// PairKey is the canonical key of an unordered user pair. The store keeps it unique so
// that each pair has at most one private conversation.
func PairKey(userA, userB string) string {
	if userB < userA {
		userA, userB = userB, userA
	}
	return userA + ":" + userB
}
