package domain_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatbackend/internal/domain"
)

func TestNewRoomRef(t *testing.T) {
	t.Run("Private", func(t *testing.T) {
		ref, err := domain.NewRoomRef("c1", "")
		require.NoError(t, err)
		assert.Equal(t, domain.RoomPrivate, ref.Kind)
		assert.Equal(t, "c1", *ref.ConversationID())
		assert.Nil(t, ref.ChatID())
	})

	t.Run("Group", func(t *testing.T) {
		ref, err := domain.NewRoomRef("", " g1 ")
		require.NoError(t, err)
		assert.Equal(t, domain.GroupRoom("g1"), ref)
		assert.Nil(t, ref.ConversationID())
	})

	t.Run("Both", func(t *testing.T) {
		_, err := domain.NewRoomRef("c1", "g1")
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("Neither", func(t *testing.T) {
		_, err := domain.NewRoomRef("", "  ")
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

func TestRoomRefValidate(t *testing.T) {
	assert.NoError(t, domain.PrivateRoom("c1").Validate())
	assert.ErrorIs(t, domain.RoomRef{Kind: domain.RoomGroup}.Validate(), domain.ErrInvalidInput)
	assert.ErrorIs(t, domain.RoomRef{Kind: "dm", ID: "x"}.Validate(), domain.ErrInvalidInput)
}

func TestPublicMessage(t *testing.T) {
	err := domain.Errorf(domain.ErrForbidden, "not a participant")
	wrapped := fmt.Errorf("send: %w", err)

	assert.ErrorIs(t, wrapped, domain.ErrForbidden)
	assert.Equal(t, domain.ErrForbidden, domain.KindOf(wrapped))
	assert.Equal(t, "not a participant", domain.PublicMessage(wrapped))
	assert.Equal(t, "resource not found", domain.PublicMessage(domain.ErrNotFound))

	internal := errors.New("pq: relation does not exist")
	assert.Equal(t, domain.ErrInternal, domain.KindOf(internal))
	assert.Equal(t, "internal server error", domain.PublicMessage(internal))
}

func TestMessageTypeValid(t *testing.T) {
	for _, mt := range []domain.MessageType{domain.MessageText, domain.MessageImage, domain.MessageVideo, domain.MessageFile} {
		assert.True(t, mt.Valid(), mt)
	}
	assert.False(t, domain.MessageType("sticker").Valid())
}
