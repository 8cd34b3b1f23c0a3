package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chatbackend/internal/domain"
	"chatbackend/internal/security"
	"chatbackend/internal/service"
)

type messageDeps struct {
	messages *MockMessageRepo
	rooms    *MockAuthorizer
	enc      *security.Encryptor
	svc      *service.MessageService
}

func newMessageDeps(t *testing.T) *messageDeps {
	t.Helper()
	enc, err := security.NewEncryptor([]byte("message-key"), nil)
	require.NoError(t, err)
	d := &messageDeps{
		messages: new(MockMessageRepo),
		rooms:    new(MockAuthorizer),
		enc:      enc,
	}
	d.svc = service.NewMessageService(d.messages, d.rooms, enc, discardLogger())
	return d
}

func TestSendValidation(t *testing.T) {
	ctx := context.Background()
	d := newMessageDeps(t)

	cases := map[string]service.SendInput{
		"both rooms":      {ConversationID: "c1", ChatID: "g1", Content: "hi"},
		"no room":         {Content: "hi"},
		"empty payload":   {ConversationID: "c1", Content: "   "},
		"unknown type":    {ConversationID: "c1", Content: "hi", Type: "sticker"},
		"attachment url":  {ConversationID: "c1", Attachments: []domain.Attachment{{FileName: "a.png"}}},
		"content too big": {ConversationID: "c1", Content: string(make([]rune, service.MaxContentLength+1))},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := d.svc.Send(ctx, "u1", in)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
	d.messages.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
}

func TestSendForbiddenForNonParticipant(t *testing.T) {
	d := newMessageDeps(t)
	d.rooms.On("Authorize", mock.Anything, domain.PrivateRoom("c1"), "u3").
		Return(domain.Errorf(domain.ErrForbidden, "not a participant"))

	_, err := d.svc.Send(context.Background(), "u3", service.SendInput{ConversationID: "c1", Content: "hi"})
	assert.ErrorIs(t, err, domain.ErrForbidden)
	d.messages.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
}

func TestSendPersistsEncrypted(t *testing.T) {
	d := newMessageDeps(t)
	d.rooms.On("Authorize", mock.Anything, domain.PrivateRoom("c1"), "u1").Return(nil)

	var stored *domain.Message
	d.messages.On("Append", mock.Anything, mock.AnythingOfType("*domain.Message")).
		Run(func(args mock.Arguments) {
			stored = args.Get(1).(*domain.Message)
			stored.ID = "m1"
			stored.CreatedAt = time.Now().UTC()
			stored.UpdatedAt = stored.CreatedAt
		}).
		Return(true, nil)

	view, err := d.svc.Send(context.Background(), "u1", service.SendInput{ConversationID: "c1", Content: "hi"})
	require.NoError(t, err)

	assert.Equal(t, "m1", view.ID)
	assert.Equal(t, "u1", view.Sender)
	assert.Equal(t, "hi", view.Content)
	assert.Equal(t, domain.MessageText, view.Type)
	require.NotNil(t, view.ConversationID)
	assert.Equal(t, "c1", *view.ConversationID)
	assert.Nil(t, view.ChatID)
	assert.Equal(t, domain.PrivateRoom("c1"), view.Room)

	assert.NotEqual(t, "hi", stored.Content)
	plain, err := d.enc.Decrypt(stored.Content)
	require.NoError(t, err)
	assert.Equal(t, "hi", plain)
}

func TestSendKeepsMessageWhenSummaryUpdateFails(t *testing.T) {
	d := newMessageDeps(t)
	d.rooms.On("Authorize", mock.Anything, domain.GroupRoom("g1"), "u1").Return(nil)
	d.messages.On("Append", mock.Anything, mock.Anything).Return(false, nil)

	view, err := d.svc.Send(context.Background(), "u1", service.SendInput{ChatID: "g1", Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi", view.Content)
}

func TestSendStorageFailure(t *testing.T) {
	d := newMessageDeps(t)
	d.rooms.On("Authorize", mock.Anything, domain.GroupRoom("g1"), "u1").Return(nil)
	d.messages.On("Append", mock.Anything, mock.Anything).Return(false, errors.New("disk full"))

	_, err := d.svc.Send(context.Background(), "u1", service.SendInput{ChatID: "g1", Content: "hi"})
	require.Error(t, err)
	assert.Equal(t, domain.ErrInternal, domain.KindOf(err))
}

func TestSendTypeDefaults(t *testing.T) {
	cases := []struct {
		name        string
		attachments []domain.Attachment
		want        domain.MessageType
	}{
		{"image", []domain.Attachment{{URL: "/u/a.png", FileType: "image"}}, domain.MessageImage},
		{"video", []domain.Attachment{{URL: "/u/a.mp4", FileType: "video"}}, domain.MessageVideo},
		{"other", []domain.Attachment{{URL: "/u/a.pdf", FileType: "file"}}, domain.MessageFile},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := newMessageDeps(t)
			d.rooms.On("Authorize", mock.Anything, mock.Anything, mock.Anything).Return(nil)
			d.messages.On("Append", mock.Anything, mock.MatchedBy(func(m *domain.Message) bool {
				return m.Type == tc.want && m.Content == ""
			})).Return(true, nil)

			view, err := d.svc.Send(context.Background(), "u1", service.SendInput{ConversationID: "c1", Attachments: tc.attachments})
			require.NoError(t, err)
			assert.Equal(t, tc.want, view.Type)
			assert.Equal(t, tc.attachments, view.Attachments)
		})
	}
}

func TestEdit(t *testing.T) {
	ctx := context.Background()
	d := newMessageDeps(t)
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	sealed, err := d.enc.Encrypt("before")
	require.NoError(t, err)
	attachments := []domain.Attachment{{URL: "/u/a.png", FileName: "a.png", FileType: "image"}}

	original := &domain.Message{ID: "m1", SenderID: "u1", Room: domain.PrivateRoom("c1"), Content: sealed,
		Type: domain.MessageImage, Attachments: attachments, CreatedAt: created, UpdatedAt: created}
	d.messages.On("GetByID", mock.Anything, "m1").Return(original, nil).Once()
	d.messages.On("GetByID", mock.Anything, "missing").Return(nil, domain.ErrNotFound)

	_, err = d.svc.Edit(ctx, "m1", "u2", "hacked")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = d.svc.Edit(ctx, "missing", "u1", "x")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	resealed, err := d.enc.Encrypt("after")
	require.NoError(t, err)
	edited := *original
	edited.Content = resealed
	edited.UpdatedAt = created.Add(time.Hour)

	d.messages.On("GetByID", mock.Anything, "m1").Return(original, nil).Once()
	d.messages.On("UpdateContent", mock.Anything, "m1", mock.AnythingOfType("string"), mock.AnythingOfType("time.Time")).Return(nil)
	d.messages.On("GetByID", mock.Anything, "m1").Return(&edited, nil).Once()

	view, err := d.svc.Edit(ctx, "m1", "u1", "after")
	require.NoError(t, err)
	assert.Equal(t, "after", view.Content)
	assert.Equal(t, created, view.CreatedAt)
	assert.Equal(t, attachments, view.Attachments)
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	d := newMessageDeps(t)
	msg := &domain.Message{ID: "m1", SenderID: "u1", Room: domain.GroupRoom("g1")}
	d.messages.On("GetByID", mock.Anything, "m1").Return(msg, nil)
	d.messages.On("Delete", mock.Anything, "m1").Return(nil)

	_, err := d.svc.Remove(ctx, "m1", &domain.User{ID: "u2"})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	room, err := d.svc.Remove(ctx, "m1", &domain.User{ID: "u9", IsAdmin: true})
	require.NoError(t, err)
	assert.Equal(t, domain.GroupRoom("g1"), room)

	room, err = d.svc.Remove(ctx, "m1", &domain.User{ID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, domain.GroupRoom("g1"), room)
}

func TestMarkRead(t *testing.T) {
	d := newMessageDeps(t)
	room := domain.PrivateRoom("c1")
	d.rooms.On("Authorize", mock.Anything, room, "u2").Return(nil)
	d.messages.On("MarkRoomRead", mock.Anything, room, "u2").Return(int64(3), nil)

	n, err := d.svc.MarkRead(context.Background(), room, "u2")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}
