package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatbackend/internal/domain"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	t.Cleanup(func() { db.Close() })
	return db
}

func createUser(t *testing.T, repo *UserRepo, email string) *domain.User {
	t.Helper()
	u := &domain.User{FirstName: "Test", LastName: email, Email: email, HashedPassword: "x"}
	require.NoError(t, repo.Create(context.Background(), u))
	return u
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	assert.NoError(t, Migrate(db))
}

func TestUserRepo(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepo(newTestDB(t))

	u := createUser(t, repo, "Alice@Example.com")
	assert.NotEmpty(t, u.ID)
	assert.Equal(t, "alice@example.com", u.Email)

	t.Run("DuplicateEmail", func(t *testing.T) {
		err := repo.Create(ctx, &domain.User{FirstName: "A", LastName: "B", Email: "alice@example.com", HashedPassword: "x"})
		assert.ErrorIs(t, err, domain.ErrConflict)
	})

	t.Run("Lookup", func(t *testing.T) {
		got, err := repo.GetByEmail(ctx, "ALICE@example.com")
		require.NoError(t, err)
		assert.Equal(t, u.ID, got.ID)

		_, err = repo.GetByID(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("TokenVersion", func(t *testing.T) {
		v, err := repo.BumpTokenVersion(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, v)

		v, err = repo.UpdatePassword(ctx, u.ID, "new-hash")
		require.NoError(t, err)
		assert.Equal(t, 2, v)

		got, err := repo.GetByID(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, "new-hash", got.HashedPassword)
		assert.Equal(t, 2, got.TokenVersion)

		_, err = repo.BumpTokenVersion(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("Search", func(t *testing.T) {
		createUser(t, repo, "bob@example.com")
		found, err := repo.Search(ctx, "BOB", 10)
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, "bob@example.com", found[0].Email)
	})
}

func TestGetOrCreatePrivateConcurrent(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	users := NewUserRepo(db)
	repo := NewConversationRepo(db)
	a := createUser(t, users, "a@example.com")
	b := createUser(t, users, "b@example.com")

	const n = 20
	ids := make([]string, n)
	created := make([]bool, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			x, y := a.ID, b.ID
			if i%2 == 1 {
				x, y = y, x
			}
			c, ok, err := repo.GetOrCreatePrivate(ctx, x, y)
			if assert.NoError(t, err) {
				ids[i], created[i] = c.ID, ok
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	createdCount := 0
	for _, ok := range created {
		if ok {
			createdCount++
		}
	}
	assert.Equal(t, 1, createdCount)

	var rows int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM conversations`).Scan(&rows))
	assert.Equal(t, 1, rows)

	c, err := repo.GetByID(ctx, ids[0])
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, c.Participants)
}

func TestGetOrCreatePrivateIdempotent(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	users := NewUserRepo(db)
	repo := NewConversationRepo(db)
	a := createUser(t, users, "a@example.com")
	b := createUser(t, users, "b@example.com")

	first, created, err := repo.GetOrCreatePrivate(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := repo.GetOrCreatePrivate(ctx, b.ID, a.ID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	list, err := repo.ListForUser(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Len(t, list[0].Participants, 2)
}

func TestGroupRepo(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	users := NewUserRepo(db)
	repo := NewGroupRepo(db)
	a := createUser(t, users, "a@example.com")
	b := createUser(t, users, "b@example.com")
	c := createUser(t, users, "c@example.com")
	d := createUser(t, users, "d@example.com")

	g := &domain.GroupChat{Name: "team", AdminID: a.ID, Participants: []string{a.ID, b.ID, c.ID}}
	require.NoError(t, repo.Create(ctx, g))
	assert.True(t, g.IsGroup)

	require.NoError(t, repo.AddMember(ctx, g.ID, d.ID))
	assert.ErrorIs(t, repo.AddMember(ctx, g.ID, d.ID), domain.ErrConflict)

	got, err := repo.GetByID(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, "team", got.Name)
	assert.Equal(t, a.ID, got.AdminID)
	assert.ElementsMatch(t, []string{a.ID, b.ID, c.ID, d.ID}, got.Participants)

	list, err := repo.ListForUser(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Len(t, list[0].Participants, 4)

	require.NoError(t, repo.Delete(ctx, g.ID))
	_, err = repo.GetByID(ctx, g.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, g.ID), domain.ErrNotFound)
}

type messageFixture struct {
	db       *sql.DB
	convs    *ConversationRepo
	messages *MessageRepo
	a, b     *domain.User
	conv     *domain.Conversation
}

func newMessageFixture(t *testing.T) *messageFixture {
	t.Helper()
	db := newTestDB(t)
	users := NewUserRepo(db)
	f := &messageFixture{
		db:       db,
		convs:    NewConversationRepo(db),
		messages: NewMessageRepo(db),
		a:        createUser(t, users, "a@example.com"),
		b:        createUser(t, users, "b@example.com"),
	}
	conv, _, err := f.convs.GetOrCreatePrivate(context.Background(), f.a.ID, f.b.ID)
	require.NoError(t, err)
	f.conv = conv
	return f
}

func (f *messageFixture) send(t *testing.T, sender *domain.User, content string) *domain.Message {
	t.Helper()
	m := &domain.Message{SenderID: sender.ID, Room: f.conv.Room(), Content: content, Type: domain.MessageText}
	updated, err := f.messages.Append(context.Background(), m)
	require.NoError(t, err)
	require.True(t, updated)
	return m
}

func TestAppendMovesLatestPointer(t *testing.T) {
	ctx := context.Background()
	f := newMessageFixture(t)

	m1 := f.send(t, f.a, "hi")
	m2 := f.send(t, f.b, "hello")

	conv, err := f.convs.GetByID(ctx, f.conv.ID)
	require.NoError(t, err)
	require.NotNil(t, conv.LatestMessageID)
	assert.Equal(t, m2.ID, *conv.LatestMessageID)

	list, err := f.messages.ListByRoom(ctx, f.conv.Room())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, m1.ID, list[0].ID)
	assert.Equal(t, m2.ID, list[1].ID)
	assert.Equal(t, domain.PrivateRoom(f.conv.ID), list[0].Room)
}

func TestAppendRejectsInvalidRoom(t *testing.T) {
	f := newMessageFixture(t)
	_, err := f.messages.Append(context.Background(), &domain.Message{SenderID: f.a.ID, Content: "x", Type: domain.MessageText})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestUpdateContentKeepsCreatedAtAndAttachments(t *testing.T) {
	ctx := context.Background()
	f := newMessageFixture(t)

	m := &domain.Message{
		SenderID:    f.a.ID,
		Room:        f.conv.Room(),
		Content:     "look",
		Type:        domain.MessageImage,
		Attachments: []domain.Attachment{{URL: "/api/uploads/x.png", FileName: "x.png", FileType: "image"}},
	}
	_, err := f.messages.Append(ctx, m)
	require.NoError(t, err)

	later := time.Now().Add(time.Minute)
	require.NoError(t, f.messages.UpdateContent(ctx, m.ID, "edited", later))

	got, err := f.messages.GetByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "edited", got.Content)
	assert.True(t, got.CreatedAt.Equal(m.CreatedAt))
	assert.True(t, got.UpdatedAt.After(got.CreatedAt))
	assert.Equal(t, m.Attachments, got.Attachments)

	assert.ErrorIs(t, f.messages.UpdateContent(ctx, "missing", "x", later), domain.ErrNotFound)
}

func TestDeleteRepointsLatest(t *testing.T) {
	ctx := context.Background()
	f := newMessageFixture(t)

	m1 := f.send(t, f.a, "one")
	m2 := f.send(t, f.a, "two")

	require.NoError(t, f.messages.Delete(ctx, m2.ID))
	conv, err := f.convs.GetByID(ctx, f.conv.ID)
	require.NoError(t, err)
	require.NotNil(t, conv.LatestMessageID)
	assert.Equal(t, m1.ID, *conv.LatestMessageID)

	require.NoError(t, f.messages.Delete(ctx, m1.ID))
	conv, err = f.convs.GetByID(ctx, f.conv.ID)
	require.NoError(t, err)
	assert.Nil(t, conv.LatestMessageID)

	assert.ErrorIs(t, f.messages.Delete(ctx, m1.ID), domain.ErrNotFound)
}

func TestDeleteRoomCascades(t *testing.T) {
	ctx := context.Background()
	f := newMessageFixture(t)
	f.send(t, f.a, "one")
	f.send(t, f.b, "two")

	n, err := f.messages.DeleteByRoom(ctx, f.conv.Room())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	require.NoError(t, f.convs.Delete(ctx, f.conv.ID))

	var count int
	require.NoError(t, f.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, f.conv.ID).Scan(&count))
	assert.Zero(t, count)
	require.NoError(t, f.db.QueryRow(`SELECT COUNT(*) FROM conversation_participants WHERE conversation_id = ?`, f.conv.ID).Scan(&count))
	assert.Zero(t, count)

	_, err = f.convs.GetByID(ctx, f.conv.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMarkRoomRead(t *testing.T) {
	ctx := context.Background()
	f := newMessageFixture(t)
	fromA := f.send(t, f.a, "for b")
	fromB := f.send(t, f.b, "for a")

	n, err := f.messages.MarkRoomRead(ctx, f.conv.Room(), f.b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = f.messages.MarkRoomRead(ctx, f.conv.Room(), f.b.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := f.messages.GetByID(ctx, fromA.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{f.b.ID}, got.ReadBy)

	got, err = f.messages.GetByID(ctx, fromB.ID)
	require.NoError(t, err)
	assert.Empty(t, got.ReadBy)
}

func TestUpdateProfile(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepo(newTestDB(t))
	u := createUser(t, repo, "alice@example.com")
	createUser(t, repo, "bob@example.com")

	u.FirstName, u.LastName = "Alicia", "Smith"
	require.NoError(t, repo.UpdateProfile(ctx, u, false))
	assert.Zero(t, u.TokenVersion)

	u.Email = "Alicia@Example.com"
	require.NoError(t, repo.UpdateProfile(ctx, u, true))
	assert.Equal(t, 1, u.TokenVersion)

	got, err := repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alicia", got.FirstName)
	assert.Equal(t, "Smith", got.LastName)
	assert.Equal(t, "alicia@example.com", got.Email)
	assert.Equal(t, 1, got.TokenVersion)

	u.Email = "bob@example.com"
	assert.ErrorIs(t, repo.UpdateProfile(ctx, u, true), domain.ErrConflict)

	assert.ErrorIs(t, repo.UpdateProfile(ctx, &domain.User{ID: "missing", Email: "x@example.com"}, false), domain.ErrNotFound)
}

func TestDeleteUser(t *testing.T) {
	ctx := context.Background()
	f := newMessageFixture(t)
	users := NewUserRepo(f.db)
	groups := NewGroupRepo(f.db)
	c := createUser(t, users, "c@example.com")

	f.send(t, f.a, "private")

	team := &domain.GroupChat{Name: "team", AdminID: f.a.ID, Participants: []string{f.a.ID, f.b.ID, c.ID}}
	require.NoError(t, groups.Create(ctx, team))
	solo := &domain.GroupChat{Name: "solo", AdminID: f.a.ID, Participants: []string{f.a.ID}}
	require.NoError(t, groups.Create(ctx, solo))

	fromB := &domain.Message{SenderID: f.b.ID, Room: domain.GroupRoom(team.ID), Content: "from b", Type: domain.MessageText}
	_, err := f.messages.Append(ctx, fromB)
	require.NoError(t, err)
	fromA := &domain.Message{SenderID: f.a.ID, Room: domain.GroupRoom(team.ID), Content: "from a", Type: domain.MessageText}
	_, err = f.messages.Append(ctx, fromA)
	require.NoError(t, err)

	require.NoError(t, users.Delete(ctx, f.a.ID))

	_, err = users.GetByID(ctx, f.a.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.convs.GetByID(ctx, f.conv.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = groups.GetByID(ctx, solo.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	got, err := groups.GetByID(ctx, team.ID)
	require.NoError(t, err)
	assert.NotEqual(t, f.a.ID, got.AdminID)
	assert.Contains(t, []string{f.b.ID, c.ID}, got.AdminID)
	assert.ElementsMatch(t, []string{f.b.ID, c.ID}, got.Participants)
	require.NotNil(t, got.LatestMessageID)
	assert.Equal(t, fromB.ID, *got.LatestMessageID)

	var count int
	require.NoError(t, f.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE sender_id = ?`, f.a.ID).Scan(&count))
	assert.Zero(t, count)

	assert.ErrorIs(t, users.Delete(ctx, f.a.ID), domain.ErrNotFound)
}
