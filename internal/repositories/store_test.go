package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-engine/internal/db"
	"chat-engine/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	conn, err := db.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewStore(conn)
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestInsertDirectConversationConflict(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	key := models.DirectKey(7, 3)
	assert.Equal(t, "3:7", key)

	id, created, err := store.InsertDirectConversation(ctx, key, base)
	require.NoError(t, err)
	require.True(t, created)

	_, created, err = store.InsertDirectConversation(ctx, key, base)
	require.NoError(t, err)
	assert.False(t, created)

	conv, err := store.FindDirectConversation(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, id, conv.ID)
	assert.Equal(t, models.KindDirect, conv.Kind)
	assert.True(t, base.Equal(conv.CreatedAt))
}

func TestWithTxRollsBack(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.WithTx(ctx, func(q Queries) error {
		if _, _, err := q.InsertDirectConversation(ctx, "1:2", base); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = store.FindDirectConversation(ctx, "1:2")
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestParticipantsAndWatermark(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	conv, err := store.CreateConversation(ctx, models.KindGroup, base)
	require.NoError(t, err)

	added, err := store.AddParticipants(ctx, conv.ID, []int{1, 2, 2}, base)
	require.NoError(t, err)
	assert.Equal(t, 2, added)

	p, err := store.FindParticipant(ctx, conv.ID, 1)
	require.NoError(t, err)
	assert.True(t, p.LastReadAt.Equal(p.JoinedAt))

	moved, err := store.AdvanceLastRead(ctx, conv.ID, 1, base.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, moved)

	moved, err = store.AdvanceLastRead(ctx, conv.ID, 1, base.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, moved)

	p, err = store.FindParticipant(ctx, conv.ID, 1)
	require.NoError(t, err)
	assert.True(t, base.Add(time.Minute).Equal(p.LastReadAt))

	removed, err := store.RemoveParticipant(ctx, conv.ID, 2)
	require.NoError(t, err)
	assert.True(t, removed)

	_, err = store.FindParticipant(ctx, conv.ID, 2)
	assert.ErrorIs(t, err, ErrParticipantNotFound)

	byConv, err := store.ParticipantIDsFor(ctx, []int{conv.ID})
	require.NoError(t, err)
	assert.Equal(t, []int{1}, byConv[conv.ID])
}

func TestListMessagesKeyset(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	conv, err := store.CreateConversation(ctx, models.KindGroup, base)
	require.NoError(t, err)

	// two messages share a timestamp so the id breaks the tie
	stamps := []time.Time{base, base.Add(time.Millisecond), base.Add(time.Millisecond), base.Add(2 * time.Millisecond)}
	var ids []int
	for i, at := range stamps {
		msg, err := store.CreateMessage(ctx, models.Message{ConversationID: conv.ID, SenderID: 1, Content: string(rune('a' + i)), Kind: models.MessageText, CreatedAt: at})
		require.NoError(t, err)
		ids = append(ids, msg.ID)
	}

	page, err := store.ListMessages(ctx, conv.ID, nil, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[3], page[0].ID)
	assert.Equal(t, ids[2], page[1].ID)

	cursor := page[1].Cursor()
	page, err = store.ListMessages(ctx, conv.ID, &cursor, 10)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[1], page[0].ID)
	assert.Equal(t, ids[0], page[1].ID)
}

func TestReadReceiptsSkipOwnAndExisting(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	conv, err := store.CreateConversation(ctx, models.KindGroup, base)
	require.NoError(t, err)
	for i, sender := range []int{2, 1, 2} {
		_, err := store.CreateMessage(ctx, models.Message{ConversationID: conv.ID, SenderID: sender, Content: "x", Kind: models.MessageText, CreatedAt: base.Add(time.Duration(i+1) * time.Second)})
		require.NoError(t, err)
	}

	n, err := store.InsertReadReceipts(ctx, conv.ID, 1, base, base.Add(2*time.Second), base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = store.InsertReadReceipts(ctx, conv.ID, 1, base, base.Add(3*time.Second), base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestInboxRows(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	older, err := store.CreateConversation(ctx, models.KindGroup, base)
	require.NoError(t, err)
	newer, err := store.CreateConversation(ctx, models.KindGroup, base)
	require.NoError(t, err)
	for _, c := range []int{older.ID, newer.ID} {
		_, err := store.AddParticipants(ctx, c, []int{1, 2}, base)
		require.NoError(t, err)
	}

	_, err = store.CreateMessage(ctx, models.Message{ConversationID: newer.ID, SenderID: 2, Content: "hi", Kind: models.MessageText, CreatedAt: base.Add(time.Second)})
	require.NoError(t, err)
	last, err := store.CreateMessage(ctx, models.Message{ConversationID: newer.ID, SenderID: 1, Content: "mine", Kind: models.MessageText, CreatedAt: base.Add(time.Second)})
	require.NoError(t, err)
	require.NoError(t, store.TouchConversation(ctx, newer.ID, base.Add(time.Second)))

	rows, err := store.InboxRows(ctx, 1)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, newer.ID, rows[0].ID)
	assert.Equal(t, 1, rows[0].UnreadCount)
	require.NotNil(t, rows[0].LastMessageID)
	assert.Equal(t, last.ID, *rows[0].LastMessageID)
	assert.Nil(t, rows[1].LastMessageID)
	assert.Equal(t, 0, rows[1].UnreadCount)
}

func TestSearchGroupsEscapesWildcards(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"100% Organic", "1000 Organic farms"} {
		conv, err := store.CreateConversation(ctx, models.KindGroup, base)
		require.NoError(t, err)
		_, err = store.CreateGroup(ctx, models.Group{ConversationID: conv.ID, Name: name, Category: models.CategoryFarming, CreatedByID: 1, CreatedAt: base, UpdatedAt: base})
		require.NoError(t, err)
		_, err = store.AddParticipants(ctx, conv.ID, []int{1}, base)
		require.NoError(t, err)
	}

	results, err := store.SearchGroups(ctx, 1, `%100\%%`, "", 20)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "100% Organic", results[0].Name)
	assert.True(t, results[0].IsMember)
	assert.Equal(t, 1, results[0].MemberCount)

	results, err = store.SearchGroups(ctx, 2, `%organic%`, models.CategoryFarming, 20)
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.False(t, results[0].IsMember)

	results, err = store.SearchGroups(ctx, 2, `%organic%`, models.CategoryMarket, 20)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestProfiles(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	img := "https://img.test/a.png"

	require.NoError(t, store.UpsertProfile(ctx, models.Profile{ID: 1, Name: "Ana", Image: &img}))
	require.NoError(t, store.UpsertProfile(ctx, models.Profile{ID: 1, Name: "Ana B"}))

	profiles, err := store.ProfilesByID(ctx, []int{1, 99})
	require.NoError(t, err)
	require.Len(t, profiles, 1)
	assert.Equal(t, "Ana B", profiles[0].Name)
	assert.Nil(t, profiles[0].Image)
}
