package database

import (
	"context"
	"testing"
	"time"

	"chatsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversationUpsertReplacesWholesale(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	snap := &models.ConversationSnapshot{
		ID:          "c1",
		Status:      models.StatusAguardando,
		SectorID:    "s1",
		AttendantID: "a1",
		UpdatedAt:   time.Now().UTC(),
	}
	require.NoError(t, db.UpsertConversation(ctx, snap))

	snap.Status = models.StatusEmAndamento
	snap.AttendantID = ""
	require.NoError(t, db.UpsertConversation(ctx, snap))

	got, err := db.GetConversation(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusEmAndamento, got.Status)
	assert.Equal(t, "", got.AttendantID)
}

func TestGetConversationNotFound(t *testing.T) {
	db := setupTestDB(t)
	_, err := db.GetConversation(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteConversationRemovesMessages(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.UpsertConversation(ctx, &models.ConversationSnapshot{ID: "c1", Status: models.StatusAguardando, UpdatedAt: time.Now()}))
	require.NoError(t, db.InsertMessage(ctx, &models.Message{
		ID: "m1", ConversationID: "c1", Sender: models.SenderClient,
		Body: "oi", Timestamp: time.Now(), DeliveryStatus: models.DeliverySent,
	}))

	require.NoError(t, db.DeleteConversation(ctx, "c1"))

	_, err := db.GetConversation(ctx, "c1")
	assert.ErrorIs(t, err, ErrNotFound)

	msgs, err := db.GetMessages(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, msgs, 0)
}

func TestMessageDeliveryTransitionsOnce(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	msg := &models.Message{
		ID:             "m1",
		ConversationID: "c1",
		Sender:         models.SenderAttendant,
		Body:           "bom dia",
		Timestamp:      time.Now(),
		DeliveryStatus: models.DeliverySending,
	}
	require.NoError(t, db.InsertMessage(ctx, msg))

	require.NoError(t, db.UpdateMessageDelivery(ctx, "m1", models.DeliverySent))

	// Second transition must not touch a terminal message.
	err := db.UpdateMessageDelivery(ctx, "m1", models.DeliveryFailed)
	assert.ErrorIs(t, err, ErrNotFound)

	msgs, err := db.GetMessages(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.DeliverySent, msgs[0].DeliveryStatus)
}

func TestGetMessagesOrdered(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	base := time.Now()
	offsets := map[string]int{"m1": 0, "m2": 1, "m3": 2}
	// Insert out of order to exercise the timestamp sort.
	for _, id := range []string{"m3", "m1", "m2"} {
		require.NoError(t, db.InsertMessage(ctx, &models.Message{
			ID: id, ConversationID: "c1", Sender: models.SenderClient,
			Body: id, Timestamp: base.Add(time.Duration(offsets[id]) * time.Second),
			DeliveryStatus: models.DeliverySent,
		}))
	}

	msgs, err := db.GetMessages(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "m3", msgs[2].ID)
}
