package services

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"social-inbox/models"
)

func TestReceipts_MonotonicInEitherOrder(t *testing.T) {
	ctx := context.Background()
	store := createTestStore(t)
	locks := NewLockService(store)
	receipts := NewReceiptTracker(store)

	_, _, err := locks.GetOrCreate(ctx, "100_abc", models.PlatformFacebook, nil)
	require.NoError(t, err)

	t1 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)

	// Newer first, then older: the older one is ignored
	require.NoError(t, receipts.RecordReceipt(ctx, "100_abc", models.ReceiptRead, t2))
	require.NoError(t, receipts.RecordReceipt(ctx, "100_abc", models.ReceiptRead, t1))
	// Older first, then newer
	require.NoError(t, receipts.RecordReceipt(ctx, "100_abc", models.ReceiptDelivered, t1))
	require.NoError(t, receipts.RecordReceipt(ctx, "100_abc", models.ReceiptDelivered, t2))
	// Same value again is a no-op
	require.NoError(t, receipts.RecordReceipt(ctx, "100_abc", models.ReceiptDelivered, t2))

	got, err := receipts.GetReceipts(ctx, "100_abc")
	require.NoError(t, err)
	require.NotNil(t, got.ReadAt)
	require.NotNil(t, got.DeliveredAt)
	assert.True(t, got.ReadAt.Equal(t2))
	assert.True(t, got.DeliveredAt.Equal(t2))
}

func TestReceipts_ZeroTimestampIgnored(t *testing.T) {
	ctx := context.Background()
	store := createTestStore(t)
	receipts := NewReceiptTracker(store)

	_, _, err := NewLockService(store).GetOrCreate(ctx, "100_abc", "", nil)
	require.NoError(t, err)

	require.NoError(t, receipts.RecordReceipt(ctx, "100_abc", models.ReceiptRead, time.Time{}))

	got, err := receipts.GetReceipts(ctx, "100_abc")
	require.NoError(t, err)
	assert.Nil(t, got.ReadAt)
}

func TestReceipts_UnknownKind(t *testing.T) {
	receipts := NewReceiptTracker(createTestStore(t))

	err := receipts.RecordReceipt(context.Background(), "100_abc", "seen", time.Now())
	assert.True(t, IsValidation(err))
}

func TestReceipts_UnknownConversation(t *testing.T) {
	receipts := NewReceiptTracker(createTestStore(t))

	got, err := receipts.GetReceipts(context.Background(), "100_nobody")
	require.NoError(t, err)
	assert.Equal(t, models.Receipts{}, got)
}

func TestReceipts_LegacySchemaIsNoop(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "legacy.db")

	// A deployment from before receipts were tracked
	legacy, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = legacy.Exec(`CREATE TABLE conversations (
		id TEXT PRIMARY KEY,
		page_id TEXT NOT NULL,
		customer_id TEXT NOT NULL,
		platform TEXT NOT NULL DEFAULT 'facebook',
		owner_id TEXT,
		locked_at BIGINT,
		status TEXT NOT NULL DEFAULT '',
		admin_last_read_at BIGINT,
		seller_last_read_at BIGINT,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`)
	require.NoError(t, err)
	require.NoError(t, legacy.Close())

	store, err := NewSQLiteStore(ctx, path)
	require.NoError(t, err)
	defer store.Close(ctx)

	has, err := store.HasReceiptColumns(ctx)
	require.NoError(t, err)
	assert.False(t, has)

	locks := NewLockService(store)
	_, _, err = locks.GetOrCreate(ctx, "100_abc", "", nil)
	require.NoError(t, err)

	receipts := NewReceiptTracker(store)
	require.NoError(t, receipts.RecordReceipt(ctx, "100_abc", models.ReceiptRead, time.Now()))

	got, err := receipts.GetReceipts(ctx, "100_abc")
	require.NoError(t, err)
	assert.Equal(t, models.Receipts{}, got)

	// The rest of the conversation still works
	res, err := locks.Claim(ctx, "100_abc", "A")
	require.NoError(t, err)
	assert.Equal(t, "A", res.OwnerID)
}
