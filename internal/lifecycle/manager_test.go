package lifecycle

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidblink/backend/internal/models"
	"github.com/vidblink/backend/pkg/storage"
)

type fixture struct {
	store *MemStore
	blobs *storage.Memory
	mgr   *Manager
}

func newFixture(t *testing.T, cascade bool) *fixture {
	t.Helper()
	store := NewMemStore()
	blobs := storage.NewMemory()
	return &fixture{
		store: store,
		blobs: blobs,
		mgr:   NewManager(store, blobs, nil, cascade, nil),
	}
}

// seedSent creates an internal message in Sent with an artifact in the blob store.
func (f *fixture) seedSent(t *testing.T, sender, recipient uuid.UUID) *models.VideoMessage {
	t.Helper()
	ctx := context.Background()
	rid := recipient
	msg := &models.VideoMessage{
		BatchID:                 uuid.New(),
		SenderID:                sender,
		RecipientID:             &rid,
		Channel:                 models.ChannelInternal,
		State:                   models.StateCompressing,
		Filename:                "clip.mp4",
		OriginalDurationSeconds: 60,
		SizeBudgetBytes:         5 * 1024 * 1024,
		StagingKey:              "staging/raw.bin",
	}
	require.NoError(t, f.store.Create(ctx, msg))

	ref := storage.ArtifactKey(msg.BatchID.String())
	require.NoError(t, f.blobs.Put(ctx, ref, "video/mp4", bytes.NewReader([]byte("compressed-bytes")), 16))
	require.NoError(t, f.mgr.AttachArtifact(ctx, msg.ID, ref, 16))

	got, err := f.store.Get(ctx, msg.ID)
	require.NoError(t, err)
	return got
}

func TestViewThenCascadeDownloadDeletes(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	sender, recipient := uuid.New(), uuid.New()
	msg := f.seedSent(t, sender, recipient)

	body, viewed, err := f.mgr.View(ctx, msg.ID, recipient)
	require.NoError(t, err)
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	body.Close()
	assert.Equal(t, "compressed-bytes", string(data))
	assert.Equal(t, models.StateViewed, viewed.State)

	body, _, err = f.mgr.Download(ctx, msg.ID, recipient)
	require.NoError(t, err)
	data, err = io.ReadAll(body)
	require.NoError(t, err)
	body.Close()
	assert.Equal(t, "compressed-bytes", string(data))

	// Cascade: message deleted, artifact destroyed.
	got, err := f.store.Get(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateDeleted, got.State)
	assert.Empty(t, got.ArtifactRef)
	assert.Equal(t, 0, f.blobs.Len())

	// Timestamps are monotone in lifecycle order.
	require.NotNil(t, got.SentAt)
	require.NotNil(t, got.ViewedAt)
	require.NotNil(t, got.DownloadedAt)
	require.NotNil(t, got.DeletedAt)
	assert.False(t, got.ViewedAt.Before(*got.SentAt))
	assert.False(t, got.DownloadedAt.Before(*got.ViewedAt))
	assert.False(t, got.DeletedAt.Before(*got.DownloadedAt))

	// Once gone, nothing comes back.
	_, _, err = f.mgr.View(ctx, msg.ID, recipient)
	assert.True(t, errors.Is(err, models.ErrInvalidTransition))
}

func TestDownloadWithoutCascadeKeepsArtifact(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	sender, recipient := uuid.New(), uuid.New()
	msg := f.seedSent(t, sender, recipient)

	body, got, err := f.mgr.Download(ctx, msg.ID, recipient)
	require.NoError(t, err)
	body.Close()
	assert.Equal(t, models.StateDownloaded, got.State)
	assert.Equal(t, 1, f.blobs.Len())

	require.NoError(t, f.mgr.Delete(ctx, msg.ID, recipient))
	assert.Equal(t, 0, f.blobs.Len())

	err = f.mgr.Delete(ctx, msg.ID, recipient)
	assert.True(t, errors.Is(err, models.ErrInvalidTransition))
}

func TestConcurrentDeleteExactlyOneWins(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	sender, recipient := uuid.New(), uuid.New()
	msg := f.seedSent(t, sender, recipient)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = f.mgr.Delete(ctx, msg.ID, recipient)
		}(i)
	}
	wg.Wait()

	var ok, stale int
	for _, err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, models.ErrInvalidTransition):
			stale++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, stale)
	assert.Equal(t, 0, f.blobs.Len())
}

func TestViewAuthorization(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	sender, recipient := uuid.New(), uuid.New()
	msg := f.seedSent(t, sender, recipient)

	_, _, err := f.mgr.View(ctx, msg.ID, uuid.New())
	assert.True(t, errors.Is(err, models.ErrForbidden))

	// The sender cannot view either; only the recipient reads the artifact.
	_, _, err = f.mgr.View(ctx, msg.ID, sender)
	assert.True(t, errors.Is(err, models.ErrForbidden))
}

func TestViewExternalChannelRejected(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	msg := &models.VideoMessage{
		BatchID:         uuid.New(),
		SenderID:        uuid.New(),
		RecipientEmail:  "out@example.com",
		Channel:         models.ChannelExternalEmail,
		State:           models.StateCompressing,
		Filename:        "clip.mp4",
		SizeBudgetBytes: 25 * 1024 * 1024,
	}
	require.NoError(t, f.store.Create(ctx, msg))
	require.NoError(t, f.mgr.AttachArtifact(ctx, msg.ID, "artifacts/x.mp4", 10))

	_, _, err := f.mgr.View(ctx, msg.ID, msg.SenderID)
	assert.True(t, errors.Is(err, models.ErrInvalidTransition))
}

func TestSharedArtifactRefcount(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	sender := uuid.New()
	batch := uuid.New()
	ref := storage.ArtifactKey(batch.String())
	require.NoError(t, f.blobs.Put(ctx, ref, "video/mp4", bytes.NewReader([]byte("shared")), 6))

	var ids []uuid.UUID
	for _, addr := range []string{"a@example.com", "b@example.com"} {
		msg := &models.VideoMessage{
			BatchID:         batch,
			SenderID:        sender,
			RecipientEmail:  addr,
			Channel:         models.ChannelExternalEmail,
			State:           models.StateCompressing,
			Filename:        "clip.mp4",
			SizeBudgetBytes: 25 * 1024 * 1024,
		}
		require.NoError(t, f.store.Create(ctx, msg))
		require.NoError(t, f.mgr.AttachArtifact(ctx, msg.ID, ref, 6))
		ids = append(ids, msg.ID)
	}

	require.NoError(t, f.mgr.CompleteExternalDelivery(ctx, ids[0]))
	assert.Equal(t, 1, f.blobs.Len(), "artifact must survive while another row holds it")

	require.NoError(t, f.mgr.CompleteExternalDelivery(ctx, ids[1]))
	assert.Equal(t, 0, f.blobs.Len(), "last holder destroys the artifact")
}

func TestListInboxOrderingAndVisibility(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	sender, recipient := uuid.New(), uuid.New()
	f.store.PutProfile(models.Profile{ID: sender, Username: "alice", DisplayName: "Alice"})

	first := f.seedSent(t, sender, recipient)
	time.Sleep(5 * time.Millisecond)
	second := f.seedSent(t, sender, recipient)
	time.Sleep(5 * time.Millisecond)
	third := f.seedSent(t, sender, recipient)

	require.NoError(t, f.mgr.Delete(ctx, second.ID, recipient))

	items, err := f.mgr.ListInbox(ctx, recipient)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, third.ID, items[0].ID)
	assert.Equal(t, first.ID, items[1].ID)
	assert.Equal(t, "alice", items[0].SenderUsername)
}

func TestSweeperForcesStuckCompressingToFailed(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	rid := uuid.New()
	msg := &models.VideoMessage{
		BatchID:         uuid.New(),
		SenderID:        uuid.New(),
		RecipientID:     &rid,
		Channel:         models.ChannelInternal,
		State:           models.StateCompressing,
		Filename:        "stuck.mp4",
		SizeBudgetBytes: 1024,
		StagingKey:      "staging/stuck.bin",
	}
	require.NoError(t, f.store.Create(ctx, msg))
	require.NoError(t, f.blobs.Put(ctx, msg.StagingKey, "video/mp4", bytes.NewReader([]byte("raw")), 3))

	// Zero timeout: everything in Compressing is already stale.
	sweeper := NewSweeper(f.store, f.blobs, 0, time.Minute, nil)
	require.NoError(t, sweeper.Sweep(ctx))

	got, err := f.store.Get(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateFailed, got.State)
	assert.Empty(t, got.StagingKey)
	assert.Equal(t, 0, f.blobs.Len())
}

func TestFailedMessageRejectsMutations(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	rid := uuid.New()
	msg := &models.VideoMessage{
		BatchID:         uuid.New(),
		SenderID:        uuid.New(),
		RecipientID:     &rid,
		Channel:         models.ChannelInternal,
		State:           models.StateUploading,
		Filename:        "bad.mp4",
		SizeBudgetBytes: 1024,
	}
	require.NoError(t, f.store.Create(ctx, msg))
	require.NoError(t, f.mgr.Fail(ctx, msg.ID, "delivery failed"))

	err := f.mgr.Delete(ctx, msg.ID, rid)
	assert.True(t, errors.Is(err, models.ErrInvalidTransition))

	err = f.mgr.AttachArtifact(ctx, msg.ID, "artifacts/x.mp4", 10)
	assert.True(t, errors.Is(err, models.ErrInvalidTransition))
}

func TestGetUnknownMessage(t *testing.T) {
	f := newFixture(t, false)
	_, _, err := f.mgr.View(context.Background(), uuid.New(), uuid.New())
	assert.True(t, errors.Is(err, models.ErrNotFound))
}
