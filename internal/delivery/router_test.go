package delivery

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidblink/backend/internal/lifecycle"
	"github.com/vidblink/backend/internal/models"
	"github.com/vidblink/backend/pkg/queue"
	"github.com/vidblink/backend/pkg/storage"
)

type fakeEnqueuer struct {
	enqueued []uuid.UUID
	fail     error
}

func (f *fakeEnqueuer) EnqueueEmail(ctx context.Context, payload queue.EmailPayload) error {
	if f.fail != nil {
		return f.fail
	}
	f.enqueued = append(f.enqueued, payload.MessageID)
	return nil
}

type fixedLimits struct{ internal, email int64 }

func (l fixedLimits) TransportLimit(ch models.Channel) int64 {
	if ch == models.ChannelExternalEmail {
		return l.email
	}
	return l.internal
}

type routerFixture struct {
	store   *lifecycle.MemStore
	blobs   *storage.Memory
	manager *lifecycle.Manager
	emails  *fakeEnqueuer
	router  *Router
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	store := lifecycle.NewMemStore()
	blobs := storage.NewMemory()
	manager := lifecycle.NewManager(store, blobs, nil, false, nil)
	emails := &fakeEnqueuer{}
	limits := fixedLimits{internal: 50 * 1024 * 1024, email: 25 * 1024 * 1024}
	return &routerFixture{
		store:   store,
		blobs:   blobs,
		manager: manager,
		emails:  emails,
		router:  NewRouter(manager, emails, limits, nil),
	}
}

func (f *routerFixture) seedCompressing(t *testing.T, channel models.Channel, recipientEmail string) *models.VideoMessage {
	t.Helper()
	msg := &models.VideoMessage{
		BatchID:         uuid.New(),
		SenderID:        uuid.New(),
		RecipientEmail:  recipientEmail,
		Channel:         channel,
		State:           models.StateCompressing,
		Filename:        "clip.mp4",
		SizeBudgetBytes: 25 * 1024 * 1024,
		StagingKey:      "staging/raw.bin",
	}
	if channel == models.ChannelInternal {
		rid := uuid.New()
		msg.RecipientID = &rid
	}
	require.NoError(t, f.store.Create(context.Background(), msg))
	return msg
}

func TestDeliverInternal(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()
	msg := f.seedCompressing(t, models.ChannelInternal, "")

	ref := "artifacts/a.mp4"
	require.NoError(t, f.blobs.Put(ctx, ref, "video/mp4", bytes.NewReader([]byte("x")), 1))
	require.NoError(t, f.router.Deliver(ctx, []uuid.UUID{msg.ID}, models.ChannelInternal, ref, 1))

	got, err := f.store.Get(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateSent, got.State)
	assert.Equal(t, ref, got.ArtifactRef)
	assert.NotNil(t, got.SentAt)
	assert.Empty(t, f.emails.enqueued, "internal path never touches the mail queue")
}

func TestDeliverExternalEnqueuesPerRecipient(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()
	a := f.seedCompressing(t, models.ChannelExternalEmail, "a@example.com")
	b := f.seedCompressing(t, models.ChannelExternalEmail, "b@example.com")

	require.NoError(t, f.router.Deliver(ctx, []uuid.UUID{a.ID, b.ID}, models.ChannelExternalEmail, "artifacts/b.mp4", 100))
	assert.Equal(t, []uuid.UUID{a.ID, b.ID}, f.emails.enqueued)

	for _, id := range []uuid.UUID{a.ID, b.ID} {
		got, err := f.store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.StateSent, got.State)
	}
}

func TestDeliverOverTransportLimitFailsBatch(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()
	msg := f.seedCompressing(t, models.ChannelExternalEmail, "a@example.com")

	err := f.router.Deliver(ctx, []uuid.UUID{msg.ID}, models.ChannelExternalEmail, "artifacts/big.mp4", 30*1024*1024)
	assert.True(t, errors.Is(err, models.ErrAttachmentTooLarge))

	got, err := f.store.Get(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateFailed, got.State)
	assert.Empty(t, f.emails.enqueued)
}

func TestDeliverEmptyBatch(t *testing.T) {
	f := newRouterFixture(t)
	err := f.router.Deliver(context.Background(), nil, models.ChannelInternal, "artifacts/a.mp4", 1)
	assert.True(t, errors.Is(err, models.ErrRecipientUnresolved))
}
