package messages

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidblink/backend/config"
	"github.com/vidblink/backend/internal/budget"
	"github.com/vidblink/backend/internal/lifecycle"
	"github.com/vidblink/backend/internal/models"
	"github.com/vidblink/backend/pkg/queue"
	"github.com/vidblink/backend/pkg/storage"
)

type fakeResolver struct {
	users map[uuid.UUID]models.Profile
}

func (f *fakeResolver) ByUsernameFragment(ctx context.Context, fragment string) ([]models.Profile, error) {
	var out []models.Profile
	for _, p := range f.users {
		if strings.Contains(p.Username, fragment) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeResolver) ByID(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	p, ok := f.users[id]
	if !ok {
		return nil, models.ErrRecipientUnresolved
	}
	return &p, nil
}

func (f *fakeResolver) ByEmail(ctx context.Context, ownerID uuid.UUID, address string) (*models.Contact, error) {
	return nil, models.ErrRecipientUnresolved
}

type fakeCompressQueue struct {
	jobs []queue.CompressPayload
	fail error
}

func (f *fakeCompressQueue) EnqueueCompress(ctx context.Context, payload queue.CompressPayload) error {
	if f.fail != nil {
		return f.fail
	}
	f.jobs = append(f.jobs, payload)
	return nil
}

type serviceFixture struct {
	store    *lifecycle.MemStore
	blobs    *storage.Memory
	resolver *fakeResolver
	jobs     *fakeCompressQueue
	svc      *Service
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	calc, err := budget.New(config.BudgetConfig{
		MaxDurationSec:   600,
		EmailCapMB:       25,
		InternalCapMB:    50,
		InternalSchedule: "30:2,60:5,180:15,600:50",
	})
	require.NoError(t, err)

	store := lifecycle.NewMemStore()
	blobs := storage.NewMemory()
	resolver := &fakeResolver{users: make(map[uuid.UUID]models.Profile)}
	jobs := &fakeCompressQueue{}
	manager := lifecycle.NewManager(store, blobs, nil, true, nil)
	return &serviceFixture{
		store:    store,
		blobs:    blobs,
		resolver: resolver,
		jobs:     jobs,
		svc:      NewService(calc, resolver, manager, blobs, jobs, nil),
	}
}

func (f *serviceFixture) addUser(username string) uuid.UUID {
	id := uuid.New()
	f.resolver.users[id] = models.Profile{ID: id, Username: username}
	return id
}

func internalParams(sender, recipient uuid.UUID) SubmitParams {
	return SubmitParams{
		SenderID:        sender,
		DurationSeconds: 45,
		Channel:         models.ChannelInternal,
		RecipientID:     recipient,
		Filename:        "hello.mp4",
		MessageText:     "quick update",
		Video:           bytes.NewReader(bytes.Repeat([]byte("v"), 64)),
		VideoSizeBytes:  64,
	}
}

func TestSubmitInternalUpload(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	sender := uuid.New()
	recipient := f.addUser("bob")

	ids, err := f.svc.SubmitUpload(ctx, internalParams(sender, recipient))
	require.NoError(t, err)
	require.Len(t, ids, 1)

	msg, err := f.store.Get(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, models.StateCompressing, msg.State)
	assert.Equal(t, recipient, *msg.RecipientID)
	assert.Equal(t, int64(5*1024*1024), msg.SizeBudgetBytes, "45s lands on the 60s rung")

	require.Len(t, f.jobs.jobs, 1)
	job := f.jobs.jobs[0]
	assert.Equal(t, msg.BatchID, job.BatchID)
	assert.Equal(t, ids, job.MessageIDs)
	assert.Equal(t, msg.StagingKey, job.StagingKey)
	assert.Equal(t, 1, f.blobs.Len(), "raw upload staged")
}

func TestSubmitExternalCreatesRowPerRecipient(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	p := SubmitParams{
		SenderID:        uuid.New(),
		DurationSeconds: 120,
		Channel:         models.ChannelExternalEmail,
		RecipientEmails: []string{"A@Example.com", "b@example.com", "a@example.com"},
		Filename:        "demo.mp4",
		Subject:         "demo",
		Video:           bytes.NewReader([]byte("raw")),
		VideoSizeBytes:  3,
	}
	ids, err := f.svc.SubmitUpload(ctx, p)
	require.NoError(t, err)
	require.Len(t, ids, 2, "duplicate address collapses to one row")

	var addrs []string
	for _, id := range ids {
		msg, err := f.store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.ChannelExternalEmail, msg.Channel)
		assert.Equal(t, int64(25*1024*1024), msg.SizeBudgetBytes, "email budget is flat")
		addrs = append(addrs, msg.RecipientEmail)
	}
	assert.ElementsMatch(t, []string{"a@example.com", "b@example.com"}, addrs)

	require.Len(t, f.jobs.jobs, 1, "one compress job covers the whole batch")
	assert.Len(t, f.jobs.jobs[0].MessageIDs, 2)
}

func TestSubmitOverDurationCreatesNothing(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	recipient := f.addUser("bob")

	p := internalParams(uuid.New(), recipient)
	p.DurationSeconds = 601
	_, err := f.svc.SubmitUpload(ctx, p)
	assert.True(t, errors.Is(err, models.ErrDurationExceeded))
	assert.Equal(t, 0, f.blobs.Len(), "nothing staged")
	assert.Empty(t, f.jobs.jobs)
}

func TestSubmitUnresolvedRecipient(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	p := internalParams(uuid.New(), uuid.New())
	_, err := f.svc.SubmitUpload(ctx, p)
	assert.True(t, errors.Is(err, models.ErrRecipientUnresolved))
	assert.Equal(t, 0, f.blobs.Len())
}

func TestSubmitBadEmailRejectsBatch(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	p := SubmitParams{
		SenderID:        uuid.New(),
		DurationSeconds: 30,
		Channel:         models.ChannelExternalEmail,
		RecipientEmails: []string{"good@example.com", "not-an-email"},
		Filename:        "demo.mp4",
		Video:           bytes.NewReader([]byte("raw")),
		VideoSizeBytes:  3,
	}
	_, err := f.svc.SubmitUpload(ctx, p)
	assert.True(t, errors.Is(err, models.ErrRecipientUnresolved))
	assert.Equal(t, 0, f.blobs.Len(), "one bad address voids the whole batch before staging")
}

func TestSubmitMessageTextTooLong(t *testing.T) {
	f := newServiceFixture(t)
	recipient := f.addUser("bob")

	p := internalParams(uuid.New(), recipient)
	p.MessageText = strings.Repeat("x", models.MaxMessageTextLen+1)
	_, err := f.svc.SubmitUpload(context.Background(), p)
	assert.True(t, errors.Is(err, models.ErrInvalidInput))
}

func TestSubmitEnqueueFailureFailsBatch(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	recipient := f.addUser("bob")
	f.jobs.fail = errors.New("redis down")

	ids := submitExpectingError(t, f, ctx, internalParams(uuid.New(), recipient))
	require.Len(t, ids, 1)
	msg, err := f.store.Get(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, models.StateFailed, msg.State)
	assert.Equal(t, 0, f.blobs.Len(), "staging purged after enqueue failure")
}

// submitExpectingError runs SubmitUpload, asserts it errors, and recovers the
// ids of the rows it left behind from the store.
func submitExpectingError(t *testing.T, f *serviceFixture, ctx context.Context, p SubmitParams) []uuid.UUID {
	t.Helper()
	_, err := f.svc.SubmitUpload(ctx, p)
	require.Error(t, err)
	return f.store.AllIDs()
}
