package lifecycle

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/vidblink/backend/internal/models"
)

// Store persists video messages. Every Mark* method is a conditional update
// keyed on the current state: it succeeds for exactly one caller under
// concurrency and returns ErrInvalidTransition when the row is not in an
// allowed source state, so same-id operations serialize without extra locks.
type Store interface {
	Create(ctx context.Context, m *models.VideoMessage) error
	Get(ctx context.Context, id uuid.UUID) (*models.VideoMessage, error)

	// MarkCompressing moves Uploading → Compressing.
	MarkCompressing(ctx context.Context, id uuid.UUID) error
	// MarkSent moves Compressing → Sent, setting the artifact pointer, the
	// compressed size and sent_at atomically, and clearing the staging key.
	MarkSent(ctx context.Context, id uuid.UUID, artifactRef string, compressedSize int64) error
	// MarkViewed moves Sent → Viewed.
	MarkViewed(ctx context.Context, id uuid.UUID) error
	// MarkDownloaded moves Sent or Viewed → Downloaded.
	MarkDownloaded(ctx context.Context, id uuid.UUID) error
	// MarkDeleted moves Sent, Viewed or Downloaded → Deleted and clears the
	// artifact pointer. Irreversible.
	MarkDeleted(ctx context.Context, id uuid.UUID) error
	// MarkFailed moves Uploading or Compressing → Failed, clearing the staging
	// key. The row survives as an audit record.
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error

	// ListInbox returns the recipient's undeleted messages, newest first.
	// Only rows holding an artifact (Sent/Viewed/Downloaded) are visible.
	ListInbox(ctx context.Context, recipientID uuid.UUID) ([]models.InboxItem, error)
	// CountActiveByArtifact counts rows still holding artifactRef. Used to
	// decide when the shared blob of a multi-recipient batch may be destroyed.
	CountActiveByArtifact(ctx context.Context, artifactRef string) (int, error)
	// StaleCompressing returns rows stuck in Compressing since before cutoff.
	StaleCompressing(ctx context.Context, cutoff time.Time) ([]*models.VideoMessage, error)
}

// BlobStore is the slice of the blob store the lifecycle manager touches.
// Delete must be idempotent.
type BlobStore interface {
	Get(ctx context.Context, key string) (io.ReadCloser, int64, error)
	Delete(ctx context.Context, key string) error
}

// Notifier pushes inbox events to a recipient's connected clients. Optional.
type Notifier interface {
	MessageDelivered(recipientID, messageID uuid.UUID)
	MessageDeleted(recipientID, messageID uuid.UUID)
}
