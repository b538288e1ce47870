// Package lifecycle owns the video message state machine. Only the Manager
// mutates message state and the artifact pointer; once a message is Deleted
// no operation can bring the artifact back.
package lifecycle

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vidblink/backend/internal/models"
)

// Manager enforces the message state machine and artifact ownership.
type Manager struct {
	store    Store
	blobs    BlobStore
	notifier Notifier
	// cascade deletes internal messages immediately after a successful download.
	cascade bool
	logger  *zap.Logger
}

// NewManager creates a lifecycle manager. notifier may be nil.
func NewManager(store Store, blobs BlobStore, notifier Notifier, cascadeDeleteOnDownload bool, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:    store,
		blobs:    blobs,
		notifier: notifier,
		cascade:  cascadeDeleteOnDownload,
		logger:   logger,
	}
}

// Store exposes the underlying store for read-side collaborators.
func (m *Manager) Store() Store { return m.store }

// AttachArtifact moves a message from Compressing to Sent, binding the
// compressed artifact atomically with the transition. Only the compression
// pipeline calls this; it never touches an existing message's pointer.
func (m *Manager) AttachArtifact(ctx context.Context, id uuid.UUID, artifactRef string, compressedSize int64) error {
	if err := m.store.MarkSent(ctx, id, artifactRef, compressedSize); err != nil {
		return err
	}
	msg, err := m.store.Get(ctx, id)
	if err == nil && msg.RecipientID != nil && m.notifier != nil {
		m.notifier.MessageDelivered(*msg.RecipientID, id)
	}
	return nil
}

// Fail moves a pre-Sent message to Failed. The row survives as audit.
func (m *Manager) Fail(ctx context.Context, id uuid.UUID, reason string) error {
	return m.store.MarkFailed(ctx, id, reason)
}

// View marks an internal message viewed and streams its artifact. The
// Sent → Viewed transition fires once; re-viewing an already Viewed or
// Downloaded message serves the bytes without a transition.
func (m *Manager) View(ctx context.Context, id, requesterID uuid.UUID) (io.ReadCloser, *models.VideoMessage, error) {
	msg, err := m.authorizeRead(ctx, id, requesterID)
	if err != nil {
		return nil, nil, err
	}
	if msg.State == models.StateSent {
		if err := m.store.MarkViewed(ctx, id); err != nil {
			// Lost a race with a concurrent delete; the caller's view is stale.
			return nil, nil, err
		}
		msg.State = models.StateViewed
	}
	body, _, err := m.blobs.Get(ctx, msg.ArtifactRef)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("artifact %s: %w", msg.ArtifactRef, models.ErrNotFound)
		}
		return nil, nil, err
	}
	return body, msg, nil
}

// Download marks the message downloaded and returns its artifact. With the
// cascade flag on, the message is deleted immediately after the bytes are
// secured, honoring the view-once-and-gone promise.
func (m *Manager) Download(ctx context.Context, id, requesterID uuid.UUID) (io.ReadCloser, *models.VideoMessage, error) {
	msg, err := m.authorizeRead(ctx, id, requesterID)
	if err != nil {
		return nil, nil, err
	}
	if err := m.store.MarkDownloaded(ctx, id); err != nil {
		return nil, nil, err
	}
	msg.State = models.StateDownloaded

	body, _, err := m.blobs.Get(ctx, msg.ArtifactRef)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("artifact %s: %w", msg.ArtifactRef, models.ErrNotFound)
		}
		return nil, nil, err
	}
	if !m.cascade {
		return body, msg, nil
	}

	// Buffer before deleting so the cascade cannot destroy bytes mid-stream.
	data, err := io.ReadAll(body)
	body.Close()
	if err != nil {
		return nil, nil, err
	}
	if err := m.deleteMessage(ctx, msg); err != nil {
		m.logger.Warn("cascade delete failed", zap.String("message_id", id.String()), zap.Error(err))
	}
	return io.NopCloser(bytes.NewReader(data)), msg, nil
}

// Delete transitions the message to Deleted and destroys the artifact once no
// other row references it. Deleting an already-deleted message returns
// ErrInvalidTransition; the artifact store is never double-freed.
func (m *Manager) Delete(ctx context.Context, id, requesterID uuid.UUID) error {
	msg, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	allowed := msg.SenderID == requesterID ||
		(msg.RecipientID != nil && *msg.RecipientID == requesterID)
	if !allowed {
		return fmt.Errorf("message %s: %w", id, models.ErrForbidden)
	}
	return m.deleteMessage(ctx, msg)
}

// CompleteExternalDelivery finalizes an external-email message after the mail
// transport confirmed hand-off: Sent → Deleted, artifact destroyed. The
// recipient's copy now lives in their mailbox, outside this system.
func (m *Manager) CompleteExternalDelivery(ctx context.Context, id uuid.UUID) error {
	msg, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	return m.deleteMessage(ctx, msg)
}

// ListInbox returns the recipient's undeleted messages, newest first.
func (m *Manager) ListInbox(ctx context.Context, recipientID uuid.UUID) ([]models.InboxItem, error) {
	return m.store.ListInbox(ctx, recipientID)
}

// deleteMessage performs the CAS transition and, when this row was the last
// holder of the artifact, destroys the blob. Blob delete is idempotent, so a
// racing last-holder check cannot double-free.
func (m *Manager) deleteMessage(ctx context.Context, msg *models.VideoMessage) error {
	if err := m.store.MarkDeleted(ctx, msg.ID); err != nil {
		return err
	}
	if msg.ArtifactRef != "" {
		n, err := m.store.CountActiveByArtifact(ctx, msg.ArtifactRef)
		if err != nil {
			m.logger.Error("artifact refcount failed", zap.String("artifact", msg.ArtifactRef), zap.Error(err))
		} else if n == 0 {
			if err := m.blobs.Delete(ctx, msg.ArtifactRef); err != nil {
				m.logger.Error("artifact delete failed", zap.String("artifact", msg.ArtifactRef), zap.Error(err))
			}
		}
	}
	if msg.RecipientID != nil && m.notifier != nil {
		m.notifier.MessageDeleted(*msg.RecipientID, msg.ID)
	}
	m.logger.Info("message deleted", zap.String("message_id", msg.ID.String()), zap.String("channel", string(msg.Channel)))
	return nil
}

// authorizeRead loads the message and checks the requester may read its
// artifact. Reads are only defined for the internal channel.
func (m *Manager) authorizeRead(ctx context.Context, id, requesterID uuid.UUID) (*models.VideoMessage, error) {
	msg, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if msg.Channel != models.ChannelInternal {
		return nil, fmt.Errorf("message %s is %s: %w", id, msg.Channel, models.ErrInvalidTransition)
	}
	if msg.RecipientID == nil || *msg.RecipientID != requesterID {
		return nil, fmt.Errorf("message %s: %w", id, models.ErrForbidden)
	}
	switch {
	case msg.State.HasArtifact():
		return msg, nil
	case msg.State.Terminal():
		return nil, fmt.Errorf("message %s is %s: %w", id, msg.State, models.ErrInvalidTransition)
	default:
		// Still uploading or compressing; not visible to the recipient yet.
		return nil, fmt.Errorf("message %s: %w", id, models.ErrNotFound)
	}
}
