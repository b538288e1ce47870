package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vidblink/backend/internal/models"
)

// PGStore is the Postgres-backed Store. State transitions are single
// conditional UPDATEs, so Postgres row locking provides the per-message
// serialization the state machine requires.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates a Postgres message store.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

var _ Store = (*PGStore)(nil)

const messageColumns = `id, batch_id, sender_id, recipient_id, recipient_email, channel, state,
	filename, message_text, subject,
	original_duration_seconds, original_size_bytes, size_budget_bytes, compressed_size_bytes,
	staging_key, artifact_ref, failure_reason,
	created_at, sent_at, viewed_at, downloaded_at, deleted_at, updated_at`

func scanMessage(row pgx.Row) (*models.VideoMessage, error) {
	var m models.VideoMessage
	err := row.Scan(&m.ID, &m.BatchID, &m.SenderID, &m.RecipientID, &m.RecipientEmail, &m.Channel, &m.State,
		&m.Filename, &m.MessageText, &m.Subject,
		&m.OriginalDurationSeconds, &m.OriginalSizeBytes, &m.SizeBudgetBytes, &m.CompressedSizeBytes,
		&m.StagingKey, &m.ArtifactRef, &m.FailureReason,
		&m.CreatedAt, &m.SentAt, &m.ViewedAt, &m.DownloadedAt, &m.DeletedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Create inserts a new message row.
func (s *PGStore) Create(ctx context.Context, m *models.VideoMessage) error {
	const q = `INSERT INTO video_messages
		(id, batch_id, sender_id, recipient_id, recipient_email, channel, state,
		 filename, message_text, subject,
		 original_duration_seconds, original_size_bytes, size_budget_bytes, staging_key)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at, updated_at`
	return s.pool.QueryRow(ctx, q,
		m.BatchID, m.SenderID, m.RecipientID, m.RecipientEmail, m.Channel, m.State,
		m.Filename, m.MessageText, m.Subject,
		m.OriginalDurationSeconds, m.OriginalSizeBytes, m.SizeBudgetBytes, m.StagingKey).
		Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
}

// Get returns a message by id, or ErrNotFound.
func (s *PGStore) Get(ctx context.Context, id uuid.UUID) (*models.VideoMessage, error) {
	q := `SELECT ` + messageColumns + ` FROM video_messages WHERE id = $1`
	m, err := scanMessage(s.pool.QueryRow(ctx, q, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("message %s: %w", id, models.ErrNotFound)
		}
		return nil, err
	}
	return m, nil
}

// cas runs a conditional update and maps zero affected rows to
// ErrInvalidTransition (or ErrNotFound when the row does not exist at all).
func (s *PGStore) cas(ctx context.Context, id uuid.UUID, q string, args ...interface{}) error {
	tag, err := s.pool.Exec(ctx, q, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM video_messages WHERE id = $1)`, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("message %s: %w", id, models.ErrNotFound)
		}
		return fmt.Errorf("message %s: %w", id, models.ErrInvalidTransition)
	}
	return nil
}

// MarkCompressing moves Uploading → Compressing.
func (s *PGStore) MarkCompressing(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE video_messages SET state = 'compressing', updated_at = NOW()
		WHERE id = $1 AND state = 'uploading'`
	return s.cas(ctx, id, q, id)
}

// MarkSent moves Compressing → Sent with the artifact pointer.
func (s *PGStore) MarkSent(ctx context.Context, id uuid.UUID, artifactRef string, compressedSize int64) error {
	const q = `UPDATE video_messages
		SET state = 'sent', artifact_ref = $2, compressed_size_bytes = $3,
		    staging_key = '', sent_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND state = 'compressing'`
	return s.cas(ctx, id, q, id, artifactRef, compressedSize)
}

// MarkViewed moves Sent → Viewed.
func (s *PGStore) MarkViewed(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE video_messages SET state = 'viewed', viewed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND state = 'sent'`
	return s.cas(ctx, id, q, id)
}

// MarkDownloaded moves Sent or Viewed → Downloaded.
func (s *PGStore) MarkDownloaded(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE video_messages SET state = 'downloaded', downloaded_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND state IN ('sent', 'viewed')`
	return s.cas(ctx, id, q, id)
}

// MarkDeleted moves Sent, Viewed or Downloaded → Deleted, clearing the
// artifact pointer. Exactly one of two racing deletes succeeds.
func (s *PGStore) MarkDeleted(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE video_messages
		SET state = 'deleted', artifact_ref = '', deleted_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND state IN ('sent', 'viewed', 'downloaded')`
	return s.cas(ctx, id, q, id)
}

// MarkFailed moves a pre-Sent row to Failed.
func (s *PGStore) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	const q = `UPDATE video_messages
		SET state = 'failed', staging_key = '', failure_reason = $2, updated_at = NOW()
		WHERE id = $1 AND state IN ('uploading', 'compressing')`
	return s.cas(ctx, id, q, id, reason)
}

// ListInbox returns the recipient's visible messages with sender profile,
// newest first.
func (s *PGStore) ListInbox(ctx context.Context, recipientID uuid.UUID) ([]models.InboxItem, error) {
	const q = `SELECT m.id, u.username, COALESCE(u.display_name, ''), m.filename, m.message_text,
		m.compressed_size_bytes, m.state, m.sent_at
		FROM video_messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.recipient_id = $1 AND m.state IN ('sent', 'viewed', 'downloaded')
		ORDER BY m.sent_at DESC`
	rows, err := s.pool.Query(ctx, q, recipientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.InboxItem
	for rows.Next() {
		var it models.InboxItem
		var sentAt *time.Time
		if err := rows.Scan(&it.ID, &it.SenderUsername, &it.SenderDisplayName, &it.Filename, &it.MessageText,
			&it.SizeBytes, &it.State, &sentAt); err != nil {
			return nil, err
		}
		if sentAt != nil {
			it.SentAt = *sentAt
		}
		list = append(list, it)
	}
	return list, rows.Err()
}

// CountActiveByArtifact counts rows still pointing at artifactRef.
func (s *PGStore) CountActiveByArtifact(ctx context.Context, artifactRef string) (int, error) {
	const q = `SELECT COUNT(*) FROM video_messages
		WHERE artifact_ref = $1 AND state IN ('sent', 'viewed', 'downloaded')`
	var n int
	if err := s.pool.QueryRow(ctx, q, artifactRef).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// StaleCompressing returns rows stuck in Compressing since before cutoff.
func (s *PGStore) StaleCompressing(ctx context.Context, cutoff time.Time) ([]*models.VideoMessage, error) {
	q := `SELECT ` + messageColumns + ` FROM video_messages
		WHERE state = 'compressing' AND updated_at < $1`
	rows, err := s.pool.Query(ctx, q, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.VideoMessage
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	return list, rows.Err()
}
