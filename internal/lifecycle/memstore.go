package lifecycle

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vidblink/backend/internal/models"
)

// MemStore is an in-memory Store with the same conditional-update semantics as
// PGStore. Used by unit tests and local development without Postgres.
type MemStore struct {
	mu       sync.Mutex
	messages map[uuid.UUID]*models.VideoMessage
	profiles map[uuid.UUID]models.Profile
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		messages: make(map[uuid.UUID]*models.VideoMessage),
		profiles: make(map[uuid.UUID]models.Profile),
	}
}

var _ Store = (*MemStore)(nil)

// PutProfile registers a sender profile for inbox joins.
func (s *MemStore) PutProfile(p models.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.ID] = p
}

// Create inserts a new message row, assigning id and timestamps.
func (s *MemStore) Create(ctx context.Context, m *models.VideoMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m.ID = uuid.New()
	now := time.Now()
	m.CreatedAt = now
	m.UpdatedAt = now
	cp := *m
	s.messages[m.ID] = &cp
	return nil
}

// Get returns a copy of the message, or ErrNotFound.
func (s *MemStore) Get(ctx context.Context, id uuid.UUID) (*models.VideoMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, fmt.Errorf("message %s: %w", id, models.ErrNotFound)
	}
	cp := *m
	return &cp, nil
}

// cas applies mutate under the lock when the row is in one of the allowed
// source states; otherwise ErrInvalidTransition.
func (s *MemStore) cas(id uuid.UUID, from []models.State, mutate func(*models.VideoMessage)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return fmt.Errorf("message %s: %w", id, models.ErrNotFound)
	}
	for _, st := range from {
		if m.State == st {
			mutate(m)
			m.UpdatedAt = time.Now()
			return nil
		}
	}
	return fmt.Errorf("message %s in state %s: %w", id, m.State, models.ErrInvalidTransition)
}

// MarkCompressing moves Uploading → Compressing.
func (s *MemStore) MarkCompressing(ctx context.Context, id uuid.UUID) error {
	return s.cas(id, []models.State{models.StateUploading}, func(m *models.VideoMessage) {
		m.State = models.StateCompressing
	})
}

// MarkSent moves Compressing → Sent with the artifact pointer.
func (s *MemStore) MarkSent(ctx context.Context, id uuid.UUID, artifactRef string, compressedSize int64) error {
	return s.cas(id, []models.State{models.StateCompressing}, func(m *models.VideoMessage) {
		now := time.Now()
		m.State = models.StateSent
		m.ArtifactRef = artifactRef
		m.CompressedSizeBytes = compressedSize
		m.StagingKey = ""
		m.SentAt = &now
	})
}

// MarkViewed moves Sent → Viewed.
func (s *MemStore) MarkViewed(ctx context.Context, id uuid.UUID) error {
	return s.cas(id, []models.State{models.StateSent}, func(m *models.VideoMessage) {
		now := time.Now()
		m.State = models.StateViewed
		m.ViewedAt = &now
	})
}

// MarkDownloaded moves Sent or Viewed → Downloaded.
func (s *MemStore) MarkDownloaded(ctx context.Context, id uuid.UUID) error {
	return s.cas(id, []models.State{models.StateSent, models.StateViewed}, func(m *models.VideoMessage) {
		now := time.Now()
		m.State = models.StateDownloaded
		m.DownloadedAt = &now
	})
}

// MarkDeleted moves Sent, Viewed or Downloaded → Deleted, clearing the pointer.
func (s *MemStore) MarkDeleted(ctx context.Context, id uuid.UUID) error {
	return s.cas(id, []models.State{models.StateSent, models.StateViewed, models.StateDownloaded}, func(m *models.VideoMessage) {
		now := time.Now()
		m.State = models.StateDeleted
		m.ArtifactRef = ""
		m.DeletedAt = &now
	})
}

// MarkFailed moves a pre-Sent row to Failed.
func (s *MemStore) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	return s.cas(id, []models.State{models.StateUploading, models.StateCompressing}, func(m *models.VideoMessage) {
		m.State = models.StateFailed
		m.StagingKey = ""
		m.FailureReason = reason
	})
}

// ListInbox returns the recipient's visible messages, newest first.
func (s *MemStore) ListInbox(ctx context.Context, recipientID uuid.UUID) ([]models.InboxItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var list []models.InboxItem
	for _, m := range s.messages {
		if m.RecipientID == nil || *m.RecipientID != recipientID || !m.State.HasArtifact() {
			continue
		}
		it := models.InboxItem{
			ID:          m.ID,
			Filename:    m.Filename,
			MessageText: m.MessageText,
			SizeBytes:   m.CompressedSizeBytes,
			State:       m.State,
		}
		if p, ok := s.profiles[m.SenderID]; ok {
			it.SenderUsername = p.Username
			it.SenderDisplayName = p.DisplayName
		}
		if m.SentAt != nil {
			it.SentAt = *m.SentAt
		}
		list = append(list, it)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].SentAt.After(list[j].SentAt) })
	return list, nil
}

// AllIDs returns every message id in the store, for test inspection.
func (s *MemStore) AllIDs() []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(s.messages))
	for id := range s.messages {
		ids = append(ids, id)
	}
	return ids
}

// CountActiveByArtifact counts rows still pointing at artifactRef.
func (s *MemStore) CountActiveByArtifact(ctx context.Context, artifactRef string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.messages {
		if m.ArtifactRef == artifactRef && m.State.HasArtifact() {
			n++
		}
	}
	return n, nil
}

// StaleCompressing returns rows stuck in Compressing since before cutoff.
func (s *MemStore) StaleCompressing(ctx context.Context, cutoff time.Time) ([]*models.VideoMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var list []*models.VideoMessage
	for _, m := range s.messages {
		if m.State == models.StateCompressing && m.UpdatedAt.Before(cutoff) {
			cp := *m
			list = append(list, &cp)
		}
	}
	return list, nil
}
