package models

import (
	"time"

	"github.com/google/uuid"
)

// Channel is the delivery path for a video message.
type Channel string

const (
	// ChannelInternal delivers to another user's in-app inbox.
	ChannelInternal Channel = "internal"
	// ChannelExternalEmail delivers as an email attachment to an outside address.
	ChannelExternalEmail Channel = "external_email"
)

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	return c == ChannelInternal || c == ChannelExternalEmail
}

// State is the lifecycle state of a video message.
//
// Uploading → Compressing → Sent → Viewed → Downloaded → Deleted, with Failed
// reachable from any pre-Sent state and Deleted reachable from Sent, Viewed or
// Downloaded. Deleted and Failed are terminal.
type State string

const (
	StateUploading   State = "uploading"
	StateCompressing State = "compressing"
	StateSent        State = "sent"
	StateViewed      State = "viewed"
	StateDownloaded  State = "downloaded"
	StateDeleted     State = "deleted"
	StateFailed      State = "failed"
)

// HasArtifact reports whether a message in state s holds compressed bytes.
// The artifact reference is non-empty exactly in these states.
func (s State) HasArtifact() bool {
	return s == StateSent || s == StateViewed || s == StateDownloaded
}

// Terminal reports whether no further transitions are possible from s.
func (s State) Terminal() bool {
	return s == StateDeleted || s == StateFailed
}

// VideoMessage is one sent video. Exactly one row exists per recipient per
// send action; re-sending always creates new rows.
type VideoMessage struct {
	ID      uuid.UUID `json:"id"`
	BatchID uuid.UUID `json:"batch_id"`

	SenderID       uuid.UUID  `json:"sender_id"`
	RecipientID    *uuid.UUID `json:"recipient_id,omitempty"`    // internal channel only
	RecipientEmail string     `json:"recipient_email,omitempty"` // external channel only

	Channel Channel `json:"channel"`
	State   State   `json:"state"`

	Filename    string `json:"filename"`
	MessageText string `json:"message_text,omitempty"`
	Subject     string `json:"subject,omitempty"` // external channel only

	OriginalDurationSeconds int   `json:"original_duration_seconds"`
	OriginalSizeBytes       int64 `json:"original_size_bytes"`
	SizeBudgetBytes         int64 `json:"size_budget_bytes"`
	CompressedSizeBytes     int64 `json:"compressed_size_bytes,omitempty"`

	// StagingKey points at the raw upload while compressing; cleared on Sent/Failed.
	StagingKey string `json:"-"`
	// ArtifactRef points at the stored compressed bytes; cleared on Deleted and
	// never repopulated.
	ArtifactRef string `json:"-"`

	FailureReason string `json:"failure_reason,omitempty"`

	CreatedAt    time.Time  `json:"created_at"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
	ViewedAt     *time.Time `json:"viewed_at,omitempty"`
	DownloadedAt *time.Time `json:"downloaded_at,omitempty"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// MaxMessageTextLen bounds the optional text accompanying a video.
const MaxMessageTextLen = 500

// InboxItem is the summary returned by the inbox query.
type InboxItem struct {
	ID                uuid.UUID `json:"id"`
	SenderUsername    string    `json:"sender_username"`
	SenderDisplayName string    `json:"sender_display_name,omitempty"`
	Filename          string    `json:"filename"`
	MessageText       string    `json:"message_text,omitempty"`
	SizeBytes         int64     `json:"size_bytes"`
	State             State     `json:"state"`
	SentAt            time.Time `json:"sent_at"`
}
