package models

import (
	"fmt"
	"time"
)

// PollStatus is the lifecycle state of a poll. A poll only ever moves from
// open to closed.
type PollStatus string

const (
	PollStatusOpen   PollStatus = "open"
	PollStatusClosed PollStatus = "closed"
)

// MaxOptions is the largest number of options a poll can carry.
const MaxOptions = 46

// VisibilitySetting controls who may see voter names or vote counts.
type VisibilitySetting string

const (
	VisibleToEveryone VisibilitySetting = "everyone"
	VisibleToCreator  VisibilitySetting = "only_me"
	VisibleToNoOne    VisibilitySetting = "no_one"
)

// Valid reports whether s is one of the known settings.
func (s VisibilitySetting) Valid() bool {
	switch s {
	case VisibleToEveryone, VisibleToCreator, VisibleToNoOne:
		return true
	}
	return false
}

// Visibility holds the four independent visibility settings of a poll.
// "During" applies while the poll is open, "After" once it is closed.
type Visibility struct {
	NamesDuring  VisibilitySetting `gorm:"size:16;not null" json:"names_during"`
	NamesAfter   VisibilitySetting `gorm:"size:16;not null" json:"names_after"`
	CountsDuring VisibilitySetting `gorm:"size:16;not null" json:"counts_during"`
	CountsAfter  VisibilitySetting `gorm:"size:16;not null" json:"counts_after"`
}

// DefaultVisibility shows everything to everyone.
func DefaultVisibility() Visibility {
	return Visibility{
		NamesDuring:  VisibleToEveryone,
		NamesAfter:   VisibleToEveryone,
		CountsDuring: VisibleToEveryone,
		CountsAfter:  VisibleToEveryone,
	}
}

// WithDefaults fills unset settings with VisibleToEveryone.
func (v Visibility) WithDefaults() Visibility {
	for _, s := range []*VisibilitySetting{&v.NamesDuring, &v.NamesAfter, &v.CountsDuring, &v.CountsAfter} {
		if *s == "" {
			*s = VisibleToEveryone
		}
	}
	return v
}

// Poll is the stored poll record, keyed by ID.
type Poll struct {
	ID              string     `gorm:"primaryKey;size:64" json:"id"`
	Title           string     `gorm:"type:text;not null" json:"title"`
	ChannelID       string     `gorm:"size:64" json:"channel_id,omitempty"`
	CreatorID       string     `gorm:"size:64;not null" json:"creator_id"`
	Options         []string   `gorm:"serializer:json;type:text" json:"options"`
	MaxVotesPerUser int        `gorm:"not null;default:0" json:"max_votes_per_user"` // 0 means unlimited
	CloseAt         time.Time  `json:"close_at"`
	Status          PollStatus `gorm:"size:16;not null;index" json:"status"`
	Visibility      Visibility `gorm:"embedded;embeddedPrefix:visibility_" json:"visibility"`
	SchedulerHandle string     `gorm:"size:64" json:"scheduler_handle,omitempty"`
	ClosedAt        *time.Time `json:"closed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// IsClosed reports whether the poll has been closed.
func (p *Poll) IsClosed() bool {
	return p.Status == PollStatusClosed
}

// IsCreator reports whether userID owns the poll.
func (p *Poll) IsCreator(userID string) bool {
	return userID != "" && p.CreatorID == userID
}

// OptionLabel returns the label of a 1-based option index, or "" when the
// index is out of range.
func (p *Poll) OptionLabel(optionIndex int) string {
	if optionIndex < 1 || optionIndex > len(p.Options) {
		return ""
	}
	return p.Options[optionIndex-1]
}

// VoteBucket is the ledger record for one (poll, bucket) pair. Encoding holds
// the "|" and "," packed voter lists maintained by package ledger.
type VoteBucket struct {
	ID          string    `gorm:"primaryKey;size:96" json:"id"`
	PollID      string    `gorm:"size:64;not null;index" json:"poll_id"`
	BucketIndex int       `gorm:"not null" json:"bucket_index"`
	Encoding    string    `gorm:"type:text" json:"user_ids"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// BucketKey returns the storage key of a poll's bucket record.
func BucketKey(pollID string, bucketIndex int) string {
	return fmt.Sprintf("%s_%d", pollID, bucketIndex)
}

// NewVoteBucket returns an empty bucket record for a poll.
func NewVoteBucket(pollID string, bucketIndex int) *VoteBucket {
	return &VoteBucket{
		ID:          BucketKey(pollID, bucketIndex),
		PollID:      pollID,
		BucketIndex: bucketIndex,
	}
}

// GlobalSettingsID is the key of the single settings record.
const GlobalSettingsID = "global"

// GlobalSettings records process-independent, install-once state.
type GlobalSettings struct {
	ID             string    `gorm:"primaryKey;size:32" json:"id"`
	SweepInstalled bool      `gorm:"not null;default:false" json:"sweep_installed"`
	SweepHandle    string    `gorm:"size:64" json:"sweep_handle,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName pins the settings table name.
func (GlobalSettings) TableName() string {
	return "global_settings"
}
