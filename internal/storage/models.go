package storage

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// base contains the common fields shared by all models.
// ID uses UUID v7 (time-ordered) for efficient B-tree indexing and natural
// chronological ordering without a separate created_at sort. CreatedAt and
// UpdatedAt are managed automatically by GORM.
type base struct {
	ID        uuid.UUID `gorm:"type:text;primaryKey"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// BeforeCreate generates a new UUID v7 if the ID is not already set.
func (b *base) BeforeCreate(tx *gorm.DB) error {
	if b.ID == (uuid.UUID{}) {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		b.ID = id
	}
	return nil
}

// -----------------------------------------------------------------------------
// Tenancy hierarchy (§3 Data Model)
// -----------------------------------------------------------------------------

// Organization is the root tenancy boundary. Created externally (e.g. by a
// provisioning system). The schema declares no foreign keys, so deleting an
// Organization row does not remove its dependent rows.
type Organization struct {
	base
	Name string `gorm:"not null"`
}

// Team is an org-scoped sub-tenancy node.
type Team struct {
	base
	OrgID uuid.UUID `gorm:"type:text;not null;index"`
	Name  string    `gorm:"not null"`
}

// User is an org-scoped identity. Password is set only for locally
// authenticated users created via the seed/admin bootstrap path.
type User struct {
	base
	OrgID    uuid.UUID       `gorm:"type:text;not null;index"`
	TeamID   *uuid.UUID      `gorm:"type:text;index"`
	Email    string          `gorm:"uniqueIndex;not null"`
	Password EncryptedString `gorm:"type:text"`
	IsActive bool            `gorm:"not null;default:true"`
}

// Agent belongs to an org and, per §3's invariant (agent_id present ⇒
// user_id present), always to a user; TeamID is carried for predicate
// completeness and mirrors the owning user's team at creation time.
type Agent struct {
	base
	OrgID  uuid.UUID  `gorm:"type:text;not null;index"`
	TeamID *uuid.UUID `gorm:"type:text;index"`
	UserID uuid.UUID  `gorm:"type:text;not null;index"`
	Name   string     `gorm:"not null"`
}

// -----------------------------------------------------------------------------
// Sessions & Episodes
// -----------------------------------------------------------------------------

// Session is a conversation envelope. Its scope tuple is immutable after
// creation — no handler updates OrgID/TeamID/UserID/AgentID post-insert.
type Session struct {
	base
	OrgID     uuid.UUID  `gorm:"type:text;not null;index"`
	TeamID    *uuid.UUID `gorm:"type:text;index"`
	UserID    *uuid.UUID `gorm:"type:text;index"`
	AgentID   *uuid.UUID `gorm:"type:text;index"`
	Metadata  string     `gorm:"type:text;default:'{}'"` // JSON
	ExpiresAt *time.Time `gorm:"index"`
}

// Episode is the atomic memory record. Role "checkpoint" has special
// semantics: Content is the serialized short-term window payload and
// Metadata carries {"message_count": N}.
type Episode struct {
	base
	OrgID     uuid.UUID  `gorm:"type:text;not null;index"`
	TeamID    *uuid.UUID `gorm:"type:text;index"`
	UserID    *uuid.UUID `gorm:"type:text;index"`
	AgentID   *uuid.UUID `gorm:"type:text;index"`
	SessionID *uuid.UUID `gorm:"type:text;index"`
	Role      string     `gorm:"not null;index"` // user|assistant|system|tool|handoff|checkpoint
	Content   string     `gorm:"type:text;not null"`
	Tags      string     `gorm:"type:text;default:'[]';index"` // JSON array; overlap-matched in Go
	Metadata  string     `gorm:"type:text;default:'{}'"`       // JSON
}

// Embedding is one-per-episode (or per-fact) vector. OrgID is duplicated
// from the owner row so the row-level guard (§4.8) applies to it directly
// without a join. No database cascade removes it with its owner:
// forgetting.Service deletes an episode's embeddings explicitly, while
// episodic.Store.Delete leaves them in place.
type Embedding struct {
	base
	OrgID      uuid.UUID  `gorm:"type:text;not null;index"`
	EpisodeID  *uuid.UUID `gorm:"type:text;index"`
	FactID     *uuid.UUID `gorm:"type:text;index"`
	Content    string     `gorm:"type:text;not null"`
	Model      string     `gorm:"not null"`
	Dimensions int        `gorm:"not null"`
	Vector     string     `gorm:"type:text;not null"` // JSON-encoded []float32; see internal/embedding/distance.go
}

// MemoryFact is the optional triple schema named in §3. No write path
// populates it (§9 leaves fact extraction unspecified); it exists purely
// so the at-rest schema is complete.
type MemoryFact struct {
	base
	OrgID          uuid.UUID  `gorm:"type:text;not null;index"`
	TeamID         *uuid.UUID `gorm:"type:text;index"`
	UserID         *uuid.UUID `gorm:"type:text;index"`
	AgentID        *uuid.UUID `gorm:"type:text;index"`
	Subject        string     `gorm:"not null"`
	Predicate      string     `gorm:"not null"`
	Object         string     `gorm:"not null"`
	Confidence     float64    `gorm:"not null;default:1"`
	ValidFrom      *time.Time
	ValidUntil     *time.Time
	SourceEpisodeID *uuid.UUID `gorm:"type:text"`
}

// -----------------------------------------------------------------------------
// API keys
// -----------------------------------------------------------------------------

// APIKey stores an issued key's hash only. The raw value is returned once
// at issuance and never persisted.
type APIKey struct {
	base
	OrgID      uuid.UUID  `gorm:"type:text;not null;index"`
	UserID     *uuid.UUID `gorm:"type:text;index"`
	AgentID    *uuid.UUID `gorm:"type:text;index"`
	Name       string     `gorm:"not null"`
	HashHex    string     `gorm:"uniqueIndex;not null"` // hex SHA-256 of the raw key
	LastUsedAt *time.Time
	ExpiresAt  *time.Time
	RevokedAt  *time.Time
}

// -----------------------------------------------------------------------------
// Audit log
// -----------------------------------------------------------------------------

// AuditLogEntry is an append-only record of a privileged mutation attempt.
// Written outside the mutating transaction so a rollback never erases it.
type AuditLogEntry struct {
	base
	OrgID        uuid.UUID  `gorm:"type:text;not null;index"`
	ActorUserID  *uuid.UUID `gorm:"type:text;index"`
	Action       string     `gorm:"not null"` // e.g. "delete_user_memories"
	Status       string     `gorm:"not null"` // attempt|success|failed
	TargetType   string     `gorm:"not null"`
	TargetID     string     `gorm:"not null"`
	RequestID    string     `gorm:"not null;index"`
	Details      string     `gorm:"type:text;default:'{}'"` // JSON
	ErrorMessage string     `gorm:"type:text;default:''"`
}

// -----------------------------------------------------------------------------
// Embedding service configuration (supplements §6 enumerated config keys)
// -----------------------------------------------------------------------------

// EmbeddingServiceConfig holds the sensitive credential needed to call the
// external embedding service. APIKey is encrypted at rest — the one field
// in Remembr's model that genuinely needs EncryptedString, since episode
// content must stay plaintext (queryable by filter_only search) and API
// keys (APIKey.HashHex above) are hashed rather than encrypted.
type EmbeddingServiceConfig struct {
	ServiceID  string          `gorm:"primaryKey"`
	BaseURL    string          `gorm:"not null"`
	APIKey     EncryptedString `gorm:"type:text;not null"`
	Model      string          `gorm:"not null"`
	Dimensions int             `gorm:"not null"`
	UpdatedAt  time.Time       `gorm:"not null;autoUpdateTime"`
}
