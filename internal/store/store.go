// Package store provides storage backends for Unsent.
//
// It defines the Store interface consumed by the dialogue core and the
// delivery sequencer, with SQLite, PostgreSQL, and in-memory
// implementations. The backend is selected by DSN detection.
package store

import (
	"strings"

	"github.com/google/uuid"
	"github.com/unsent-labs/unsent/internal/models"
)

// Store is the persistence contract for reflections, messages, stage
// definitions, and contact records.
type Store interface {
	// Reflection lifecycle.
	CreateReflection(sessionID string) (*models.Reflection, error)
	GetReflection(id uuid.UUID) (*models.Reflection, error)
	LatestReflectionBySession(sessionID string) (*models.Reflection, error)
	UpdateReflectionStage(id uuid.UUID, stage models.Stage) error
	UpdateReflectionStatus(id uuid.UUID, status models.DeliveryStatus) error
	UpdateReflectionFlowType(id uuid.UUID, flowType models.FlowType) error
	UpdateReflectionRecipient(id uuid.UUID, name string) error
	SetReflectionEmotion(id uuid.UUID, emotion string) error
	SetReflectionRelationship(id uuid.UUID, relationship string) error
	SetReflectionSummary(id uuid.UUID, summary string) error
	SetReflectionIdentity(id uuid.UUID, anonymous bool, senderName string) error
	SetReflectionDeliveryMode(id uuid.UUID, mode models.DeliveryMode) error
	SetReflectionReceiverUser(id uuid.UUID, userID uuid.UUID) error

	// Dialogue messages, append-only.
	SaveMessage(m models.Message) error
	MessagesByReflection(id uuid.UUID) ([]models.Message, error)
	LastUserMessage(id uuid.UUID) (*models.Message, error)
	PreviousStage(id uuid.UUID, steps int) (models.Stage, error)

	// Stage definitions, read-only to the dialogue core.
	GetStageDefinition(stage models.Stage) (*models.StageDefinition, error)
	UpsertStageDefinition(def models.StageDefinition) error

	// Contact records.
	GetUserBySession(sessionID string) (*models.User, error)
	FindUserByEmail(email string) (*models.User, error)
	FindUserByPhone(phone string) (*models.User, error)
	SaveUser(u models.User) error

	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithDSN sets the database connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType returns "postgres" for PostgreSQL-style DSNs and "sqlite3"
// for everything else (file paths).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return "postgres"
	}
	return "sqlite3"
}
