// Package store provides storage backends for Unsent.
//
// This file implements the PostgreSQL-backed store used in shared
// deployments.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/unsent-labs/unsent/internal/models"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	// Configure connection pool for better performance
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	// Run migrations to ensure tables exist
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

const postgresReflectionColumns = `reflection_id, session_id, flow_type, current_stage, emotion,
	receiver_name, receiver_relationship, receiver_user_id, context_summary, summary,
	is_delivered, is_anonymous, sender_name, delivery_mode, created_at, updated_at`

func (s *PostgresStore) CreateReflection(sessionID string) (*models.Reflection, error) {
	now := time.Now().UTC()
	r := models.Reflection{
		ID:           uuid.New(),
		SessionID:    sessionID,
		CurrentStage: models.StageWelcome,
		IsDelivered:  models.StatusInProgress,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	_, err := s.db.Exec(`INSERT INTO reflections (reflection_id, session_id, current_stage, is_delivered, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID.String(), r.SessionID, int(r.CurrentStage), int(r.IsDelivered), r.CreatedAt, r.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore CreateReflection failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to insert reflection for session %s: %w", sessionID, err)
	}
	slog.Debug("PostgresStore CreateReflection succeeded", "reflectionID", r.ID, "sessionID", sessionID)
	return &r, nil
}

func (s *PostgresStore) GetReflection(id uuid.UUID) (*models.Reflection, error) {
	row := s.db.QueryRow(`SELECT `+postgresReflectionColumns+` FROM reflections WHERE reflection_id = $1`, id.String())
	r, err := scanReflection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrReflectionNotFound
	}
	if err != nil {
		slog.Error("PostgresStore GetReflection failed", "error", err, "reflectionID", id)
		return nil, fmt.Errorf("failed to get reflection %s: %w", id, err)
	}
	return r, nil
}

func (s *PostgresStore) LatestReflectionBySession(sessionID string) (*models.Reflection, error) {
	row := s.db.QueryRow(`SELECT `+postgresReflectionColumns+` FROM reflections WHERE session_id = $1
		ORDER BY created_at DESC, reflection_id DESC LIMIT 1`, sessionID)
	r, err := scanReflection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrReflectionNotFound
	}
	if err != nil {
		slog.Error("PostgresStore LatestReflectionBySession failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to get latest reflection for session %s: %w", sessionID, err)
	}
	return r, nil
}

// updateReflection runs an UPDATE that also bumps updated_at, and maps a
// zero-row result to ErrReflectionNotFound. The SET clause uses $1..$n for
// its values; updated_at and the id take the next two placeholders.
func (s *PostgresStore) updateReflection(op, set string, args ...interface{}) error {
	id := args[len(args)-1]
	n := len(args)
	query := fmt.Sprintf(`UPDATE reflections SET %s, updated_at = $%d WHERE reflection_id = $%d`, set, n, n+1)
	withTime := append(append([]interface{}{}, args[:n-1]...), time.Now().UTC(), id)
	res, err := s.db.Exec(query, withTime...)
	if err != nil {
		slog.Error("PostgresStore "+op+" failed", "error", err, "reflectionID", id)
		return fmt.Errorf("failed to update reflection %v: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result for reflection %v: %w", id, err)
	}
	if affected == 0 {
		return models.ErrReflectionNotFound
	}
	slog.Debug("PostgresStore "+op+" succeeded", "reflectionID", id)
	return nil
}

func (s *PostgresStore) UpdateReflectionStage(id uuid.UUID, stage models.Stage) error {
	return s.updateReflection("UpdateReflectionStage", "current_stage = $1", int(stage), id.String())
}

func (s *PostgresStore) UpdateReflectionStatus(id uuid.UUID, status models.DeliveryStatus) error {
	return s.updateReflection("UpdateReflectionStatus", "is_delivered = $1", int(status), id.String())
}

func (s *PostgresStore) UpdateReflectionFlowType(id uuid.UUID, flowType models.FlowType) error {
	return s.updateReflection("UpdateReflectionFlowType", "flow_type = $1", string(flowType), id.String())
}

func (s *PostgresStore) UpdateReflectionRecipient(id uuid.UUID, name string) error {
	return s.updateReflection("UpdateReflectionRecipient", "receiver_name = $1", name, id.String())
}

func (s *PostgresStore) SetReflectionEmotion(id uuid.UUID, emotion string) error {
	return s.updateReflection("SetReflectionEmotion", "emotion = $1", emotion, id.String())
}

func (s *PostgresStore) SetReflectionRelationship(id uuid.UUID, relationship string) error {
	return s.updateReflection("SetReflectionRelationship", "receiver_relationship = $1", relationship, id.String())
}

func (s *PostgresStore) SetReflectionSummary(id uuid.UUID, summary string) error {
	return s.updateReflection("SetReflectionSummary", "summary = $1", summary, id.String())
}

func (s *PostgresStore) SetReflectionIdentity(id uuid.UUID, anonymous bool, senderName string) error {
	return s.updateReflection("SetReflectionIdentity", "is_anonymous = $1, sender_name = $2",
		anonymous, nilIfEmpty(senderName), id.String())
}

func (s *PostgresStore) SetReflectionDeliveryMode(id uuid.UUID, mode models.DeliveryMode) error {
	return s.updateReflection("SetReflectionDeliveryMode", "delivery_mode = $1", int(mode), id.String())
}

func (s *PostgresStore) SetReflectionReceiverUser(id uuid.UUID, userID uuid.UUID) error {
	return s.updateReflection("SetReflectionReceiverUser", "receiver_user_id = $1", userID.String(), id.String())
}

func (s *PostgresStore) SaveMessage(m models.Message) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`INSERT INTO messages (msg_id, reflection_id, sender, body, stage, is_distress, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID.String(), m.ReflectionID.String(), int(m.Sender), m.Body, int(m.Stage), m.IsDistress, m.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveMessage failed", "error", err, "reflectionID", m.ReflectionID)
		return fmt.Errorf("failed to insert message for reflection %s: %w", m.ReflectionID, err)
	}
	return nil
}

func (s *PostgresStore) MessagesByReflection(id uuid.UUID) ([]models.Message, error) {
	rows, err := s.db.Query(`SELECT msg_id, reflection_id, sender, body, stage, is_distress, created_at
		FROM messages WHERE reflection_id = $1 ORDER BY created_at, msg_id`, id.String())
	if err != nil {
		slog.Error("PostgresStore MessagesByReflection query failed", "error", err, "reflectionID", id)
		return nil, fmt.Errorf("failed to query messages for reflection %s: %w", id, err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			slog.Error("PostgresStore MessagesByReflection scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate message rows: %w", err)
	}
	return messages, nil
}

func (s *PostgresStore) LastUserMessage(id uuid.UUID) (*models.Message, error) {
	row := s.db.QueryRow(`SELECT msg_id, reflection_id, sender, body, stage, is_distress, created_at
		FROM messages WHERE reflection_id = $1 AND sender = $2
		ORDER BY created_at DESC, msg_id DESC LIMIT 1`, id.String(), int(models.SenderUser))
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore LastUserMessage failed", "error", err, "reflectionID", id)
		return nil, fmt.Errorf("failed to get last user message for reflection %s: %w", id, err)
	}
	return m, nil
}

func (s *PostgresStore) PreviousStage(id uuid.UUID, steps int) (models.Stage, error) {
	var stage int
	err := s.db.QueryRow(`SELECT stage FROM messages WHERE reflection_id = $1 AND sender = $2
		ORDER BY created_at DESC, msg_id DESC LIMIT 1 OFFSET $3`,
		id.String(), int(models.SenderAssistant), steps).Scan(&stage)
	if errors.Is(err, sql.ErrNoRows) {
		return models.StageWelcome, nil
	}
	if err != nil {
		slog.Error("PostgresStore PreviousStage failed", "error", err, "reflectionID", id, "steps", steps)
		return 0, fmt.Errorf("failed to get previous stage for reflection %s: %w", id, err)
	}
	return models.Stage(stage), nil
}

func (s *PostgresStore) GetStageDefinition(stage models.Stage) (*models.StageDefinition, error) {
	row := s.db.QueryRow(`SELECT stage_id, name, flow_type, is_static, audience, template, next_stage
		FROM stage_definitions WHERE stage_id = $1`, int(stage))
	d, err := scanStageDefinition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrStageNotFound
	}
	if err != nil {
		slog.Error("PostgresStore GetStageDefinition failed", "error", err, "stage", stage)
		return nil, fmt.Errorf("failed to get stage definition %d: %w", stage, err)
	}
	return d, nil
}

func (s *PostgresStore) UpsertStageDefinition(def models.StageDefinition) error {
	_, err := s.db.Exec(`INSERT INTO stage_definitions (stage_id, name, flow_type, is_static, audience, template, next_stage)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT(stage_id) DO UPDATE SET name = excluded.name, flow_type = excluded.flow_type,
			is_static = excluded.is_static, audience = excluded.audience,
			template = excluded.template, next_stage = excluded.next_stage`,
		int(def.StageID), def.Name, nilIfEmpty(string(def.FlowType)), def.IsStatic,
		int(def.Audience), def.Template, nextStageValue(def.NextStage))
	if err != nil {
		slog.Error("PostgresStore UpsertStageDefinition failed", "error", err, "stage", def.StageID)
		return fmt.Errorf("failed to upsert stage definition %d: %w", def.StageID, err)
	}
	return nil
}

func (s *PostgresStore) GetUserBySession(sessionID string) (*models.User, error) {
	return s.getUser(`session_id = $1`, sessionID)
}

func (s *PostgresStore) FindUserByEmail(email string) (*models.User, error) {
	return s.getUser(`email = $1`, email)
}

func (s *PostgresStore) FindUserByPhone(phone string) (*models.User, error) {
	return s.getUser(`phone = $1`, phone)
}

func (s *PostgresStore) getUser(where string, arg interface{}) (*models.User, error) {
	row := s.db.QueryRow(`SELECT user_id, session_id, name, email, phone, created_at FROM users WHERE `+where+` LIMIT 1`, arg)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore getUser failed", "error", err)
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) SaveUser(u models.User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`INSERT INTO users (user_id, session_id, name, email, phone, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT(user_id) DO UPDATE SET session_id = excluded.session_id, name = excluded.name,
			email = excluded.email, phone = excluded.phone`,
		u.ID.String(), nilIfEmpty(u.SessionID), nilIfEmpty(u.Name), nilIfEmpty(u.Email), nilIfEmpty(u.Phone), u.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveUser failed", "error", err, "userID", u.ID)
		return fmt.Errorf("failed to save user %s: %w", u.ID, err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
