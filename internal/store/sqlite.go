// Package store provides storage backends for Unsent.
//
// This file implements the SQLite-backed store used for local and
// single-node deployments.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/google/uuid"
	"github.com/unsent-labs/unsent/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	// Run migrations to ensure tables exist
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

const sqliteReflectionColumns = `reflection_id, session_id, flow_type, current_stage, emotion,
	receiver_name, receiver_relationship, receiver_user_id, context_summary, summary,
	is_delivered, is_anonymous, sender_name, delivery_mode, created_at, updated_at`

func (s *SQLiteStore) CreateReflection(sessionID string) (*models.Reflection, error) {
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
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID.String(), r.SessionID, int(r.CurrentStage), int(r.IsDelivered), r.CreatedAt, r.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore CreateReflection failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to insert reflection for session %s: %w", sessionID, err)
	}
	slog.Debug("SQLiteStore CreateReflection succeeded", "reflectionID", r.ID, "sessionID", sessionID)
	return &r, nil
}

func (s *SQLiteStore) GetReflection(id uuid.UUID) (*models.Reflection, error) {
	row := s.db.QueryRow(`SELECT `+sqliteReflectionColumns+` FROM reflections WHERE reflection_id = ?`, id.String())
	r, err := scanReflection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrReflectionNotFound
	}
	if err != nil {
		slog.Error("SQLiteStore GetReflection failed", "error", err, "reflectionID", id)
		return nil, fmt.Errorf("failed to get reflection %s: %w", id, err)
	}
	return r, nil
}

func (s *SQLiteStore) LatestReflectionBySession(sessionID string) (*models.Reflection, error) {
	row := s.db.QueryRow(`SELECT `+sqliteReflectionColumns+` FROM reflections WHERE session_id = ?
		ORDER BY created_at DESC, reflection_id DESC LIMIT 1`, sessionID)
	r, err := scanReflection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrReflectionNotFound
	}
	if err != nil {
		slog.Error("SQLiteStore LatestReflectionBySession failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to get latest reflection for session %s: %w", sessionID, err)
	}
	return r, nil
}

// updateReflection runs an UPDATE that also bumps updated_at, and maps a
// zero-row result to ErrReflectionNotFound.
func (s *SQLiteStore) updateReflection(op, set string, args ...interface{}) error {
	id := args[len(args)-1]
	query := `UPDATE reflections SET ` + set + `, updated_at = ? WHERE reflection_id = ?`
	withTime := append(append([]interface{}{}, args[:len(args)-1]...), time.Now().UTC(), id)
	res, err := s.db.Exec(query, withTime...)
	if err != nil {
		slog.Error("SQLiteStore "+op+" failed", "error", err, "reflectionID", id)
		return fmt.Errorf("failed to update reflection %v: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result for reflection %v: %w", id, err)
	}
	if n == 0 {
		return models.ErrReflectionNotFound
	}
	slog.Debug("SQLiteStore "+op+" succeeded", "reflectionID", id)
	return nil
}

func (s *SQLiteStore) UpdateReflectionStage(id uuid.UUID, stage models.Stage) error {
	return s.updateReflection("UpdateReflectionStage", "current_stage = ?", int(stage), id.String())
}

func (s *SQLiteStore) UpdateReflectionStatus(id uuid.UUID, status models.DeliveryStatus) error {
	return s.updateReflection("UpdateReflectionStatus", "is_delivered = ?", int(status), id.String())
}

func (s *SQLiteStore) UpdateReflectionFlowType(id uuid.UUID, flowType models.FlowType) error {
	return s.updateReflection("UpdateReflectionFlowType", "flow_type = ?", string(flowType), id.String())
}

func (s *SQLiteStore) UpdateReflectionRecipient(id uuid.UUID, name string) error {
	return s.updateReflection("UpdateReflectionRecipient", "receiver_name = ?", name, id.String())
}

func (s *SQLiteStore) SetReflectionEmotion(id uuid.UUID, emotion string) error {
	return s.updateReflection("SetReflectionEmotion", "emotion = ?", emotion, id.String())
}

func (s *SQLiteStore) SetReflectionRelationship(id uuid.UUID, relationship string) error {
	return s.updateReflection("SetReflectionRelationship", "receiver_relationship = ?", relationship, id.String())
}

func (s *SQLiteStore) SetReflectionSummary(id uuid.UUID, summary string) error {
	return s.updateReflection("SetReflectionSummary", "summary = ?", summary, id.String())
}

func (s *SQLiteStore) SetReflectionIdentity(id uuid.UUID, anonymous bool, senderName string) error {
	return s.updateReflection("SetReflectionIdentity", "is_anonymous = ?, sender_name = ?",
		anonymous, nilIfEmpty(senderName), id.String())
}

func (s *SQLiteStore) SetReflectionDeliveryMode(id uuid.UUID, mode models.DeliveryMode) error {
	return s.updateReflection("SetReflectionDeliveryMode", "delivery_mode = ?", int(mode), id.String())
}

func (s *SQLiteStore) SetReflectionReceiverUser(id uuid.UUID, userID uuid.UUID) error {
	return s.updateReflection("SetReflectionReceiverUser", "receiver_user_id = ?", userID.String(), id.String())
}

func (s *SQLiteStore) SaveMessage(m models.Message) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`INSERT INTO messages (msg_id, reflection_id, sender, body, stage, is_distress, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID.String(), m.ReflectionID.String(), int(m.Sender), m.Body, int(m.Stage), m.IsDistress, m.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveMessage failed", "error", err, "reflectionID", m.ReflectionID)
		return fmt.Errorf("failed to insert message for reflection %s: %w", m.ReflectionID, err)
	}
	slog.Debug("SQLiteStore SaveMessage succeeded", "reflectionID", m.ReflectionID, "sender", m.Sender, "stage", m.Stage)
	return nil
}

func (s *SQLiteStore) MessagesByReflection(id uuid.UUID) ([]models.Message, error) {
	rows, err := s.db.Query(`SELECT msg_id, reflection_id, sender, body, stage, is_distress, created_at
		FROM messages WHERE reflection_id = ? ORDER BY created_at, msg_id`, id.String())
	if err != nil {
		slog.Error("SQLiteStore MessagesByReflection query failed", "error", err, "reflectionID", id)
		return nil, fmt.Errorf("failed to query messages for reflection %s: %w", id, err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			slog.Error("SQLiteStore MessagesByReflection scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate message rows: %w", err)
	}
	return messages, nil
}

func (s *SQLiteStore) LastUserMessage(id uuid.UUID) (*models.Message, error) {
	row := s.db.QueryRow(`SELECT msg_id, reflection_id, sender, body, stage, is_distress, created_at
		FROM messages WHERE reflection_id = ? AND sender = ?
		ORDER BY created_at DESC, msg_id DESC LIMIT 1`, id.String(), int(models.SenderUser))
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore LastUserMessage failed", "error", err, "reflectionID", id)
		return nil, fmt.Errorf("failed to get last user message for reflection %s: %w", id, err)
	}
	return m, nil
}

func (s *SQLiteStore) PreviousStage(id uuid.UUID, steps int) (models.Stage, error) {
	var stage int
	err := s.db.QueryRow(`SELECT stage FROM messages WHERE reflection_id = ? AND sender = ?
		ORDER BY created_at DESC, msg_id DESC LIMIT 1 OFFSET ?`,
		id.String(), int(models.SenderAssistant), steps).Scan(&stage)
	if errors.Is(err, sql.ErrNoRows) {
		return models.StageWelcome, nil
	}
	if err != nil {
		slog.Error("SQLiteStore PreviousStage failed", "error", err, "reflectionID", id, "steps", steps)
		return 0, fmt.Errorf("failed to get previous stage for reflection %s: %w", id, err)
	}
	return models.Stage(stage), nil
}

func (s *SQLiteStore) GetStageDefinition(stage models.Stage) (*models.StageDefinition, error) {
	row := s.db.QueryRow(`SELECT stage_id, name, flow_type, is_static, audience, template, next_stage
		FROM stage_definitions WHERE stage_id = ?`, int(stage))
	d, err := scanStageDefinition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrStageNotFound
	}
	if err != nil {
		slog.Error("SQLiteStore GetStageDefinition failed", "error", err, "stage", stage)
		return nil, fmt.Errorf("failed to get stage definition %d: %w", stage, err)
	}
	return d, nil
}

func (s *SQLiteStore) UpsertStageDefinition(def models.StageDefinition) error {
	_, err := s.db.Exec(`INSERT INTO stage_definitions (stage_id, name, flow_type, is_static, audience, template, next_stage)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(stage_id) DO UPDATE SET name = excluded.name, flow_type = excluded.flow_type,
			is_static = excluded.is_static, audience = excluded.audience,
			template = excluded.template, next_stage = excluded.next_stage`,
		int(def.StageID), def.Name, nilIfEmpty(string(def.FlowType)), def.IsStatic,
		int(def.Audience), def.Template, nextStageValue(def.NextStage))
	if err != nil {
		slog.Error("SQLiteStore UpsertStageDefinition failed", "error", err, "stage", def.StageID)
		return fmt.Errorf("failed to upsert stage definition %d: %w", def.StageID, err)
	}
	return nil
}

func (s *SQLiteStore) GetUserBySession(sessionID string) (*models.User, error) {
	return s.getUser(`session_id = ?`, sessionID)
}

func (s *SQLiteStore) FindUserByEmail(email string) (*models.User, error) {
	return s.getUser(`email = ?`, email)
}

func (s *SQLiteStore) FindUserByPhone(phone string) (*models.User, error) {
	return s.getUser(`phone = ?`, phone)
}

// getUser fetches a single user by the given predicate. A missing user is
// reported as (nil, nil) so callers can branch on presence.
func (s *SQLiteStore) getUser(where string, arg interface{}) (*models.User, error) {
	row := s.db.QueryRow(`SELECT user_id, session_id, name, email, phone, created_at FROM users WHERE `+where+` LIMIT 1`, arg)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore getUser failed", "error", err)
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

func (s *SQLiteStore) SaveUser(u models.User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`INSERT INTO users (user_id, session_id, name, email, phone, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET session_id = excluded.session_id, name = excluded.name,
			email = excluded.email, phone = excluded.phone`,
		u.ID.String(), nilIfEmpty(u.SessionID), nilIfEmpty(u.Name), nilIfEmpty(u.Email), nilIfEmpty(u.Phone), u.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveUser failed", "error", err, "userID", u.ID)
		return fmt.Errorf("failed to save user %s: %w", u.ID, err)
	}
	slog.Debug("SQLiteStore SaveUser succeeded", "userID", u.ID)
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
