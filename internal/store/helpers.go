package store

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/unsent-labs/unsent/internal/models"
)

// rowScanner is satisfied by both *sql.Row and *sql.Rows, so each scan
// helper works for single-row and multi-row queries.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// scanReflection scans a reflection row in the column order used by all
// reflection queries.
func scanReflection(row rowScanner) (*models.Reflection, error) {
	var r models.Reflection
	var id string
	var flowType, emotion, receiverName, receiverRel, receiverUserID sql.NullString
	var contextSummary, summary, senderName sql.NullString
	var isAnonymous sql.NullBool
	var deliveryMode sql.NullInt64
	err := row.Scan(
		&id, &r.SessionID, &flowType, &r.CurrentStage, &emotion,
		&receiverName, &receiverRel, &receiverUserID, &contextSummary, &summary,
		&r.IsDelivered, &isAnonymous, &senderName, &deliveryMode,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid reflection id %q: %w", id, err)
	}
	r.FlowType = models.FlowType(flowType.String)
	r.Emotion = emotion.String
	r.ReceiverName = receiverName.String
	r.ReceiverRelationship = receiverRel.String
	r.ContextSummary = contextSummary.String
	r.Summary = summary.String
	r.SenderName = senderName.String
	if receiverUserID.Valid {
		uid, err := uuid.Parse(receiverUserID.String)
		if err != nil {
			return nil, fmt.Errorf("invalid receiver user id %q: %w", receiverUserID.String, err)
		}
		r.ReceiverUserID = &uid
	}
	if isAnonymous.Valid {
		r.IsAnonymous = models.BoolPtr(isAnonymous.Bool)
	}
	if deliveryMode.Valid {
		r.DeliveryMode = models.ModePtr(models.DeliveryMode(deliveryMode.Int64))
	}
	return &r, nil
}

// scanMessage scans a message row in the shared column order.
func scanMessage(row rowScanner) (*models.Message, error) {
	var m models.Message
	var id, reflectionID string
	err := row.Scan(&id, &reflectionID, &m.Sender, &m.Body, &m.Stage, &m.IsDistress, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	m.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid message id %q: %w", id, err)
	}
	m.ReflectionID, err = uuid.Parse(reflectionID)
	if err != nil {
		return nil, fmt.Errorf("invalid message reflection id %q: %w", reflectionID, err)
	}
	return &m, nil
}

// scanStageDefinition scans a stage definition row.
func scanStageDefinition(row rowScanner) (*models.StageDefinition, error) {
	var d models.StageDefinition
	var flowType sql.NullString
	var nextStage sql.NullInt64
	err := row.Scan(&d.StageID, &d.Name, &flowType, &d.IsStatic, &d.Audience, &d.Template, &nextStage)
	if err != nil {
		return nil, err
	}
	d.FlowType = models.FlowType(flowType.String)
	if nextStage.Valid {
		d.NextStage = models.StagePtr(models.Stage(nextStage.Int64))
	}
	return &d, nil
}

// scanUser scans a user row.
func scanUser(row rowScanner) (*models.User, error) {
	var u models.User
	var id string
	var sessionID, name, email, phone sql.NullString
	err := row.Scan(&id, &sessionID, &name, &email, &phone, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	u.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid user id %q: %w", id, err)
	}
	u.SessionID = sessionID.String
	u.Name = name.String
	u.Email = email.String
	u.Phone = phone.String
	return &u, nil
}

// nextStageValue converts an optional successor stage to a driver value.
func nextStageValue(s *models.Stage) interface{} {
	if s == nil {
		return nil
	}
	return int64(*s)
}
