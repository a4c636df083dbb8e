// Package store provides storage backends for Unsent.
//
// This file implements an in-memory store used by tests and throwaway
// local runs. It is safe for concurrent use.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/unsent-labs/unsent/internal/models"
)

// InMemoryStore keeps all state in process memory.
type InMemoryStore struct {
	mu          sync.Mutex
	reflections map[uuid.UUID]*models.Reflection
	messages    map[uuid.UUID][]models.Message
	stages      map[models.Stage]models.StageDefinition
	users       map[uuid.UUID]models.User
}

// NewInMemoryStore creates a new in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		reflections: make(map[uuid.UUID]*models.Reflection),
		messages:    make(map[uuid.UUID][]models.Message),
		stages:      make(map[models.Stage]models.StageDefinition),
		users:       make(map[uuid.UUID]models.User),
	}
}

func (s *InMemoryStore) CreateReflection(sessionID string) (*models.Reflection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	r := &models.Reflection{
		ID:           uuid.New(),
		SessionID:    sessionID,
		CurrentStage: models.StageWelcome,
		IsDelivered:  models.StatusInProgress,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.reflections[r.ID] = r
	return copyReflection(r), nil
}

func (s *InMemoryStore) GetReflection(id uuid.UUID) (*models.Reflection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reflections[id]
	if !ok {
		return nil, models.ErrReflectionNotFound
	}
	return copyReflection(r), nil
}

func (s *InMemoryStore) LatestReflectionBySession(sessionID string) (*models.Reflection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *models.Reflection
	for _, r := range s.reflections {
		if r.SessionID != sessionID {
			continue
		}
		if latest == nil || r.CreatedAt.After(latest.CreatedAt) {
			latest = r
		}
	}
	if latest == nil {
		return nil, models.ErrReflectionNotFound
	}
	return copyReflection(latest), nil
}

// mutateReflection applies fn to the stored reflection under the lock and
// bumps updated_at.
func (s *InMemoryStore) mutateReflection(id uuid.UUID, fn func(*models.Reflection)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reflections[id]
	if !ok {
		return models.ErrReflectionNotFound
	}
	fn(r)
	r.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *InMemoryStore) UpdateReflectionStage(id uuid.UUID, stage models.Stage) error {
	return s.mutateReflection(id, func(r *models.Reflection) { r.CurrentStage = stage })
}

func (s *InMemoryStore) UpdateReflectionStatus(id uuid.UUID, status models.DeliveryStatus) error {
	return s.mutateReflection(id, func(r *models.Reflection) { r.IsDelivered = status })
}

func (s *InMemoryStore) UpdateReflectionFlowType(id uuid.UUID, flowType models.FlowType) error {
	return s.mutateReflection(id, func(r *models.Reflection) { r.FlowType = flowType })
}

func (s *InMemoryStore) UpdateReflectionRecipient(id uuid.UUID, name string) error {
	return s.mutateReflection(id, func(r *models.Reflection) { r.ReceiverName = name })
}

func (s *InMemoryStore) SetReflectionEmotion(id uuid.UUID, emotion string) error {
	return s.mutateReflection(id, func(r *models.Reflection) { r.Emotion = emotion })
}

func (s *InMemoryStore) SetReflectionRelationship(id uuid.UUID, relationship string) error {
	return s.mutateReflection(id, func(r *models.Reflection) { r.ReceiverRelationship = relationship })
}

func (s *InMemoryStore) SetReflectionSummary(id uuid.UUID, summary string) error {
	return s.mutateReflection(id, func(r *models.Reflection) { r.Summary = summary })
}

func (s *InMemoryStore) SetReflectionIdentity(id uuid.UUID, anonymous bool, senderName string) error {
	return s.mutateReflection(id, func(r *models.Reflection) {
		r.IsAnonymous = models.BoolPtr(anonymous)
		r.SenderName = senderName
	})
}

func (s *InMemoryStore) SetReflectionDeliveryMode(id uuid.UUID, mode models.DeliveryMode) error {
	return s.mutateReflection(id, func(r *models.Reflection) { r.DeliveryMode = models.ModePtr(mode) })
}

func (s *InMemoryStore) SetReflectionReceiverUser(id uuid.UUID, userID uuid.UUID) error {
	return s.mutateReflection(id, func(r *models.Reflection) {
		uid := userID
		r.ReceiverUserID = &uid
	})
}

func (s *InMemoryStore) SaveMessage(m models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	s.messages[m.ReflectionID] = append(s.messages[m.ReflectionID], m)
	return nil
}

func (s *InMemoryStore) MessagesByReflection(id uuid.UUID) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := make([]models.Message, len(s.messages[id]))
	copy(msgs, s.messages[id])
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].CreatedAt.Before(msgs[j].CreatedAt) })
	return msgs, nil
}

func (s *InMemoryStore) LastUserMessage(id uuid.UUID) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[id]
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Sender == models.SenderUser {
			m := msgs[i]
			return &m, nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) PreviousStage(id uuid.UUID, steps int) (models.Stage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[id]
	skip := steps
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Sender != models.SenderAssistant {
			continue
		}
		if skip == 0 {
			return msgs[i].Stage, nil
		}
		skip--
	}
	return models.StageWelcome, nil
}

func (s *InMemoryStore) GetStageDefinition(stage models.Stage) (*models.StageDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.stages[stage]
	if !ok {
		return nil, models.ErrStageNotFound
	}
	dd := d
	return &dd, nil
}

func (s *InMemoryStore) UpsertStageDefinition(def models.StageDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stages[def.StageID] = def
	return nil
}

func (s *InMemoryStore) GetUserBySession(sessionID string) (*models.User, error) {
	return s.findUser(func(u models.User) bool { return u.SessionID == sessionID })
}

func (s *InMemoryStore) FindUserByEmail(email string) (*models.User, error) {
	return s.findUser(func(u models.User) bool { return u.Email == email })
}

func (s *InMemoryStore) FindUserByPhone(phone string) (*models.User, error) {
	return s.findUser(func(u models.User) bool { return u.Phone == phone })
}

func (s *InMemoryStore) findUser(match func(models.User) bool) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if match(u) {
			uu := u
			return &uu, nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) SaveUser(u models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	s.users[u.ID] = u
	return nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}

func copyReflection(r *models.Reflection) *models.Reflection {
	c := *r
	if r.ReceiverUserID != nil {
		uid := *r.ReceiverUserID
		c.ReceiverUserID = &uid
	}
	if r.IsAnonymous != nil {
		c.IsAnonymous = models.BoolPtr(*r.IsAnonymous)
	}
	if r.DeliveryMode != nil {
		c.DeliveryMode = models.ModePtr(*r.DeliveryMode)
	}
	return &c
}
