package stubservice

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/inkseal/inkseal/internal/docservice"
)

var (
	// ErrInstanceNotFound is returned when no signing instance matches the
	// requested instance ID and signature field.
	ErrInstanceNotFound = errors.New("signing instance not found")

	// ErrInstanceExists is returned when a seeded instance collides with one
	// already in the store.
	ErrInstanceExists = errors.New("signing instance already exists")
)

// ReceivedSubmission records one submitted signature together with the
// outcome of the service-side verification.
type ReceivedSubmission struct {
	docservice.Submission

	ReceivedAt time.Time
	Valid      bool
}

type instanceKey struct {
	instanceID     string
	signatureField string
}

// InstanceStore is an in-memory store of signing instances and the
// signatures received for them.
type InstanceStore struct {
	mu          sync.RWMutex
	tasks       map[instanceKey]*docservice.SignableData
	submissions map[instanceKey][]*ReceivedSubmission
}

// NewInstanceStore creates a new in-memory instance store
func NewInstanceStore() *InstanceStore {
	return &InstanceStore{
		tasks:       make(map[instanceKey]*docservice.SignableData),
		submissions: make(map[instanceKey][]*ReceivedSubmission),
	}
}

// Put registers a signing instance
func (s *InstanceStore) Put(ctx context.Context, task *docservice.SignableData) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := instanceKey{instanceID: task.InstanceID, signatureField: task.SignatureField}
	if _, exists := s.tasks[key]; exists {
		return ErrInstanceExists
	}

	// Store a copy
	s.tasks[key] = copyTask(task)

	return nil
}

// Get retrieves a signing instance by instance ID and signature field
func (s *InstanceStore) Get(ctx context.Context, instanceID, signatureField string) (*docservice.SignableData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, exists := s.tasks[instanceKey{instanceID: instanceID, signatureField: signatureField}]
	if !exists {
		return nil, ErrInstanceNotFound
	}

	// Return a copy to avoid external modifications
	return copyTask(task), nil
}

// AddSubmission appends a received signature to an instance's history
func (s *InstanceStore) AddSubmission(ctx context.Context, instanceID, signatureField string, rec *ReceivedSubmission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := instanceKey{instanceID: instanceID, signatureField: signatureField}
	if _, exists := s.tasks[key]; !exists {
		return ErrInstanceNotFound
	}

	r := *rec
	s.submissions[key] = append(s.submissions[key], &r)

	return nil
}

// Submissions returns the signatures received for an instance, oldest first
func (s *InstanceStore) Submissions(ctx context.Context, instanceID, signatureField string) ([]*ReceivedSubmission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := instanceKey{instanceID: instanceID, signatureField: signatureField}
	if _, exists := s.tasks[key]; !exists {
		return nil, ErrInstanceNotFound
	}

	// Return copies
	recs := s.submissions[key]
	result := make([]*ReceivedSubmission, len(recs))
	for i, rec := range recs {
		r := *rec
		result[i] = &r
	}

	return result, nil
}

// Len returns the number of registered instances
func (s *InstanceStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.tasks)
}

// copyTask creates a deep copy of a signing instance
func copyTask(task *docservice.SignableData) *docservice.SignableData {
	cp := *task
	if task.SignableData != nil {
		cp.SignableData = append([]byte(nil), task.SignableData...)
	}
	return &cp
}
