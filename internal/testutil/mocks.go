package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	domainErrors "github.com/taskerhub/marketplace/internal/domain/errors"
	"github.com/taskerhub/marketplace/internal/domain/outbox"
	"github.com/taskerhub/marketplace/internal/domain/payment"
	"github.com/taskerhub/marketplace/internal/domain/servicerequest"
	"github.com/taskerhub/marketplace/internal/domain/user"
	"github.com/taskerhub/marketplace/internal/repository/postgres"
)

// snapshotter is implemented by mocks that can be rolled back by MockTransactionManager.
type snapshotter interface {
	snapshot() (restore func())
}

// --- Transaction Manager Mock ---

type txKey struct{}

// MockTransactionManager serializes transactions with one mutex and restores every tracked
// repository when fn fails, which is what a rolled back database transaction looks like to callers.
type MockTransactionManager struct {
	mu      sync.Mutex
	tracked []snapshotter

	WithTransactionFunc func(ctx context.Context, fn func(ctx context.Context) error) error
}

// NewMockTransactionManager tracks the given repositories for rollback.
func NewMockTransactionManager(repos ...any) *MockTransactionManager {
	m := &MockTransactionManager{}
	for _, r := range repos {
		if s, ok := r.(snapshotter); ok {
			m.tracked = append(m.tracked, s)
		}
	}
	return m
}

func (m *MockTransactionManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.WithTransactionFunc != nil {
		return m.WithTransactionFunc(ctx, fn)
	}
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	restores := make([]func(), 0, len(m.tracked))
	for _, s := range m.tracked {
		restores = append(restores, s.snapshot())
	}
	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		for _, restore := range restores {
			restore()
		}
		return err
	}
	return nil
}

// --- Service Request Repository Mock ---

// MockRequestRepository is an in-memory servicerequest.Repository with version checks and the
// single-assignment constraint.
type MockRequestRepository struct {
	mu          sync.Mutex
	requests    map[uuid.UUID]*servicerequest.ServiceRequest
	assignments map[uuid.UUID]*servicerequest.AcceptedAssignment

	GetForUpdateFunc     func(ctx context.Context, id uuid.UUID) (*servicerequest.ServiceRequest, error)
	UpdateFunc           func(ctx context.Context, r *servicerequest.ServiceRequest) error
	CreateAssignmentFunc func(ctx context.Context, a *servicerequest.AcceptedAssignment) error
}

func NewMockRequestRepository() *MockRequestRepository {
	return &MockRequestRepository{
		requests:    make(map[uuid.UUID]*servicerequest.ServiceRequest),
		assignments: make(map[uuid.UUID]*servicerequest.AcceptedAssignment),
	}
}

// Put seeds r, including its assignment, bypassing all checks.
func (m *MockRequestRepository) Put(r *servicerequest.ServiceRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[r.ID] = cloneRequest(r)
	if r.Assignment != nil {
		a := *r.Assignment
		m.assignments[r.ID] = &a
	}
}

// Stored returns a copy of the stored request, or nil.
func (m *MockRequestRepository) Stored(id uuid.UUID) *servicerequest.ServiceRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.load(id)
}

func (m *MockRequestRepository) Create(ctx context.Context, r *servicerequest.ServiceRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.requests[r.ID]; ok {
		return domainErrors.NewDomainError("conflict", "duplicate service request", domainErrors.ErrConflict)
	}
	m.requests[r.ID] = cloneRequest(r)
	return nil
}

func (m *MockRequestRepository) GetByID(ctx context.Context, id uuid.UUID) (*servicerequest.ServiceRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sr := m.load(id)
	if sr == nil {
		return nil, domainErrors.ErrRequestNotFound
	}
	return sr, nil
}

func (m *MockRequestRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*servicerequest.ServiceRequest, error) {
	if m.GetForUpdateFunc != nil {
		return m.GetForUpdateFunc(ctx, id)
	}
	return m.GetByID(ctx, id)
}

func (m *MockRequestRepository) Update(ctx context.Context, r *servicerequest.ServiceRequest) error {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, r)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.requests[r.ID]
	if !ok {
		return domainErrors.ErrRequestNotFound
	}
	if stored.Version != r.Version {
		return domainErrors.NewDomainError("conflict", "service request was modified concurrently", domainErrors.ErrOptimisticLockFailed)
	}
	r.Version++
	m.requests[r.ID] = cloneRequest(r)
	if r.Assignment != nil {
		if a, ok := m.assignments[r.ID]; ok && a.ID == r.Assignment.ID {
			a.Status = r.Assignment.Status
			a.UpdatedAt = r.Assignment.UpdatedAt
		}
	}
	return nil
}

func (m *MockRequestRepository) CreateAssignment(ctx context.Context, a *servicerequest.AcceptedAssignment) error {
	if m.CreateAssignmentFunc != nil {
		return m.CreateAssignmentFunc(ctx, a)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.assignments[a.RequestID]; ok {
		return domainErrors.NewDomainError("conflict", "this request is no longer available", domainErrors.ErrAlreadyAssigned)
	}
	cp := *a
	m.assignments[a.RequestID] = &cp
	return nil
}

func (m *MockRequestRepository) load(id uuid.UUID) *servicerequest.ServiceRequest {
	stored, ok := m.requests[id]
	if !ok {
		return nil
	}
	sr := cloneRequest(stored)
	sr.Assignment = nil
	if a, ok := m.assignments[id]; ok {
		cp := *a
		sr.Assignment = &cp
	}
	return sr
}

func (m *MockRequestRepository) snapshot() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	requests := make(map[uuid.UUID]*servicerequest.ServiceRequest, len(m.requests))
	for id, r := range m.requests {
		requests[id] = cloneRequest(r)
	}
	assignments := make(map[uuid.UUID]*servicerequest.AcceptedAssignment, len(m.assignments))
	for id, a := range m.assignments {
		cp := *a
		assignments[id] = &cp
	}
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.requests, m.assignments = requests, assignments
	}
}

func cloneRequest(r *servicerequest.ServiceRequest) *servicerequest.ServiceRequest {
	cp := *r
	if r.Assignment != nil {
		a := *r.Assignment
		cp.Assignment = &a
	}
	return &cp
}

// --- Payment Transaction Repository Mock ---

// MockTransactionRepository is an in-memory payment.Repository enforcing unique external ids,
// one refund per charge and compare-and-swap transitions.
type MockTransactionRepository struct {
	mu           sync.Mutex
	transactions map[uuid.UUID]*payment.Transaction
	events       map[uuid.UUID][]*payment.Event

	CreateFunc     func(ctx context.Context, t *payment.Transaction) error
	TransitionFunc func(ctx context.Context, t *payment.Transaction, from payment.Status) error
	AddEventFunc   func(ctx context.Context, event *payment.Event) error
}

func NewMockTransactionRepository() *MockTransactionRepository {
	return &MockTransactionRepository{
		transactions: make(map[uuid.UUID]*payment.Transaction),
		events:       make(map[uuid.UUID][]*payment.Event),
	}
}

// Put seeds t bypassing all checks.
func (m *MockTransactionRepository) Put(t *payment.Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.transactions[t.ID] = &cp
}

// Stored returns a copy of the stored transaction, or nil.
func (m *MockTransactionRepository) Stored(id uuid.UUID) *payment.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transactions[id]
	if !ok {
		return nil
	}
	cp := *t
	return &cp
}

// EventTypes lists the event types recorded for id, oldest first.
func (m *MockTransactionRepository) EventTypes(id uuid.UUID) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, e := range m.events[id] {
		out = append(out, e.EventType)
	}
	return out
}

// CountEvents counts events of eventType recorded for id.
func (m *MockTransactionRepository) CountEvents(id uuid.UUID, eventType string) int {
	n := 0
	for _, et := range m.EventTypes(id) {
		if et == eventType {
			n++
		}
	}
	return n
}

func (m *MockTransactionRepository) Create(ctx context.Context, t *payment.Transaction) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, t)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.transactions {
		if t.RefundOf != nil && existing.RefundOf != nil && *existing.RefundOf == *t.RefundOf {
			return domainErrors.NewDomainError("conflict", "this payment has already been refunded", domainErrors.ErrAlreadyRefunded)
		}
		if existing.ExternalID == t.ExternalID || existing.ID == t.ID {
			return domainErrors.NewDomainError("conflict", "duplicate transaction", domainErrors.ErrConflict)
		}
	}
	cp := *t
	m.transactions[t.ID] = &cp
	return nil
}

func (m *MockTransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*payment.Transaction, error) {
	t := m.Stored(id)
	if t == nil {
		return nil, domainErrors.ErrTransactionNotFound
	}
	return t, nil
}

func (m *MockTransactionRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*payment.Transaction, error) {
	return m.GetByID(ctx, id)
}

func (m *MockTransactionRepository) GetByExternalID(ctx context.Context, externalID string) (*payment.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.transactions {
		if t.ExternalID == externalID {
			cp := *t
			return &cp, nil
		}
	}
	return nil, domainErrors.ErrTransactionNotFound
}

func (m *MockTransactionRepository) ListByRequest(ctx context.Context, requestID uuid.UUID) ([]*payment.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*payment.Transaction
	for _, t := range m.transactions {
		if t.RequestID == requestID {
			cp := *t
			out = append(out, &cp)
		}
	}
	sortTransactions(out)
	return out, nil
}

func (m *MockTransactionRepository) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]*payment.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*payment.Transaction
	for _, t := range m.transactions {
		if t.Kind == payment.KindCharge && t.Status == payment.StatusPending && t.CreatedAt.Before(olderThan) {
			cp := *t
			out = append(out, &cp)
		}
	}
	sortTransactions(out)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].LastCheckedAt, out[j].LastCheckedAt
		switch {
		case a == nil:
			return b != nil
		case b == nil:
			return false
		default:
			return a.Before(*b)
		}
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockTransactionRepository) MarkChecked(ctx context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.transactions[id]; ok && t.Status == payment.StatusPending {
		t.LastCheckedAt = &at
	}
	return nil
}

func (m *MockTransactionRepository) Transition(ctx context.Context, t *payment.Transaction, from payment.Status) error {
	if m.TransitionFunc != nil {
		return m.TransitionFunc(ctx, t, from)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.transactions[t.ID]
	if !ok {
		return domainErrors.ErrTransactionNotFound
	}
	if stored.Status != from {
		if stored.Status == payment.StatusCompleted {
			return domainErrors.ErrAlreadyCompleted
		}
		return domainErrors.NewDomainError("conflict",
			"transaction is "+string(stored.Status)+", expected "+string(from), domainErrors.ErrConflict)
	}
	cp := *t
	m.transactions[t.ID] = &cp
	return nil
}

func (m *MockTransactionRepository) AddEvent(ctx context.Context, event *payment.Event) error {
	if m.AddEventFunc != nil {
		return m.AddEventFunc(ctx, event)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[event.TransactionID] = append(m.events[event.TransactionID], event)
	return nil
}

func (m *MockTransactionRepository) GetEvents(ctx context.Context, transactionID uuid.UUID) ([]*payment.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*payment.Event(nil), m.events[transactionID]...), nil
}

func (m *MockTransactionRepository) snapshot() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	transactions := make(map[uuid.UUID]*payment.Transaction, len(m.transactions))
	for id, t := range m.transactions {
		cp := *t
		transactions[id] = &cp
	}
	events := make(map[uuid.UUID][]*payment.Event, len(m.events))
	for id, evs := range m.events {
		events[id] = append([]*payment.Event(nil), evs...)
	}
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.transactions, m.events = transactions, events
	}
}

func sortTransactions(ts []*payment.Transaction) {
	sort.Slice(ts, func(i, j int) bool {
		if !ts[i].CreatedAt.Equal(ts[j].CreatedAt) {
			return ts[i].CreatedAt.Before(ts[j].CreatedAt)
		}
		return ts[i].ID.String() < ts[j].ID.String()
	})
}

// --- User Directory Mock ---

// MockUserRepository is an in-memory user.Repository.
type MockUserRepository struct {
	mu    sync.Mutex
	users map[uuid.UUID]*user.User

	GetUserFunc func(ctx context.Context, id uuid.UUID) (*user.User, error)
}

func NewMockUserRepository(users ...*user.User) *MockUserRepository {
	m := &MockUserRepository{users: make(map[uuid.UUID]*user.User)}
	for _, u := range users {
		m.users[u.ID] = u
	}
	return m
}

func (m *MockUserRepository) GetUser(ctx context.Context, id uuid.UUID) (*user.User, error) {
	if m.GetUserFunc != nil {
		return m.GetUserFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, domainErrors.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, domainErrors.ErrUserNotFound
}

func (m *MockUserRepository) Upsert(ctx context.Context, u *user.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, existing := range m.users {
		if existing.Email == u.Email {
			u.ID, u.CreatedAt = id, existing.CreatedAt
			break
		}
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

// --- Outbox Repository Mock ---

// MockOutboxRepository is an in-memory outbox.Repository.
type MockOutboxRepository struct {
	mu      sync.Mutex
	entries []*outbox.Entry

	InsertFunc       func(ctx context.Context, entry *outbox.Entry) error
	ClaimPendingFunc func(ctx context.Context, limit int) ([]*outbox.Entry, error)
}

func NewMockOutboxRepository() *MockOutboxRepository {
	return &MockOutboxRepository{}
}

// Entries returns copies of every queued entry in insertion order.
func (m *MockOutboxRepository) Entries() []outbox.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]outbox.Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, *e)
	}
	return out
}

// Notifications returns every queued notification addressed to userID.
func (m *MockOutboxRepository) Notifications(userID uuid.UUID) []outbox.Notification {
	var out []outbox.Notification
	for _, e := range m.Entries() {
		if e.RecipientID == userID {
			out = append(out, e.Notification())
		}
	}
	return out
}

func (m *MockOutboxRepository) Insert(ctx context.Context, entry *outbox.Entry) error {
	if m.InsertFunc != nil {
		return m.InsertFunc(ctx, entry)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *entry
	m.entries = append(m.entries, &cp)
	return nil
}

func (m *MockOutboxRepository) ClaimPending(ctx context.Context, limit int) ([]*outbox.Entry, error) {
	if m.ClaimPendingFunc != nil {
		return m.ClaimPendingFunc(ctx, limit)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*outbox.Entry
	for _, e := range m.entries {
		if e.Status != outbox.StatusPending {
			continue
		}
		cp := *e
		out = append(out, &cp)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MockOutboxRepository) MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error {
	m.update(id, func(e *outbox.Entry) { e.MarkPublished(at) })
	return nil
}

func (m *MockOutboxRepository) RecordFailure(ctx context.Context, id uuid.UUID, reason string) error {
	m.update(id, func(e *outbox.Entry) { e.RecordFailure(reason) })
	return nil
}

func (m *MockOutboxRepository) PurgePublished(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.entries[:0]
	var purged int64
	for _, e := range m.entries {
		if e.Status == outbox.StatusPublished && e.PublishedAt != nil && e.PublishedAt.Before(before) {
			purged++
			continue
		}
		kept = append(kept, e)
	}
	m.entries = kept
	return purged, nil
}

func (m *MockOutboxRepository) update(id uuid.UUID, fn func(*outbox.Entry)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.ID == id {
			fn(e)
		}
	}
}

func (m *MockOutboxRepository) snapshot() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := make([]*outbox.Entry, 0, len(m.entries))
	for _, e := range m.entries {
		cp := *e
		entries = append(entries, &cp)
	}
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.entries = entries
	}
}

// --- Locker Mock ---

// MemoryLocker is a process-local stand-in for the Redis lock. Lock blocks while the key is held.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]chan struct{}

	// Fail makes every Lock call fail as if the lock were contended past its retries.
	Fail bool
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]chan struct{})}
}

func (l *MemoryLocker) Lock(ctx context.Context, key string) (func(context.Context) error, error) {
	for {
		l.mu.Lock()
		if l.Fail {
			l.mu.Unlock()
			return nil, domainErrors.ErrLockAcquisitionFailed
		}
		wait, busy := l.held[key]
		if !busy {
			done := make(chan struct{})
			l.held[key] = done
			l.mu.Unlock()
			var once sync.Once
			return func(context.Context) error {
				once.Do(func() {
					l.mu.Lock()
					delete(l.held, key)
					l.mu.Unlock()
					close(done)
				})
				return nil
			}, nil
		}
		l.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, domainErrors.ErrLockAcquisitionFailed
		}
	}
}

// --- Publisher Mock ---

// RecordingPublisher captures relayed entries. Err, when set, fails every publish.
type RecordingPublisher struct {
	mu        sync.Mutex
	published []*outbox.Entry
	dead      []*outbox.Entry

	Err error
}

func (p *RecordingPublisher) Name() string { return "recording" }

func (p *RecordingPublisher) Publish(ctx context.Context, entry *outbox.Entry) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.published = append(p.published, entry)
	return nil
}

func (p *RecordingPublisher) PublishToDLQ(ctx context.Context, entry *outbox.Entry, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dead = append(p.dead, entry)
	return nil
}

func (p *RecordingPublisher) Published() []*outbox.Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*outbox.Entry(nil), p.published...)
}

func (p *RecordingPublisher) DeadLettered() []*outbox.Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*outbox.Entry(nil), p.dead...)
}

// --- Idempotency Store Mock ---

// MockIdempotencyStore keeps stored responses in memory.
type MockIdempotencyStore struct {
	mu      sync.Mutex
	entries map[string]*postgres.IdempotencyEntry
}

func NewMockIdempotencyStore() *MockIdempotencyStore {
	return &MockIdempotencyStore{entries: make(map[string]*postgres.IdempotencyEntry)}
}

func (m *MockIdempotencyStore) Reserve(ctx context.Context, entry *postgres.IdempotencyEntry) (*postgres.IdempotencyEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[entry.Key]; ok && time.Now().Before(e.ExpiresAt) {
		cp := *e
		return &cp, nil
	}
	cp := *entry
	cp.ResponseStatus = 0
	cp.ResponseBody = ""
	m.entries[entry.Key] = &cp
	return nil, nil
}

func (m *MockIdempotencyStore) Complete(ctx context.Context, key string, status int, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[key]; ok {
		e.ResponseStatus = status
		e.ResponseBody = body
	}
	return nil
}

func (m *MockIdempotencyStore) Release(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[key]; ok && e.InFlight() {
		delete(m.entries, key)
	}
	return nil
}

// Len returns the number of stored keys.
func (m *MockIdempotencyStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
