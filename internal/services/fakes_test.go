package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loyalty-platform/backend/internal/events"
	"github.com/loyalty-platform/backend/internal/models"
	"github.com/loyalty-platform/backend/internal/repositories"
	"github.com/loyalty-platform/backend/internal/supplier"
)

type fakeCampaignStore struct {
	mu             sync.Mutex
	byID           map[uuid.UUID]*models.Campaign
	failNextUpdate bool
}

func newFakeCampaignStore() *fakeCampaignStore {
	return &fakeCampaignStore{byID: make(map[uuid.UUID]*models.Campaign)}
}

func (s *fakeCampaignStore) add(c *models.Campaign) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	s.byID[c.ID] = c
}

func (s *fakeCampaignStore) Create(_ context.Context, c *models.Campaign) error {
	s.add(c)
	return nil
}

func (s *fakeCampaignStore) GetBySlug(_ context.Context, slug string) (*models.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.byID {
		if c.Slug == slug {
			copied := *c
			return &copied, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (s *fakeCampaignStore) GetByID(_ context.Context, id uuid.UUID) (*models.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	copied := *c
	return &copied, nil
}

func (s *fakeCampaignStore) ListDueForEnd(_ context.Context, now time.Time) ([]models.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []models.Campaign
	for _, c := range s.byID {
		if c.Status == models.CampaignStatusActive && c.EndDate != nil && !c.EndDate.After(now) {
			due = append(due, *c)
		}
	}
	return due, nil
}

func (s *fakeCampaignStore) HasActiveInSlot(_ context.Context, slot string, excludeID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.byID {
		if c.Slot == slot && c.Status == models.CampaignStatusActive && c.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeCampaignStore) UpdateStatus(_ context.Context, id uuid.UUID, from, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNextUpdate {
		s.failNextUpdate = false
		return errors.New("store unavailable")
	}
	c, ok := s.byID[id]
	if !ok {
		return repositories.ErrNotFound
	}
	if c.Status != from {
		return repositories.ErrStaleStatus
	}
	c.Status = to
	return nil
}

func (s *fakeCampaignStore) SetEndDate(_ context.Context, id uuid.UUID, endDate time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return repositories.ErrNotFound
	}
	c.EndDate = &endDate
	return nil
}

type fakeQueue struct {
	mu       sync.Mutex
	units    map[uuid.UUID]*models.WorkUnit
	byKey    map[string]uuid.UUID
	order    []uuid.UUID
	attempts []models.RetryAttempt
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{
		units: make(map[uuid.UUID]*models.WorkUnit),
		byKey: make(map[string]uuid.UUID),
	}
}

func (q *fakeQueue) Enqueue(_ context.Context, unit *models.WorkUnit) (*models.WorkUnit, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if id, ok := q.byKey[unit.IdempotencyKey]; ok {
		copied := *q.units[id]
		return &copied, false, nil
	}
	stored := *unit
	stored.Status = models.WorkUnitStatusPending
	stored.CreatedAt = time.Now().UTC()
	q.units[stored.ID] = &stored
	q.byKey[stored.IdempotencyKey] = stored.ID
	q.order = append(q.order, stored.ID)
	copied := stored
	return &copied, true, nil
}

func (q *fakeQueue) Get(_ context.Context, id uuid.UUID) (*models.WorkUnit, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	u, ok := q.units[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	copied := *u
	return &copied, nil
}

func (q *fakeQueue) Lease(_ context.Context, workerID string, visibility time.Duration) (*models.WorkUnit, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := time.Now().UTC()
	for _, id := range q.order {
		u := q.units[id]
		if u.Status != models.WorkUnitStatusPending && u.Status != models.WorkUnitStatusRetryScheduled {
			continue
		}
		if u.NextEligibleAt != nil && u.NextEligibleAt.After(now) {
			continue
		}
		u.Status = models.WorkUnitStatusInFlight
		u.Attempts++
		u.LeasedBy = &workerID
		expiry := now.Add(visibility)
		u.LeaseExpiresAt = &expiry
		copied := *u
		return &copied, nil
	}
	return nil, nil
}

func (q *fakeQueue) markFromInFlight(id uuid.UUID, status string, errorKind *string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	u, ok := q.units[id]
	if !ok {
		return repositories.ErrNotFound
	}
	if u.Status != models.WorkUnitStatusInFlight {
		return repositories.ErrStaleStatus
	}
	u.Status = status
	u.LastErrorKind = errorKind
	u.LeasedBy = nil
	u.LeaseExpiresAt = nil
	u.NextEligibleAt = nil
	return nil
}

func (q *fakeQueue) MarkSucceeded(_ context.Context, id uuid.UUID) error {
	return q.markFromInFlight(id, models.WorkUnitStatusSucceeded, nil)
}

func (q *fakeQueue) MarkFailedPermanent(_ context.Context, id uuid.UUID, errorKind string) error {
	return q.markFromInFlight(id, models.WorkUnitStatusFailedPermanent, &errorKind)
}

func (q *fakeQueue) MarkRetryScheduled(_ context.Context, id uuid.UUID, nextEligibleAt time.Time, errorKind string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	u, ok := q.units[id]
	if !ok {
		return repositories.ErrNotFound
	}
	if u.Status != models.WorkUnitStatusInFlight {
		return repositories.ErrStaleStatus
	}
	u.Status = models.WorkUnitStatusRetryScheduled
	u.NextEligibleAt = &nextEligibleAt
	u.LastErrorKind = &errorKind
	u.LeasedBy = nil
	u.LeaseExpiresAt = nil
	return nil
}

func (q *fakeQueue) ListPendingIssuances(_ context.Context, campaignID uuid.UUID) ([]models.WorkUnit, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []models.WorkUnit
	for _, id := range q.order {
		u := q.units[id]
		if u.Kind != models.WorkUnitKindIssuance || u.Payload.CampaignID != campaignID {
			continue
		}
		if u.Status == models.WorkUnitStatusPending || u.Status == models.WorkUnitStatusRetryScheduled {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (q *fakeQueue) CancelPending(_ context.Context, key string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	id, ok := q.byKey[key]
	if !ok {
		return false, nil
	}
	u := q.units[id]
	if u.Status != models.WorkUnitStatusPending && u.Status != models.WorkUnitStatusRetryScheduled {
		return false, nil
	}
	errorKind := models.OutcomeCancelled
	u.Status = models.WorkUnitStatusFailedPermanent
	u.LastErrorKind = &errorKind
	u.NextEligibleAt = nil
	return true, nil
}

func (q *fakeQueue) ReapExpiredLeases(_ context.Context, now time.Time) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var n int64
	for _, u := range q.units {
		if u.Status == models.WorkUnitStatusInFlight && u.LeaseExpiresAt != nil && !u.LeaseExpiresAt.After(now) {
			u.Status = models.WorkUnitStatusPending
			u.LeasedBy = nil
			u.LeaseExpiresAt = nil
			n++
		}
	}
	return n, nil
}

func (q *fakeQueue) RecordAttempt(_ context.Context, attempt models.RetryAttempt) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.attempts = append(q.attempts, attempt)
	return nil
}

// clearBackoff makes scheduled retries immediately leasable so tests do not
// sleep through real backoff delays.
func (q *fakeQueue) clearBackoff() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, u := range q.units {
		if u.Status == models.WorkUnitStatusRetryScheduled {
			u.NextEligibleAt = nil
		}
	}
}

func (q *fakeQueue) unitByKey(key string) *models.WorkUnit {
	q.mu.Lock()
	defer q.mu.Unlock()
	id, ok := q.byKey[key]
	if !ok {
		return nil
	}
	copied := *q.units[id]
	return &copied
}

func (q *fakeQueue) countByKind(kind string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, u := range q.units {
		if u.Kind == kind {
			n++
		}
	}
	return n
}

type fakeLedger struct {
	mu               sync.Mutex
	entries          map[string]*models.LedgerEntry
	failNextFinalize bool
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{entries: make(map[string]*models.LedgerEntry)}
}

func (l *fakeLedger) Reserve(_ context.Context, key, _ string) (repositories.ReserveStatus, *models.LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[key]; ok {
		copied := *e
		return repositories.ReserveAlreadyTerminal, &copied, nil
	}
	return repositories.ReserveAcquired, nil, nil
}

func (l *fakeLedger) Finalize(_ context.Context, key, outcome, detail string) (bool, *models.LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failNextFinalize {
		l.failNextFinalize = false
		return false, nil, errors.New("ledger unavailable")
	}
	if e, ok := l.entries[key]; ok {
		copied := *e
		return false, &copied, nil
	}
	e := &models.LedgerEntry{
		IdempotencyKey: key,
		Outcome:        outcome,
		Detail:         detail,
		CreatedAt:      time.Now().UTC(),
	}
	l.entries[key] = e
	copied := *e
	return true, &copied, nil
}

func (l *fakeLedger) get(key string) *models.LedgerEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[key]; ok {
		copied := *e
		return &copied
	}
	return nil
}

type fakePendingRewards struct {
	mu      sync.Mutex
	rewards []models.PendingReward
}

func (s *fakePendingRewards) add(pr models.PendingReward) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pr.ID == uuid.Nil {
		pr.ID = uuid.New()
	}
	s.rewards = append(s.rewards, pr)
}

func (s *fakePendingRewards) ListForCampaign(_ context.Context, campaignID uuid.UUID) ([]models.PendingReward, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PendingReward
	for _, pr := range s.rewards {
		if pr.CampaignID == campaignID {
			out = append(out, pr)
		}
	}
	return out, nil
}

func (s *fakePendingRewards) DeleteForCampaign(_ context.Context, campaignID uuid.UUID) ([]models.PendingReward, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted []models.PendingReward
	var kept []models.PendingReward
	for _, pr := range s.rewards {
		if pr.CampaignID == campaignID {
			deleted = append(deleted, pr)
		} else {
			kept = append(kept, pr)
		}
	}
	s.rewards = kept
	return deleted, nil
}

// fakeRecorder deduplicates on event id like the outbox table does.
type fakeRecorder struct {
	mu       sync.Mutex
	events   []events.Event
	failNext bool
}

func (r *fakeRecorder) Record(_ context.Context, event events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failNext {
		r.failNext = false
		return errors.New("outbox unavailable")
	}
	for _, e := range r.events {
		if e.EventID == event.EventID {
			return nil
		}
	}
	r.events = append(r.events, event)
	return nil
}

func (r *fakeRecorder) byKind(kind string) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, e := range r.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// fakeIssuer replays a script of results, repeating the last one.
type fakeIssuer struct {
	mu      sync.Mutex
	script  []supplier.Result
	calls   int
	lastReq supplier.Request
}

func (f *fakeIssuer) Issue(_ context.Context, req supplier.Request) supplier.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastReq = req
	idx := f.calls
	f.calls++
	if idx >= len(f.script) {
		idx = len(f.script) - 1
	}
	if idx < 0 {
		return supplier.Result{Status: supplier.StatusPermanent, Reason: "no scripted result"}
	}
	return f.script[idx]
}

func (f *fakeIssuer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeLocker struct {
	held     bool
	acquires int
}

func (l *fakeLocker) Acquire(context.Context) (func(), bool, error) {
	l.acquires++
	if l.held {
		return nil, false, nil
	}
	return func() {}, true, nil
}
