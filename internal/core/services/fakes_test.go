package services_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/srgjo27/court_reserve/internal/core/domain"
	"github.com/srgjo27/court_reserve/internal/core/ports"
	"github.com/srgjo27/court_reserve/internal/core/services"
)

// In-memory collaborators with the same error contracts as the Postgres
// and HTTP adapters.

type fakeBookingRepo struct {
	mu       sync.Mutex
	bookings map[uuid.UUID]*domain.Booking
	idem     *fakeIdemRepo

	// updateStatusErr fails the next UpdateStatus call once, simulating a
	// transient database error.
	updateStatusErr error
}

func newFakeBookingRepo() *fakeBookingRepo {
	return &fakeBookingRepo{bookings: make(map[uuid.UUID]*domain.Booking)}
}

func (r *fakeBookingRepo) Create(_ context.Context, b *domain.Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *b
	r.bookings[b.ID] = &cp
	return nil
}

func (r *fakeBookingRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok {
		return nil, fmt.Errorf("booking %s: %w", id, domain.ErrNotFound)
	}
	cp := *b
	return &cp, nil
}

func (r *fakeBookingRepo) HasOverlap(_ context.Context, slot domain.TimeSlot, exclude uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.overlaps(slot, exclude), nil
}

func (r *fakeBookingRepo) overlaps(slot domain.TimeSlot, exclude uuid.UUID) bool {
	for _, b := range r.bookings {
		if b.ID == exclude || !b.Status.IsBlocking() {
			continue
		}
		if b.Slot().Overlaps(slot) {
			return true
		}
	}
	return false
}

func (r *fakeBookingRepo) CommitStatus(ctx context.Context, id uuid.UUID, to domain.BookingStatus, paymentRef string, expectedVersion int, idem *ports.IdemRecord) (*domain.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok {
		return nil, fmt.Errorf("booking %s: %w", id, domain.ErrNotFound)
	}
	if b.Version != expectedVersion {
		return nil, fmt.Errorf("version moved: %w", domain.ErrStateTransition)
	}
	if !b.Status.CanTransitionTo(to) {
		return nil, fmt.Errorf("%s -> %s: %w", b.Status, to, domain.ErrStateTransition)
	}
	if to.IsBlocking() && r.overlaps(b.Slot(), b.ID) {
		return nil, fmt.Errorf("slot taken: %w", domain.ErrConflict)
	}
	b.Status = to
	if paymentRef != "" {
		b.PaymentRef = paymentRef
	}
	b.Version++
	if idem != nil && r.idem != nil {
		_ = r.idem.Put(ctx, idem.Key, idem.PayloadHash, id)
	}
	cp := *b
	return &cp, nil
}

func (r *fakeBookingRepo) UpdateStatus(_ context.Context, id uuid.UUID, to domain.BookingStatus, expectedVersion int) (*domain.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateStatusErr != nil {
		err := r.updateStatusErr
		r.updateStatusErr = nil
		return nil, err
	}
	b, ok := r.bookings[id]
	if !ok {
		return nil, fmt.Errorf("booking %s: %w", id, domain.ErrNotFound)
	}
	if b.Version != expectedVersion || !b.Status.CanTransitionTo(to) {
		return nil, fmt.Errorf("%s -> %s at v%d: %w", b.Status, to, expectedVersion, domain.ErrStateTransition)
	}
	b.Status = to
	b.Version++
	cp := *b
	return &cp, nil
}

func (r *fakeBookingRepo) SetPaymentRef(_ context.Context, id uuid.UUID, ref string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok {
		return fmt.Errorf("booking %s: %w", id, domain.ErrNotFound)
	}
	b.PaymentRef = ref
	return nil
}

func (r *fakeBookingRepo) MarkSplit(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok {
		return fmt.Errorf("booking %s: %w", id, domain.ErrNotFound)
	}
	b.Split = true
	return nil
}

func (r *fakeBookingRepo) TagSeries(_ context.Context, id, seriesID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok {
		return fmt.Errorf("booking %s: %w", id, domain.ErrNotFound)
	}
	sid := seriesID
	b.SeriesID = &sid
	return nil
}

func (r *fakeBookingRepo) UpdateSlot(_ context.Context, id uuid.UUID, slot domain.TimeSlot, totalCents int64, expectedVersion int) (*domain.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok {
		return nil, fmt.Errorf("booking %s: %w", id, domain.ErrNotFound)
	}
	if b.Version != expectedVersion {
		return nil, fmt.Errorf("version moved: %w", domain.ErrStateTransition)
	}
	if r.overlaps(slot, b.ID) {
		return nil, fmt.Errorf("slot taken: %w", domain.ErrConflict)
	}
	b.Start, b.End, b.TotalCents = slot.Start, slot.End, totalCents
	b.Version++
	cp := *b
	return &cp, nil
}

func (r *fakeBookingRepo) ListBySeries(_ context.Context, seriesID uuid.UUID) ([]domain.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Booking
	for _, b := range r.bookings {
		if b.SeriesID != nil && *b.SeriesID == seriesID {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (r *fakeBookingRepo) get(id uuid.UUID) *domain.Booking {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.bookings[id]; ok {
		cp := *b
		return &cp
	}
	return nil
}

type fakeIdemRepo struct {
	mu      sync.Mutex
	entries map[string]struct {
		hash string
		id   uuid.UUID
	}
}

func newFakeIdemRepo() *fakeIdemRepo {
	return &fakeIdemRepo{entries: make(map[string]struct {
		hash string
		id   uuid.UUID
	})}
}

func (r *fakeIdemRepo) Get(_ context.Context, key string) (uuid.UUID, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok {
		return uuid.Nil, "", fmt.Errorf("key %q: %w", key, domain.ErrNotFound)
	}
	return e.id, e.hash, nil
}

func (r *fakeIdemRepo) Put(_ context.Context, key, payloadHash string, bookingID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[key] = struct {
		hash string
		id   uuid.UUID
	}{payloadHash, bookingID}
	return nil
}

type fakeJobRepo struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*domain.ScheduledJob
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{jobs: make(map[uuid.UUID]*domain.ScheduledJob)}
}

func (r *fakeJobRepo) Enqueue(_ context.Context, j *domain.ScheduledJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *j
	r.jobs[j.ID] = &cp
	return nil
}

func (r *fakeJobRepo) ClaimDue(_ context.Context, owner string, limit int, lease time.Duration, now time.Time) ([]domain.ScheduledJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var claimed []domain.ScheduledJob
	for _, j := range r.jobs {
		if len(claimed) >= limit {
			break
		}
		reclaimable := j.Status == domain.JobClaimed && j.ClaimExpiry != nil && j.ClaimExpiry.Before(now)
		if (j.Status == domain.JobPending || reclaimable) && !j.DueAt.After(now) {
			j.Status = domain.JobClaimed
			o := owner
			exp := now.Add(lease)
			j.ClaimOwner, j.ClaimExpiry = &o, &exp
			claimed = append(claimed, *j)
		}
	}
	return claimed, nil
}

func (r *fakeJobRepo) MarkDone(_ context.Context, id uuid.UUID) error {
	return r.setStatus(id, domain.JobDone, nil)
}

func (r *fakeJobRepo) MarkFailed(_ context.Context, id uuid.UUID, lastErr string) error {
	return r.setStatus(id, domain.JobFailed, &lastErr)
}

func (r *fakeJobRepo) setStatus(id uuid.UUID, st domain.JobStatus, lastErr *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
	}
	j.Status = st
	j.LastError = lastErr
	return nil
}

func (r *fakeJobRepo) Reschedule(_ context.Context, id uuid.UUID, dueAt time.Time, attempts int, lastErr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
	}
	j.Status = domain.JobPending
	j.DueAt = dueAt
	j.Attempts = attempts
	j.LastError = &lastErr
	j.ClaimOwner, j.ClaimExpiry = nil, nil
	return nil
}

func (r *fakeJobRepo) CancelByRef(_ context.Context, t domain.JobType, refID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range r.jobs {
		if j.Type == t && j.RefID == refID && (j.Status == domain.JobPending || j.Status == domain.JobClaimed) {
			j.Status = domain.JobCancelled
		}
	}
	return nil
}

func (r *fakeJobRepo) ofType(t domain.JobType) []domain.ScheduledJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.ScheduledJob
	for _, j := range r.jobs {
		if j.Type == t {
			out = append(out, *j)
		}
	}
	return out
}

type fakeWaitlistRepo struct {
	mu      sync.Mutex
	seq     int64
	entries map[uuid.UUID]*domain.WaitlistEntry
}

func newFakeWaitlistRepo() *fakeWaitlistRepo {
	return &fakeWaitlistRepo{entries: make(map[uuid.UUID]*domain.WaitlistEntry)}
}

func (r *fakeWaitlistRepo) Append(_ context.Context, e *domain.WaitlistEntry) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	e.JoinSeq = r.seq
	cp := *e
	r.entries[e.ID] = &cp
	// Position is the count of entries ahead: the first joiner is at 0.
	position := 0
	for _, o := range r.entries {
		if o.Slot().Key() == e.Slot().Key() && o.JoinSeq < e.JoinSeq {
			position++
		}
	}
	return position, nil
}

func (r *fakeWaitlistRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.WaitlistEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, fmt.Errorf("entry %s: %w", id, domain.ErrNotFound)
	}
	cp := *e
	return &cp, nil
}

func (r *fakeWaitlistRepo) ListBySlot(_ context.Context, slot domain.TimeSlot) ([]domain.WaitlistEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.WaitlistEntry
	for _, e := range r.entries {
		if e.Slot().Key() == slot.Key() {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (r *fakeWaitlistRepo) Head(_ context.Context, slot domain.TimeSlot) (*domain.WaitlistEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var head *domain.WaitlistEntry
	for _, e := range r.entries {
		if e.Slot().Key() != slot.Key() {
			continue
		}
		if head == nil || e.JoinSeq < head.JoinSeq {
			head = e
		}
	}
	if head == nil {
		return nil, fmt.Errorf("no entry for slot: %w", domain.ErrNotFound)
	}
	cp := *head
	return &cp, nil
}

func (r *fakeWaitlistRepo) SetHold(_ context.Context, id uuid.UUID, expiry time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return fmt.Errorf("entry %s: %w", id, domain.ErrNotFound)
	}
	exp := expiry
	e.HoldExpiry = &exp
	return nil
}

func (r *fakeWaitlistRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
	return nil
}

func (r *fakeWaitlistRepo) ActiveHold(_ context.Context, slot domain.TimeSlot, now time.Time) (*domain.WaitlistEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.Slot().Overlaps(slot) && e.HoldActive(now) {
			cp := *e
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("no active hold: %w", domain.ErrNotFound)
}

func (r *fakeWaitlistRepo) DeleteOverlapping(_ context.Context, customerID uuid.UUID, slot domain.TimeSlot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, e := range r.entries {
		if e.CustomerID == customerID && e.Start.Before(slot.End) && slot.Start.Before(e.End) {
			delete(r.entries, id)
		}
	}
	return nil
}

func (r *fakeWaitlistRepo) PurgePast(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, e := range r.entries {
		if e.Start.Before(now) {
			delete(r.entries, id)
			n++
		}
	}
	return n, nil
}

type fakeSplitRepo struct {
	mu          sync.Mutex
	settlements map[uuid.UUID]*domain.SplitSettlement
	shares      map[uuid.UUID][]domain.SplitShare
}

func newFakeSplitRepo() *fakeSplitRepo {
	return &fakeSplitRepo{
		settlements: make(map[uuid.UUID]*domain.SplitSettlement),
		shares:      make(map[uuid.UUID][]domain.SplitShare),
	}
}

func (r *fakeSplitRepo) CreateShares(_ context.Context, settlement *domain.SplitSettlement, shares []domain.SplitShare) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *settlement
	r.settlements[settlement.BookingID] = &cp
	r.shares[settlement.BookingID] = append([]domain.SplitShare(nil), shares...)
	return nil
}

func (r *fakeSplitRepo) GetSettlement(_ context.Context, bookingID uuid.UUID) (*domain.SplitSettlement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.settlements[bookingID]
	if !ok {
		return nil, fmt.Errorf("settlement %s: %w", bookingID, domain.ErrNotFound)
	}
	cp := *s
	return &cp, nil
}

func (r *fakeSplitRepo) ListShares(_ context.Context, bookingID uuid.UUID) ([]domain.SplitShare, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.SplitShare(nil), r.shares[bookingID]...), nil
}

func (r *fakeSplitRepo) GetShare(_ context.Context, bookingID, participantID uuid.UUID) (*domain.SplitShare, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.shares[bookingID] {
		if s.ParticipantID == participantID {
			cp := s
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("share %s/%s: %w", bookingID, participantID, domain.ErrNotFound)
}

func (r *fakeSplitRepo) UpdateShare(_ context.Context, sh *domain.SplitShare) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.update(*sh)
}

func (r *fakeSplitRepo) UpdateShares(_ context.Context, shares []domain.SplitShare) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sh := range shares {
		if err := r.update(sh); err != nil {
			return err
		}
	}
	return nil
}

func (r *fakeSplitRepo) update(sh domain.SplitShare) error {
	list := r.shares[sh.BookingID]
	for i := range list {
		if list[i].ParticipantID == sh.ParticipantID {
			list[i] = sh
			return nil
		}
	}
	return fmt.Errorf("share %s/%s: %w", sh.BookingID, sh.ParticipantID, domain.ErrNotFound)
}

func (r *fakeSplitRepo) UpdateSettlement(_ context.Context, s *domain.SplitSettlement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.settlements[s.BookingID]; !ok {
		return fmt.Errorf("settlement %s: %w", s.BookingID, domain.ErrNotFound)
	}
	cp := *s
	r.settlements[s.BookingID] = &cp
	return nil
}

type fakeSeriesRepo struct {
	mu     sync.Mutex
	series map[uuid.UUID]*domain.RecurringSeries
}

func newFakeSeriesRepo() *fakeSeriesRepo {
	return &fakeSeriesRepo{series: make(map[uuid.UUID]*domain.RecurringSeries)}
}

func (r *fakeSeriesRepo) Create(_ context.Context, s *domain.RecurringSeries) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.series[s.ID] = &cp
	return nil
}

func (r *fakeSeriesRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.RecurringSeries, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.series[id]
	if !ok {
		return nil, fmt.Errorf("series %s: %w", id, domain.ErrNotFound)
	}
	cp := *s
	return &cp, nil
}

type fakeProcessedRepo struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newFakeProcessedRepo() *fakeProcessedRepo {
	return &fakeProcessedRepo{seen: make(map[string]bool)}
}

func (r *fakeProcessedRepo) Seen(_ context.Context, eventID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seen[eventID], nil
}

func (r *fakeProcessedRepo) MarkProcessed(_ context.Context, eventID, _ string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seen[eventID] {
		return false, nil
	}
	r.seen[eventID] = true
	return true, nil
}

type fakeCatalog struct {
	mu       sync.Mutex
	policies map[uuid.UUID]domain.CourtPolicy
	policy   domain.CourtPolicy
	price    int64
}

func newFakeCatalog(price int64, policy domain.CourtPolicy) *fakeCatalog {
	return &fakeCatalog{
		policies: make(map[uuid.UUID]domain.CourtPolicy),
		policy:   policy,
		price:    price,
	}
}

func (c *fakeCatalog) setPolicy(courtID uuid.UUID, p domain.CourtPolicy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.policies[courtID] = p
}

func (c *fakeCatalog) CourtPolicy(_ context.Context, courtID uuid.UUID) (domain.CourtPolicy, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.policies[courtID]; ok {
		return p, nil
	}
	return c.policy, nil
}

func (c *fakeCatalog) PriceCents(_ context.Context, _ domain.TimeSlot) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.price, nil
}

type refundRecord struct {
	Ref    string
	Amount int64
}

type fakeGateway struct {
	mu           sync.Mutex
	authorizeErr error
	captureErr   error
	refundErr    error
	authorized   []int64
	captured     []string
	refunds      []refundRecord
	nextRef      int
}

func (g *fakeGateway) Authorize(_ context.Context, amountCents int64, _ string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.authorizeErr != nil {
		return "", g.authorizeErr
	}
	g.nextRef++
	g.authorized = append(g.authorized, amountCents)
	return fmt.Sprintf("auth-%d", g.nextRef), nil
}

func (g *fakeGateway) Capture(_ context.Context, ref string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.captureErr != nil {
		return g.captureErr
	}
	g.captured = append(g.captured, ref)
	return nil
}

func (g *fakeGateway) Refund(_ context.Context, ref string, amountCents int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.refundErr != nil {
		return g.refundErr
	}
	g.refunds = append(g.refunds, refundRecord{Ref: ref, Amount: amountCents})
	return nil
}

func (g *fakeGateway) refundTotal() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	var sum int64
	for _, r := range g.refunds {
		sum += r.Amount
	}
	return sum
}

type notifyRecord struct {
	UserID  uuid.UUID
	Urgency string
	Payload map[string]any
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notifyRecord
}

func (n *fakeNotifier) Notify(_ context.Context, userID uuid.UUID, urgency string, payload map[string]any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notifyRecord{UserID: userID, Urgency: urgency, Payload: payload})
	return nil
}

func (n *fakeNotifier) to(userID uuid.UUID) []notifyRecord {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notifyRecord
	for _, rec := range n.sent {
		if rec.UserID == userID {
			out = append(out, rec)
		}
	}
	return out
}

type fakePublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *fakePublisher) Publish(_ context.Context, e domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *fakePublisher) keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Key)
	}
	return out
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	events []domain.Event
}

func (b *fakeBroadcaster) Broadcast(e domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}

func (b *fakeBroadcaster) Subscribe(_ uuid.UUID) (<-chan domain.Event, func()) {
	ch := make(chan domain.Event)
	return ch, func() { close(ch) }
}

type fakeLocker struct {
	mu       sync.Mutex
	err      error
	acquired [][]string
}

func (l *fakeLocker) Acquire(_ context.Context, keys []string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	l.acquired = append(l.acquired, keys)
	return func() {}, nil
}

// env bundles every service over one set of shared fakes.
type env struct {
	bookings  *fakeBookingRepo
	idem      *fakeIdemRepo
	jobs      *fakeJobRepo
	waitlists *fakeWaitlistRepo
	splits    *fakeSplitRepo
	series    *fakeSeriesRepo
	processed *fakeProcessedRepo
	catalog   *fakeCatalog
	gateway   *fakeGateway
	notifier  *fakeNotifier
	publisher *fakePublisher
	broadcast *fakeBroadcaster
	locker    *fakeLocker

	now time.Time

	bookingSvc   *services.BookingService
	waitlistSvc  *services.WaitlistService
	splitSvc     *services.SplitService
	recurringSvc *services.RecurringService
}

func defaultPolicy() domain.CourtPolicy {
	return domain.CourtPolicy{
		ConfirmationMode: domain.ConfirmInstant,
		MinNotice:        time.Hour,
		AdvanceWindow:    14 * 24 * time.Hour,
		Cancellation: domain.CancellationPolicy{
			Tiers: []domain.CancellationTier{
				{HoursBefore: 24, RefundPercent: 100},
				{HoursBefore: 12, RefundPercent: 50},
			},
			PlatformFeeCents: 200,
		},
		MinShareCents:   100,
		WaitlistEnabled: true,
	}
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		bookings:  newFakeBookingRepo(),
		idem:      newFakeIdemRepo(),
		jobs:      newFakeJobRepo(),
		waitlists: newFakeWaitlistRepo(),
		splits:    newFakeSplitRepo(),
		series:    newFakeSeriesRepo(),
		processed: newFakeProcessedRepo(),
		catalog:   newFakeCatalog(2000, defaultPolicy()),
		gateway:   &fakeGateway{},
		notifier:  &fakeNotifier{},
		publisher: &fakePublisher{},
		broadcast: &fakeBroadcaster{},
		locker:    &fakeLocker{},
		now:       time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC),
	}
	e.bookings.idem = e.idem
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := services.Config{
		LockTTL:             10 * time.Second,
		ConfirmationTimeout: 24 * time.Hour,
		ReminderOffsets:     []time.Duration{12 * time.Hour, 2 * time.Hour},
		WaitlistHoldTTL:     15 * time.Minute,
		SplitDeadlineAfter:  2 * time.Hour,
		StaleAuthGrace:      10 * time.Minute,
	}
	e.bookingSvc = services.NewBookingService(services.BookingDeps{
		Bookings:    e.bookings,
		Idempotency: e.idem,
		Jobs:        e.jobs,
		Waitlists:   e.waitlists,
		Splits:      e.splits,
		Catalog:     e.catalog,
		Gateway:     e.gateway,
		Notifier:    e.notifier,
		Publisher:   e.publisher,
		Broadcaster: e.broadcast,
		Locker:      e.locker,
		Processed:   e.processed,
	}, cfg, log)
	e.waitlistSvc = services.NewWaitlistService(
		e.waitlists, e.bookings, e.jobs,
		e.notifier, e.publisher, e.broadcast,
		cfg.WaitlistHoldTTL, log,
	)
	e.bookingSvc.SetPromoter(e.waitlistSvc)
	e.splitSvc = services.NewSplitService(
		e.bookingSvc, e.bookings, e.splits, e.jobs,
		e.catalog, e.gateway, e.notifier, e.publisher,
		cfg.SplitDeadlineAfter, 24*time.Hour, log,
	)
	e.recurringSvc = services.NewRecurringService(
		e.bookingSvc, e.series, e.bookings, e.jobs,
		e.catalog, e.notifier, log,
	)

	clock := func() time.Time { return e.now }
	e.bookingSvc.SetNow(clock)
	e.waitlistSvc.SetNow(clock)
	e.splitSvc.SetNow(clock)
	e.recurringSvc.SetNow(clock)
	return e
}

func (e *env) slot(courtID uuid.UUID, hoursAhead int, d time.Duration) domain.TimeSlot {
	start := e.now.Add(time.Duration(hoursAhead) * time.Hour)
	return domain.TimeSlot{CourtID: courtID, Start: start, End: start.Add(d)}
}

func (e *env) createReq(slot domain.TimeSlot, customerID uuid.UUID, key string) services.CreateBookingRequest {
	return services.CreateBookingRequest{
		CourtID:        slot.CourtID.String(),
		CustomerID:     customerID.String(),
		Start:          slot.Start,
		End:            slot.End,
		IdempotencyKey: key,
		PaymentMethod:  "card",
	}
}
