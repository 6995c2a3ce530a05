/*
service.go - Dispatch service: capability checks, locking, persistence

PURPOSE:
  Service is the only entry point that mutates tanker days. Every mutating
  operation follows the same path:

    1. check the session's capability
    2. take the per-day lock
    3. load the day and clone it
    4. apply the domain method to the clone
    5. Save() with the loaded version (optimistic check)

  If step 4 or 5 fails nothing is persisted and the caller's view of the
  day is unchanged.

CONCURRENCY:
  The per-day lock serializes writers inside one process. The version check
  in Save() covers writers in other processes sharing the same database; it
  surfaces as ErrConcurrentModification, the only retryable error.

SEE ALSO:
  - tankerday.go: the domain methods applied in step 4
  - store.go: Repository contract
*/
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/tanker-dispatch/ledger"
)

type Service struct {
	repo    Repository
	tankers TankerDirectory
	metrics MetricsRecorder
	now     func() time.Time
	locks   *keyedMutex
}

type Option func(*Service)

// WithMetrics sets the recorder observed on every operation.
func WithMetrics(m MetricsRecorder) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithClock overrides time.Now, for tests and scenarios.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(repo Repository, tankers TankerDirectory, opts ...Option) *Service {
	s := &Service{
		repo:    repo,
		tankers: tankers,
		metrics: nopMetrics{},
		now:     func() time.Time { return time.Now().UTC() },
		locks:   newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now returns the service clock.
func (s *Service) Now() time.Time { return s.now() }

func (s *Service) observe(ctx context.Context, op string, start time.Time, err error) {
	s.metrics.Observe(ctx, op, err == nil, time.Since(start))
}

// =============================================================================
// TANKERS
// =============================================================================

func (s *Service) ListTankers(ctx context.Context) ([]Tanker, error) {
	return s.tankers.ListTankers(ctx)
}

func (s *Service) GetTanker(ctx context.Context, id string) (*Tanker, error) {
	return s.tankers.GetTanker(ctx, id)
}

// RegisterTanker adds or replaces a tanker. Requires edit capability.
func (s *Service) RegisterTanker(ctx context.Context, sess Session, t Tanker) (err error) {
	defer func(start time.Time) { s.observe(ctx, "register_tanker", start, err) }(time.Now())
	if err := sess.require(CapEdit, "register tanker"); err != nil {
		return err
	}
	if strings.TrimSpace(t.ID) == "" {
		return invalid("id", "tanker id is required")
	}
	if strings.TrimSpace(t.Name) == "" {
		return invalid("name", "tanker name is required")
	}
	if len(t.Compartments) == 0 {
		return invalid("compartments", "at least one compartment is required")
	}
	seen := make(map[string]bool)
	for i, c := range t.Compartments {
		if strings.TrimSpace(c.ID) == "" {
			return invalid(fmt.Sprintf("compartments[%d].id", i), "compartment id is required")
		}
		if seen[c.ID] {
			return invalid(fmt.Sprintf("compartments[%d].id", i), "duplicate compartment "+c.ID)
		}
		seen[c.ID] = true
		if !c.MaxVolume.IsPositive() {
			return invalid(fmt.Sprintf("compartments[%d].max_volume", i), "must be > 0")
		}
	}
	return s.tankers.SaveTanker(ctx, t)
}

// =============================================================================
// READS
// =============================================================================

func (s *Service) Get(ctx context.Context, id string) (*TankerDay, error) {
	return s.repo.Load(ctx, id)
}

// ListByDate returns the days for date ordered by status rank then tanker.
func (s *Service) ListByDate(ctx context.Context, date time.Time) ([]TankerDay, error) {
	days, err := s.repo.ListByDate(ctx, DateOf(date))
	if err != nil {
		return nil, err
	}
	SortDays(days)
	return days, nil
}

// ListInRange returns all days in [from, to].
func (s *Service) ListInRange(ctx context.Context, from, to time.Time) ([]TankerDay, error) {
	from, to = DateOf(from), DateOf(to)
	if to.Before(from) {
		return nil, invalid("date_to", "must not be before date_from")
	}
	return s.repo.ListInRange(ctx, from, to)
}

// CompartmentBalance is the ledger view of one compartment on a day.
type CompartmentBalance struct {
	CompartmentID string          `json:"compartment_id"`
	Name          string          `json:"name"`
	MaxVolume     decimal.Decimal `json:"max_volume"`
	Balance       decimal.Decimal `json:"balance"`
	Deficit       decimal.Decimal `json:"deficit"`
	Headroom      decimal.Decimal `json:"headroom"`
	LastTripSeq   int             `json:"last_trip_seq,omitempty"`
}

// CompartmentBalances returns the current balance of every compartment,
// which is also the start quantity the next trip would receive.
func (s *Service) CompartmentBalances(ctx context.Context, id string) ([]CompartmentBalance, error) {
	day, err := s.repo.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	return day.CompartmentBalances(), nil
}

// CompartmentBalances joins the ledger balances with compartment master data.
func (d *TankerDay) CompartmentBalances() []CompartmentBalance {
	balances := d.Balances()
	out := make([]CompartmentBalance, len(d.Compartments))
	for i, c := range d.Compartments {
		b := balances[i]
		out[i] = CompartmentBalance{
			CompartmentID: c.ID,
			Name:          c.Name,
			MaxVolume:     c.MaxVolume,
			Balance:       b.Liters,
			Deficit:       b.Deficit,
			Headroom:      ledger.Headroom(b.Liters, c.MaxVolume),
			LastTripSeq:   b.LastSeq,
		}
	}
	return out
}

// =============================================================================
// DASHBOARD
// =============================================================================

type DashboardStats struct {
	Date           string          `json:"date"`
	TankerDays     int             `json:"tanker_days"`
	Open           int             `json:"open"`
	Submitted      int             `json:"submitted"`
	Locked         int             `json:"locked"`
	TotalTrips     int             `json:"total_trips"`
	TripsCompleted int             `json:"trips_completed"`
	TripsActive    int             `json:"trips_active"`
	TotalPlanned   decimal.Decimal `json:"total_planned"`
	TotalDelivered decimal.Decimal `json:"total_delivered"`
	TotalVariance  decimal.Decimal `json:"total_variance"`
	OpenExceptions int             `json:"open_exceptions"`
}

// ComputeStats aggregates day summaries for the dashboard.
func ComputeStats(date time.Time, days []TankerDay) DashboardStats {
	st := DashboardStats{
		Date:           DateOf(date).Format(DateLayout),
		TankerDays:     len(days),
		TotalPlanned:   decimal.Zero,
		TotalDelivered: decimal.Zero,
		TotalVariance:  decimal.Zero,
	}
	for i := range days {
		d := &days[i]
		switch d.Status {
		case DayOpen:
			st.Open++
		case DaySubmitted:
			st.Submitted++
		case DayLocked:
			st.Locked++
		}
		sum := d.Summary()
		st.TotalTrips += sum.TotalTrips
		st.TripsCompleted += sum.TripsCompleted
		st.TotalPlanned = st.TotalPlanned.Add(sum.TotalPlanned)
		st.TotalDelivered = st.TotalDelivered.Add(sum.TotalDelivered)
		st.TotalVariance = st.TotalVariance.Add(sum.TotalVariance)
		st.OpenExceptions += d.OpenExceptions()
		for _, t := range d.Trips {
			if t.Status == TripDeparted || t.Status == TripReturned {
				st.TripsActive++
			}
		}
	}
	return st
}

// =============================================================================
// DAY LIFECYCLE
// =============================================================================

// OpenTankerDay creates the day for (date, tankerID). A second open of the
// same pair fails with ErrAlreadyExists.
func (s *Service) OpenTankerDay(ctx context.Context, sess Session, date time.Time, tankerID string) (day *TankerDay, err error) {
	defer func(start time.Time) { s.observe(ctx, "open_tanker_day", start, err) }(time.Now())

	if err := sess.require(CapEdit, "open tanker day"); err != nil {
		return nil, err
	}
	if strings.TrimSpace(tankerID) == "" {
		return nil, invalid("tanker_id", "tanker is required")
	}
	if date.IsZero() {
		return nil, invalid("date", "date is required")
	}
	tanker, err := s.tankers.GetTanker(ctx, tankerID)
	if err != nil {
		return nil, err
	}

	day = NewTankerDay(date, *tanker, sess.actor(), s.now())
	if err := s.repo.Create(ctx, day); err != nil {
		return nil, err
	}
	log.Printf("[Dispatch] Opened tanker day %s (%s on %s) by %s",
		day.ID, tanker.Name, day.Date.Format(DateLayout), sess.actor())
	return day, nil
}

func (s *Service) Submit(ctx context.Context, sess Session, id string) (*TankerDay, error) {
	return s.mutate(ctx, sess, CapEdit, "submit_tanker_day", id, func(d *TankerDay, actor string, at time.Time) error {
		return d.Submit(actor, at)
	})
}

func (s *Service) Return(ctx context.Context, sess Session, id, note string) (*TankerDay, error) {
	return s.mutate(ctx, sess, CapApprove, "return_tanker_day", id, func(d *TankerDay, actor string, at time.Time) error {
		return d.Return(actor, note, at)
	})
}

func (s *Service) Approve(ctx context.Context, sess Session, id string) (*TankerDay, error) {
	return s.mutate(ctx, sess, CapApprove, "approve_tanker_day", id, func(d *TankerDay, actor string, at time.Time) error {
		return d.Approve(actor, at)
	})
}

// =============================================================================
// TRIP LIFECYCLE
// =============================================================================

// CreateTrip plans a trip. Start quantities come from the compartment ledger.
func (s *Service) CreateTrip(ctx context.Context, sess Session, id string, in TripInput) (*TankerDay, *Trip, error) {
	var seq int
	day, err := s.mutate(ctx, sess, CapEdit, "create_trip", id, func(d *TankerDay, actor string, at time.Time) error {
		t, err := d.AddTrip(in, actor, at)
		if err != nil {
			return err
		}
		seq = t.Seq
		return nil
	})
	return tripResult(day, seq, err)
}

func (s *Service) DepartTrip(ctx context.Context, sess Session, id string, seq int) (*TankerDay, *Trip, error) {
	day, err := s.mutate(ctx, sess, CapEdit, "depart_trip", id, func(d *TankerDay, actor string, at time.Time) error {
		_, err := d.DepartTrip(seq, actor, at)
		return err
	})
	return tripResult(day, seq, err)
}

func (s *Service) RecordDelivery(ctx context.Context, sess Session, id string, seq int, actuals map[string]decimal.Decimal) (*TankerDay, *Trip, error) {
	day, err := s.mutate(ctx, sess, CapEdit, "record_delivery", id, func(d *TankerDay, actor string, at time.Time) error {
		_, err := d.RecordDelivery(seq, actuals, actor, at)
		return err
	})
	return tripResult(day, seq, err)
}

// UploadPOD completes a RETURNED trip, or appends files to a COMPLETED one.
func (s *Service) UploadPOD(ctx context.Context, sess Session, id string, seq int, files []string) (*TankerDay, *Trip, error) {
	day, err := s.mutate(ctx, sess, CapEdit, "upload_pod", id, func(d *TankerDay, actor string, at time.Time) error {
		_, err := d.AttachPOD(seq, files, actor, at)
		return err
	})
	return tripResult(day, seq, err)
}

func (s *Service) CancelTrip(ctx context.Context, sess Session, id string, seq int, reason string) (*TankerDay, *Trip, error) {
	day, err := s.mutate(ctx, sess, CapEdit, "cancel_trip", id, func(d *TankerDay, actor string, at time.Time) error {
		_, err := d.CancelTrip(seq, reason, actor, at)
		return err
	})
	return tripResult(day, seq, err)
}

func tripResult(day *TankerDay, seq int, err error) (*TankerDay, *Trip, error) {
	if err != nil {
		return nil, nil, err
	}
	t, err := day.Trip(seq)
	if err != nil {
		return nil, nil, err
	}
	return day, t, nil
}

// =============================================================================
// EXCEPTIONS
// =============================================================================

func (s *Service) RaiseException(ctx context.Context, sess Session, id string, in ExceptionInput) (*TankerDay, *Exception, error) {
	var raised *Exception
	day, err := s.mutate(ctx, sess, CapEdit, "raise_exception", id, func(d *TankerDay, actor string, at time.Time) error {
		e, err := d.RaiseException(in, actor, at)
		raised = e
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return day, raised, nil
}

// ClearException requires approve capability: clearing signs off the anomaly.
func (s *Service) ClearException(ctx context.Context, sess Session, id, exceptionID, note string) (*TankerDay, *Exception, error) {
	var cleared *Exception
	day, err := s.mutate(ctx, sess, CapApprove, "clear_exception", id, func(d *TankerDay, actor string, at time.Time) error {
		e, err := d.ClearException(exceptionID, note, actor, at)
		cleared = e
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return day, cleared, nil
}

// SweepResult reports what one missing-POD sweep did.
type SweepResult struct {
	DaysScanned int
	Raised      int
	Failed      int
}

// SweepMissingPOD raises a MISSING_POD exception for every RETURNED trip
// whose return is older than deadline and that has no such exception yet.
// Days from lookbackDays before now through today are scanned; locked days
// are skipped.
func (s *Service) SweepMissingPOD(ctx context.Context, deadline time.Duration, lookbackDays int) (SweepResult, error) {
	var res SweepResult
	now := s.now()
	from := DateOf(now).AddDate(0, 0, -lookbackDays)
	days, err := s.repo.ListInRange(ctx, from, DateOf(now))
	if err != nil {
		return res, err
	}
	cutoff := now.Add(-deadline)

	for i := range days {
		d := &days[i]
		res.DaysScanned++
		if d.Status == DayLocked {
			continue
		}
		var overdue []int
		for _, t := range d.Trips {
			if t.Status == TripReturned && t.ReturnedAt != nil && t.ReturnedAt.Before(cutoff) &&
				!d.HasException(t.Seq, ExceptionMissingPOD) {
				overdue = append(overdue, t.Seq)
			}
		}
		if len(overdue) == 0 {
			continue
		}

		raised := 0
		_, err := s.mutate(ctx, SystemSession, CapEdit, "sweep_missing_pod", d.ID, func(day *TankerDay, actor string, at time.Time) error {
			for _, seq := range overdue {
				if day.HasException(seq, ExceptionMissingPOD) {
					continue
				}
				t, err := day.Trip(seq)
				if err != nil || t.Status != TripReturned {
					continue
				}
				day.raise(Exception{
					Type:     ExceptionMissingPOD,
					Severity: SeverityMedium,
					TripSeq:  seq,
					Description: fmt.Sprintf("Trip %d returned at %s without proof of delivery",
						seq, t.ReturnedAt.Format(time.RFC3339)),
				}, actor, at)
				raised++
			}
			day.UpdatedAt = at
			return nil
		})
		if err != nil {
			log.Printf("[Dispatch] Missing POD sweep failed for %s: %v", d.ID, err)
			res.Failed++
			continue
		}
		res.Raised += raised
	}
	return res, nil
}

// =============================================================================
// MUTATION PIPELINE
// =============================================================================

func (s *Service) mutate(ctx context.Context, sess Session, c Capability, op, id string,
	apply func(d *TankerDay, actor string, at time.Time) error) (day *TankerDay, err error) {
	defer func(start time.Time) { s.observe(ctx, op, start, err) }(time.Now())

	if err := sess.require(c, strings.ReplaceAll(op, "_", " ")); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	stored, err := s.repo.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	working := stored.Clone()
	if err := apply(working, sess.actor(), s.now()); err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, working, stored.Version); err != nil {
		if errors.Is(err, ErrConcurrentModification) {
			log.Printf("[Dispatch] Version conflict on %s (%s)", id, op)
		}
		return nil, err
	}
	return working, nil
}

// keyedMutex hands out one mutex per tanker day id. Entries are dropped
// when no goroutine holds or waits for them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedEntry)}
}

func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
