/*
tankerday.go - Tanker day aggregate

PURPOSE:
  A TankerDay is one tanker's unit of work for one calendar date. It owns
  the compartment snapshots, the trips, the timeline and the exceptions for
  that day. Everything that changes any of them goes through a method here.

STATE MACHINE:
  OPEN ──submit──▶ SUBMITTED ──approve──▶ LOCKED
    ▲                  │
    └─────return───────┘

  Trips can only be created or transitioned while the day is OPEN.
  LOCKED is terminal: the day and all its trips are read-only.

SUMMARY:
  Summary() is recomputed from trips on every call. There is no stored
  total that can drift from the trip list.

INVARIANTS:
  - Trip sequence numbers are 1..n in creation order and never reused
  - planned <= start + refill for every allocation at creation time
  - start + refill <= compartment max volume
  - Timeline and exceptions only grow

SEE ALSO:
  - trip.go: per-trip transitions
  - service.go: capability checks, locking and persistence
*/
package dispatch

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/tanker-dispatch/ledger"
)

type TankerDay struct {
	ID           string          `json:"id"`
	Date         time.Time       `json:"date"`
	TankerID     string          `json:"tanker_id"`
	TankerName   string          `json:"tanker_name,omitempty"`
	DriverID     string          `json:"driver_id,omitempty"`
	PorterID     string          `json:"porter_id,omitempty"`
	Status       DayStatus       `json:"status"`
	Compartments []Compartment   `json:"compartments"`
	Trips        []Trip          `json:"trips"`
	Timeline     []TimelineEvent `json:"timeline"`
	Exceptions   []Exception     `json:"exceptions"`

	Version     int        `json:"version"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty"`
	ApprovedBy  string     `json:"approved_by,omitempty"`
}

// NewTankerDay opens a day for tanker. Compartments are snapshotted without
// a product: the product is chosen per trip.
func NewTankerDay(date time.Time, tanker Tanker, actor string, at time.Time) *TankerDay {
	date = DateOf(date)
	compartments := make([]Compartment, len(tanker.Compartments))
	for i, c := range tanker.Compartments {
		compartments[i] = Compartment{ID: c.ID, Name: c.Name, MaxVolume: c.MaxVolume}
	}

	day := &TankerDay{
		ID:           TankerDayID(date, tanker.ID),
		Date:         date,
		TankerID:     tanker.ID,
		TankerName:   tanker.Name,
		DriverID:     tanker.DefaultDriverID,
		PorterID:     tanker.DefaultPorterID,
		Status:       DayOpen,
		Compartments: compartments,
		Trips:        []Trip{},
		Timeline:     []TimelineEvent{},
		Exceptions:   []Exception{},
		CreatedAt:    at,
		UpdatedAt:    at,
	}
	day.appendEvent(EventDayOpened, "Tanker day opened",
		fmt.Sprintf("%s opened for %s", tanker.Name, date.Format(DateLayout)), actor, at)
	return day
}

// =============================================================================
// SUMMARY - derived on read
// =============================================================================

type Summary struct {
	TotalPlanned   decimal.Decimal `json:"total_planned"`
	TotalDelivered decimal.Decimal `json:"total_delivered"`
	TotalVariance  decimal.Decimal `json:"total_variance"`
	TripsCompleted int             `json:"trips_completed"`
	TotalTrips     int             `json:"total_trips"`
	Exceptions     int             `json:"exceptions"`
}

// Summary derives the day totals from its trips.
func (d *TankerDay) Summary() Summary {
	s := Summary{
		TotalPlanned:   decimal.Zero,
		TotalDelivered: decimal.Zero,
		TotalVariance:  decimal.Zero,
		TotalTrips:     len(d.Trips),
	}
	for i := range d.Trips {
		t := &d.Trips[i]
		if t.Status != TripCancelled {
			s.TotalPlanned = s.TotalPlanned.Add(t.PlannedQty())
		}
		if actual := t.ActualQty(); actual != nil {
			s.TotalDelivered = s.TotalDelivered.Add(*actual)
		}
		if v := t.Variance(); v != nil {
			s.TotalVariance = s.TotalVariance.Add(*v)
		}
		if t.Status == TripCompleted {
			s.TripsCompleted++
		}
		if d.TripHasException(t.Seq) {
			s.Exceptions++
		}
	}
	return s
}

// TripHasException reports whether the trip has an uncleared exception.
func (d *TankerDay) TripHasException(seq int) bool {
	for _, e := range d.Exceptions {
		if e.TripSeq == seq && !e.IsCleared() {
			return true
		}
	}
	return false
}

// OpenExceptions counts uncleared exceptions, including day-level ones.
func (d *TankerDay) OpenExceptions() int {
	n := 0
	for _, e := range d.Exceptions {
		if !e.IsCleared() {
			n++
		}
	}
	return n
}

// =============================================================================
// LEDGER VIEW
// =============================================================================

// Movements flattens every trip allocation into ledger movements.
func (d *TankerDay) Movements() []ledger.Movement {
	var out []ledger.Movement
	for i := range d.Trips {
		out = append(out, d.Trips[i].movements()...)
	}
	return out
}

// Balance returns the current balance of one compartment.
func (d *TankerDay) Balance(compartmentID string) ledger.Balance {
	return ledger.CurrentBalance(compartmentID, d.Movements())
}

// Balances returns current balances in compartment order.
func (d *TankerDay) Balances() []ledger.Balance {
	ids := make([]string, len(d.Compartments))
	for i, c := range d.Compartments {
		ids[i] = c.ID
	}
	return ledger.Balances(ids, d.Movements())
}

// restateStarts rewrites every live allocation's StartQty from a replay of
// the ledger. Cancelled trips keep the start they had when cancelled.
func (d *TankerDay) restateStarts() {
	movements := d.Movements()
	starts := make(map[int]map[string]decimal.Decimal)
	for _, c := range d.Compartments {
		for _, st := range ledger.Replay(c.ID, movements) {
			if starts[st.Seq] == nil {
				starts[st.Seq] = make(map[string]decimal.Decimal)
			}
			starts[st.Seq][c.ID] = st.Start
		}
	}
	for i := range d.Trips {
		t := &d.Trips[i]
		if t.Status == TripCancelled {
			continue
		}
		for j := range t.Allocations {
			if start, ok := starts[t.Seq][t.Allocations[j].CompartmentID]; ok {
				t.Allocations[j].StartQty = start
			}
		}
	}
}

// replayAll replays every compartment of the day.
func (d *TankerDay) replayAll(movements []ledger.Movement) map[string][]ledger.Step {
	out := make(map[string][]ledger.Step, len(d.Compartments))
	for _, c := range d.Compartments {
		out[c.ID] = ledger.Replay(c.ID, movements)
	}
	return out
}

func (d *TankerDay) compartment(id string) (Compartment, bool) {
	for _, c := range d.Compartments {
		if c.ID == id {
			return c, true
		}
	}
	return Compartment{}, false
}

// =============================================================================
// TRIPS
// =============================================================================

// TripInput is what an operator supplies to plan a trip.
type TripInput struct {
	CustomerID   string
	CustomerName string
	StationID    string
	StationName  string
	DriverID     string
	PorterID     string
	DRNumber     string
	Allocations  []AllocationInput
}

// AllocationInput plans one compartment. A nil PlannedQty defaults to the
// refill quantity (ledger.DefaultPlanned).
type AllocationInput struct {
	CompartmentID string
	ProductCode   string
	RefillQty     decimal.Decimal
	PlannedQty    *decimal.Decimal
}

// Trip returns a pointer into the day's trip list.
func (d *TankerDay) Trip(seq int) (*Trip, error) {
	for i := range d.Trips {
		if d.Trips[i].Seq == seq {
			return &d.Trips[i], nil
		}
	}
	return nil, fmt.Errorf("trip %d on tanker day %s: %w", seq, d.ID, ErrNotFound)
}

// AddTrip validates in against the compartment ledger and appends a PENDING
// trip. Nothing is modified when an error is returned.
func (d *TankerDay) AddTrip(in TripInput, actor string, at time.Time) (*Trip, error) {
	if err := d.requireOpen("create trip"); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.StationID) == "" {
		return nil, invalid("station_id", "station is required")
	}
	if strings.TrimSpace(in.CustomerID) == "" {
		return nil, invalid("customer_id", "customer is required")
	}
	if len(in.Allocations) == 0 {
		return nil, invalid("allocations", "at least one compartment allocation is required")
	}

	movements := d.Movements()
	seen := make(map[string]bool, len(in.Allocations))
	allocations := make([]CompartmentAllocation, 0, len(in.Allocations))
	anyPlanned := false

	for i, a := range in.Allocations {
		field := fmt.Sprintf("allocations[%d]", i)
		comp, ok := d.compartment(a.CompartmentID)
		if !ok {
			return nil, invalid(field+".compartment_id", "unknown compartment "+a.CompartmentID)
		}
		if seen[comp.ID] {
			return nil, invalid(field+".compartment_id", "compartment "+comp.ID+" allocated twice")
		}
		seen[comp.ID] = true

		planned := ledger.DefaultPlanned(a.RefillQty)
		if a.PlannedQty != nil {
			planned = *a.PlannedQty
		}
		if a.RefillQty.IsNegative() {
			return nil, invalid(field+".refill_qty", "must be >= 0")
		}
		if planned.IsNegative() {
			return nil, invalid(field+".planned_qty", "must be >= 0")
		}
		product := strings.TrimSpace(a.ProductCode)
		if product == "" && (planned.IsPositive() || a.RefillQty.IsPositive()) {
			return nil, invalid(field+".product_code", "product is required")
		}

		start := ledger.CurrentBalance(comp.ID, movements).Liters
		if err := ledger.ValidateCapacity(comp.ID, start, a.RefillQty, comp.MaxVolume); err != nil {
			return nil, err
		}
		if err := ledger.ValidateAllocation(comp.ID, start, a.RefillQty, planned); err != nil {
			return nil, err
		}
		if planned.IsPositive() {
			anyPlanned = true
		}

		allocations = append(allocations, CompartmentAllocation{
			CompartmentID: comp.ID,
			ProductCode:   product,
			StartQty:      start,
			RefillQty:     a.RefillQty,
			PlannedQty:    planned,
		})
	}
	if !anyPlanned {
		return nil, invalid("allocations", "at least one compartment must have planned quantity > 0")
	}

	trip := Trip{
		ID:           newID(),
		Seq:          d.nextSeq(),
		DriverID:     firstNonEmpty(in.DriverID, d.DriverID),
		PorterID:     firstNonEmpty(in.PorterID, d.PorterID),
		CustomerID:   strings.TrimSpace(in.CustomerID),
		CustomerName: in.CustomerName,
		StationID:    strings.TrimSpace(in.StationID),
		StationName:  in.StationName,
		DRNumber:     in.DRNumber,
		Status:       TripPending,
		Allocations:  allocations,
		CreatedAt:    at,
	}
	d.Trips = append(d.Trips, trip)
	added := &d.Trips[len(d.Trips)-1]

	d.appendEvent(EventTripCreated, fmt.Sprintf("Trip %d planned", added.Seq),
		fmt.Sprintf("%s L to %s", added.PlannedQty(), stationLabel(added)), actor, at)
	d.UpdatedAt = at
	return added, nil
}

func (d *TankerDay) nextSeq() int {
	max := 0
	for _, t := range d.Trips {
		if t.Seq > max {
			max = t.Seq
		}
	}
	return max + 1
}

// DepartTrip moves a trip to DEPARTED.
func (d *TankerDay) DepartTrip(seq int, actor string, at time.Time) (*Trip, error) {
	t, err := d.editableTrip(seq, "depart trip")
	if err != nil {
		return nil, err
	}
	if err := t.Depart(at); err != nil {
		return nil, err
	}
	d.appendEvent(EventTripDeparted, fmt.Sprintf("Trip %d departed", seq), stationLabel(t), actor, at)
	d.UpdatedAt = at
	return t, nil
}

// RecordDelivery stores actual liters and raises a VARIANCE exception when
// the delivery variance exceeds the threshold, and an OTHER exception for any
// compartment whose balance would go negative, at this trip or a later one.
func (d *TankerDay) RecordDelivery(seq int, actuals map[string]decimal.Decimal, actor string, at time.Time) (*Trip, error) {
	t, err := d.editableTrip(seq, "record delivery")
	if err != nil {
		return nil, err
	}
	before := d.replayAll(d.Movements())
	if err := t.RecordDelivery(actuals, at); err != nil {
		return nil, err
	}
	after := d.replayAll(d.Movements())
	d.restateStarts()

	variance := *t.Variance()
	d.appendEvent(EventTripDelivered, fmt.Sprintf("Trip %d delivered", seq),
		fmt.Sprintf("%s L delivered, variance %s L", t.ActualQty(), variance), actor, at)

	if ExceedsVarianceThreshold(variance) {
		v := variance
		d.raise(Exception{
			Type:        ExceptionVariance,
			Severity:    VarianceSeverity(variance),
			TripSeq:     seq,
			Description: fmt.Sprintf("Trip %d delivered %s L against %s L planned", seq, t.ActualQty(), t.PlannedQty()),
			Liters:      &v,
		}, actor, at)
	}
	for _, c := range d.Compartments {
		for _, st := range ledger.NewShortfalls(before[c.ID], after[c.ID]) {
			deficit := st.Shortfall
			desc := fmt.Sprintf("Compartment %s balance would be negative by %s L", c.ID, deficit)
			if st.Seq != seq {
				desc = fmt.Sprintf("Compartment %s balance would be negative by %s L at trip %d", c.ID, deficit, st.Seq)
			}
			d.raise(Exception{
				Type:        ExceptionOther,
				Severity:    SeverityHigh,
				TripSeq:     seq,
				Description: desc,
				Liters:      &deficit,
			}, actor, at)
		}
	}
	d.UpdatedAt = at
	return t, nil
}

// AttachPOD completes a RETURNED trip, or adds attachments to a COMPLETED one.
func (d *TankerDay) AttachPOD(seq int, files []string, actor string, at time.Time) (*Trip, error) {
	t, err := d.editableTrip(seq, "upload pod")
	if err != nil {
		return nil, err
	}
	if t.Status == TripCompleted {
		if err := t.AddPOD(files); err != nil {
			return nil, err
		}
		d.appendEvent(EventPODAdded, fmt.Sprintf("POD added to trip %d", seq),
			fmt.Sprintf("%d file(s)", len(files)), actor, at)
	} else {
		if err := t.UploadPOD(files, at); err != nil {
			return nil, err
		}
		d.appendEvent(EventPODUploaded, fmt.Sprintf("Trip %d completed", seq),
			fmt.Sprintf("POD uploaded, %d file(s)", len(t.PODFiles)), actor, at)
	}
	d.UpdatedAt = at
	return t, nil
}

// CancelTrip cancels a PENDING or DEPARTED trip.
func (d *TankerDay) CancelTrip(seq int, reason, actor string, at time.Time) (*Trip, error) {
	t, err := d.editableTrip(seq, "cancel trip")
	if err != nil {
		return nil, err
	}
	if _, err := t.next(actionCancel); err != nil {
		return nil, err
	}
	if strings.TrimSpace(reason) == "" {
		return nil, invalid("reason", "cancellation reason is required")
	}
	if err := d.checkCancelKeepsLedger(seq); err != nil {
		return nil, err
	}
	if err := t.Cancel(reason, at); err != nil {
		return nil, err
	}
	d.restateStarts()
	d.appendEvent(EventTripCancelled, fmt.Sprintf("Trip %d cancelled", seq), t.CancellationReason, actor, at)
	d.UpdatedAt = at
	return t, nil
}

// checkCancelKeepsLedger rejects cancelling seq when a later trip was planned
// against liters only that trip loaded.
func (d *TankerDay) checkCancelKeepsLedger(seq int) error {
	movements := d.Movements()
	before := d.replayAll(movements)
	for i := range movements {
		if movements[i].Seq == seq {
			movements[i].Cancelled = true
		}
	}
	after := d.replayAll(movements)
	for _, c := range d.Compartments {
		if short := ledger.NewShortfalls(before[c.ID], after[c.ID]); len(short) > 0 {
			st := short[0]
			return &ledger.OverAllocationError{
				CompartmentID: c.ID,
				Available:     st.Start.Add(st.Refill),
				Requested:     st.Dispensed,
				Reason:        "strands_later_trips",
			}
		}
	}
	return nil
}

func (d *TankerDay) editableTrip(seq int, action string) (*Trip, error) {
	if err := d.requireOpen(action); err != nil {
		return nil, err
	}
	return d.Trip(seq)
}

// =============================================================================
// DAY TRANSITIONS
// =============================================================================

type dayAction string

const (
	actionSubmit  dayAction = "submit"
	actionReturn  dayAction = "return"
	actionApprove dayAction = "approve"
)

var dayTransitions = map[dayAction]map[DayStatus]DayStatus{
	actionSubmit:  {DayOpen: DaySubmitted},
	actionReturn:  {DaySubmitted: DayOpen},
	actionApprove: {DaySubmitted: DayLocked},
}

func (d *TankerDay) transition(action dayAction) (DayStatus, error) {
	to, ok := dayTransitions[action][d.Status]
	if !ok {
		return "", &TransitionError{Subject: "tanker_day", From: string(d.Status), Action: string(action)}
	}
	return to, nil
}

func (d *TankerDay) requireOpen(action string) error {
	if d.Status != DayOpen {
		return &TransitionError{Subject: "tanker_day", From: string(d.Status), Action: action}
	}
	return nil
}

// Submit hands the day to an approver. Trips do not need to be complete.
func (d *TankerDay) Submit(actor string, at time.Time) error {
	to, err := d.transition(actionSubmit)
	if err != nil {
		return err
	}
	d.Status = to
	d.SubmittedAt = &at
	d.UpdatedAt = at
	s := d.Summary()
	d.appendEvent(EventDaySubmitted, "Tanker day submitted",
		fmt.Sprintf("%d of %d trips completed", s.TripsCompleted, s.TotalTrips), actor, at)
	return nil
}

// Return sends a submitted day back for edits.
func (d *TankerDay) Return(actor, note string, at time.Time) error {
	to, err := d.transition(actionReturn)
	if err != nil {
		return err
	}
	d.Status = to
	d.SubmittedAt = nil
	d.UpdatedAt = at
	d.appendEvent(EventDayReturned, "Tanker day returned for edits", note, actor, at)
	return nil
}

// Approve locks the day.
func (d *TankerDay) Approve(actor string, at time.Time) error {
	to, err := d.transition(actionApprove)
	if err != nil {
		return err
	}
	d.Status = to
	d.ApprovedAt = &at
	d.ApprovedBy = actor
	d.UpdatedAt = at
	d.appendEvent(EventDayApproved, "Tanker day approved and locked", "", actor, at)
	return nil
}

// =============================================================================
// EXCEPTIONS
// =============================================================================

// RaiseException records a manual exception.
func (d *TankerDay) RaiseException(in ExceptionInput, actor string, at time.Time) (*Exception, error) {
	if d.Status == DayLocked {
		return nil, &TransitionError{Subject: "tanker_day", From: string(d.Status), Action: "raise exception"}
	}
	if _, ok := ParseExceptionType(string(in.Type)); !ok {
		return nil, invalid("type", "unknown exception type "+string(in.Type))
	}
	if in.Severity == "" {
		in.Severity = SeverityMedium
	}
	if _, ok := ParseSeverity(string(in.Severity)); !ok {
		return nil, invalid("severity", "unknown severity "+string(in.Severity))
	}
	if strings.TrimSpace(in.Description) == "" {
		return nil, invalid("description", "description is required")
	}
	if in.TripSeq != 0 {
		if _, err := d.Trip(in.TripSeq); err != nil {
			return nil, err
		}
	}
	e := d.raise(Exception{
		Type:        in.Type,
		Severity:    in.Severity,
		TripSeq:     in.TripSeq,
		Description: strings.TrimSpace(in.Description),
		Liters:      in.Liters,
	}, actor, at)
	d.UpdatedAt = at
	return e, nil
}

// HasException reports whether an exception of type typ exists for seq,
// cleared or not.
func (d *TankerDay) HasException(seq int, typ ExceptionType) bool {
	for _, e := range d.Exceptions {
		if e.TripSeq == seq && e.Type == typ {
			return true
		}
	}
	return false
}

func (d *TankerDay) raise(e Exception, actor string, at time.Time) *Exception {
	e.ID = newID()
	e.RaisedAt = at
	e.RaisedBy = actor
	d.Exceptions = append(d.Exceptions, e)
	title := fmt.Sprintf("%s exception raised", e.Type)
	if e.TripSeq > 0 {
		title = fmt.Sprintf("%s exception raised on trip %d", e.Type, e.TripSeq)
	}
	d.appendEvent(EventExceptionRaised, title, e.Description, actor, at)
	return &d.Exceptions[len(d.Exceptions)-1]
}

// ClearException attaches a clearing record. Clearing twice is rejected.
func (d *TankerDay) ClearException(id, note, actor string, at time.Time) (*Exception, error) {
	if d.Status == DayLocked {
		return nil, &TransitionError{Subject: "tanker_day", From: string(d.Status), Action: "clear exception"}
	}
	for i := range d.Exceptions {
		e := &d.Exceptions[i]
		if e.ID != id {
			continue
		}
		if e.IsCleared() {
			return nil, &TransitionError{Subject: "exception", From: "CLEARED", Action: "clear"}
		}
		e.Clearing = &Clearing{ClearedAt: at, ClearedBy: actor, Note: strings.TrimSpace(note)}
		d.appendEvent(EventExceptionCleared, fmt.Sprintf("%s exception cleared", e.Type), e.Clearing.Note, actor, at)
		d.UpdatedAt = at
		return e, nil
	}
	return nil, fmt.Errorf("exception %s on tanker day %s: %w", id, d.ID, ErrNotFound)
}

// =============================================================================
// TIMELINE
// =============================================================================

func (d *TankerDay) appendEvent(typ EventType, title, description, actor string, at time.Time) {
	d.Timeline = append(d.Timeline, TimelineEvent{
		ID:          newID(),
		Seq:         len(d.Timeline) + 1,
		Type:        typ,
		Title:       title,
		Description: description,
		At:          at,
		Completed:   true,
		Actor:       actor,
	})
}

// =============================================================================
// COPYING & ORDERING
// =============================================================================

// Clone returns a deep copy. The service mutates clones so a failed
// operation never leaves a half-applied day behind.
func (d *TankerDay) Clone() *TankerDay {
	c := *d
	c.Compartments = append([]Compartment(nil), d.Compartments...)
	c.Trips = make([]Trip, len(d.Trips))
	for i, t := range d.Trips {
		c.Trips[i] = t.clone()
	}
	c.Timeline = append([]TimelineEvent(nil), d.Timeline...)
	c.Exceptions = make([]Exception, len(d.Exceptions))
	for i, e := range d.Exceptions {
		if e.Clearing != nil {
			cl := *e.Clearing
			e.Clearing = &cl
		}
		if e.Liters != nil {
			v := *e.Liters
			e.Liters = &v
		}
		c.Exceptions[i] = e
	}
	return &c
}

// TripsByStatus returns the trips ordered by status rank, then sequence.
func (d *TankerDay) TripsByStatus() []Trip {
	out := append([]Trip(nil), d.Trips...)
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := out[i].Status.Rank(), out[j].Status.Rank()
		if ri != rj {
			return ri < rj
		}
		return out[i].Seq < out[j].Seq
	})
	return out
}

// SortDays orders days by status rank, then tanker name, then id.
func SortDays(days []TankerDay) {
	sort.SliceStable(days, func(i, j int) bool {
		ri, rj := days[i].Status.Rank(), days[j].Status.Rank()
		if ri != rj {
			return ri < rj
		}
		if days[i].TankerName != days[j].TankerName {
			return days[i].TankerName < days[j].TankerName
		}
		return days[i].ID < days[j].ID
	})
}

func stationLabel(t *Trip) string {
	if t.StationName != "" {
		return t.StationName
	}
	return t.StationID
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
