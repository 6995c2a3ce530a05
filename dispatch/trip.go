/*
trip.go - Trip lifecycle

PURPOSE:
  A Trip is one depot-to-station round trip. It is created PENDING by the
  owning TankerDay and then only moves through the transitions below.

STATE MACHINE:
  ┌─────────┐ depart ┌──────────┐ deliver ┌──────────┐ upload_pod ┌───────────┐
  │ PENDING │──────▶│ DEPARTED │───────▶│ RETURNED │──────────▶│ COMPLETED │
  └─────────┘        └──────────┘         └──────────┘            └───────────┘
       │                  │
       └──── cancel ──────┴──────▶ CANCELLED

  COMPLETED and CANCELLED are terminal. A COMPLETED trip may still gain POD
  attachments through AddPOD, which does not change its status.

QUANTITIES:
  planned  = sum(allocation.planned)
  actual   = sum(allocation.actual), nil until delivery is recorded
  variance = actual - planned (positive: over-delivered)

SEE ALSO:
  - tankerday.go: creates trips and gates edits on the day status
*/
package dispatch

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/tanker-dispatch/ledger"
)

// CompartmentAllocation is one trip's use of one compartment.
type CompartmentAllocation struct {
	CompartmentID string           `json:"compartment_id"`
	ProductCode   string           `json:"product_code"`
	StartQty      decimal.Decimal  `json:"start_qty"`
	RefillQty     decimal.Decimal  `json:"refill_qty"`
	PlannedQty    decimal.Decimal  `json:"planned_qty"`
	ActualQty     *decimal.Decimal `json:"actual_qty,omitempty"`
}

// Dispensed is actual when recorded, otherwise planned.
func (a CompartmentAllocation) Dispensed() decimal.Decimal {
	if a.ActualQty != nil {
		return *a.ActualQty
	}
	return a.PlannedQty
}

// Heel is what is left in the compartment after this trip, floored at zero.
func (a CompartmentAllocation) Heel() decimal.Decimal {
	return decimal.Max(a.StartQty.Add(a.RefillQty).Sub(a.Dispensed()), decimal.Zero)
}

// ExpectedHeel is what should be left if exactly the planned amount was dropped.
func (a CompartmentAllocation) ExpectedHeel() decimal.Decimal {
	return a.StartQty.Add(a.RefillQty).Sub(a.PlannedQty)
}

type Trip struct {
	ID           string                  `json:"id"`
	Seq          int                     `json:"seq"`
	DriverID     string                  `json:"driver_id,omitempty"`
	PorterID     string                  `json:"porter_id,omitempty"`
	CustomerID   string                  `json:"customer_id"`
	CustomerName string                  `json:"customer_name,omitempty"`
	StationID    string                  `json:"station_id"`
	StationName  string                  `json:"station_name,omitempty"`
	DRNumber     string                  `json:"dr_number,omitempty"`
	Status       TripStatus              `json:"status"`
	Allocations  []CompartmentAllocation `json:"allocations"`

	HasPOD   bool     `json:"has_pod"`
	PODFiles []string `json:"pod_files,omitempty"`

	CancellationReason string `json:"cancellation_reason,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	DepartedAt  *time.Time `json:"departed_at,omitempty"`
	ReturnedAt  *time.Time `json:"returned_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
}

// PlannedQty is the sum of planned liters across compartments.
func (t *Trip) PlannedQty() decimal.Decimal {
	sum := decimal.Zero
	for _, a := range t.Allocations {
		sum = sum.Add(a.PlannedQty)
	}
	return sum
}

// ActualQty is the sum of delivered liters, or nil before delivery.
func (t *Trip) ActualQty() *decimal.Decimal {
	if t.Status != TripReturned && t.Status != TripCompleted {
		return nil
	}
	sum := decimal.Zero
	for _, a := range t.Allocations {
		if a.ActualQty != nil {
			sum = sum.Add(*a.ActualQty)
		}
	}
	return &sum
}

// Variance is actual - planned, or nil before delivery.
func (t *Trip) Variance() *decimal.Decimal {
	actual := t.ActualQty()
	if actual == nil {
		return nil
	}
	v := actual.Sub(t.PlannedQty())
	return &v
}

// Products lists the distinct product codes carried, sorted.
func (t *Trip) Products() []string {
	seen := make(map[string]bool)
	var out []string
	for _, a := range t.Allocations {
		if a.ProductCode != "" && !seen[a.ProductCode] {
			seen[a.ProductCode] = true
			out = append(out, a.ProductCode)
		}
	}
	sort.Strings(out)
	return out
}

func (t *Trip) movements() []ledger.Movement {
	out := make([]ledger.Movement, len(t.Allocations))
	for i, a := range t.Allocations {
		out[i] = ledger.Movement{
			Seq:           t.Seq,
			CompartmentID: a.CompartmentID,
			Refill:        a.RefillQty,
			Planned:       a.PlannedQty,
			Actual:        a.ActualQty,
			Cancelled:     t.Status == TripCancelled,
		}
	}
	return out
}

// =============================================================================
// TRANSITIONS
// =============================================================================

type tripAction string

const (
	actionDepart    tripAction = "depart"
	actionDeliver   tripAction = "record_delivery"
	actionUploadPOD tripAction = "upload_pod"
	actionAddPOD    tripAction = "add_pod"
	actionCancel    tripAction = "cancel"
)

var tripTransitions = map[tripAction]map[TripStatus]TripStatus{
	actionDepart:    {TripPending: TripDeparted},
	actionDeliver:   {TripDeparted: TripReturned},
	actionUploadPOD: {TripReturned: TripCompleted},
	actionAddPOD:    {TripCompleted: TripCompleted},
	actionCancel:    {TripPending: TripCancelled, TripDeparted: TripCancelled},
}

func (t *Trip) next(action tripAction) (TripStatus, error) {
	to, ok := tripTransitions[action][t.Status]
	if !ok {
		return "", &TransitionError{Subject: "trip", From: string(t.Status), Action: string(action)}
	}
	return to, nil
}

// Depart records the departure time.
func (t *Trip) Depart(at time.Time) error {
	to, err := t.next(actionDepart)
	if err != nil {
		return err
	}
	t.Status = to
	t.DepartedAt = &at
	return nil
}

// RecordDelivery stores the actual liters delivered per compartment. Every
// allocated compartment needs a value; any non-negative amount is accepted.
func (t *Trip) RecordDelivery(actuals map[string]decimal.Decimal, at time.Time) error {
	to, err := t.next(actionDeliver)
	if err != nil {
		return err
	}

	allocated := make(map[string]bool, len(t.Allocations))
	for _, a := range t.Allocations {
		allocated[a.CompartmentID] = true
	}
	for id, qty := range actuals {
		if !allocated[id] {
			return invalid("actuals", "compartment "+id+" is not allocated on this trip")
		}
		if qty.IsNegative() {
			return invalid("actuals", "delivered liters for "+id+" must be >= 0")
		}
	}
	for _, a := range t.Allocations {
		if _, ok := actuals[a.CompartmentID]; !ok {
			return invalid("actuals", "missing delivered liters for compartment "+a.CompartmentID)
		}
	}

	for i := range t.Allocations {
		qty := actuals[t.Allocations[i].CompartmentID]
		t.Allocations[i].ActualQty = &qty
	}
	t.Status = to
	t.ReturnedAt = &at
	return nil
}

// UploadPOD attaches proof of delivery and completes a returned trip.
func (t *Trip) UploadPOD(files []string, at time.Time) error {
	to, err := t.next(actionUploadPOD)
	if err != nil {
		return err
	}
	files, err = cleanFiles(files)
	if err != nil {
		return err
	}
	t.Status = to
	t.HasPOD = true
	t.PODFiles = append(t.PODFiles, files...)
	t.CompletedAt = &at
	return nil
}

// AddPOD appends more attachments to a completed trip.
func (t *Trip) AddPOD(files []string) error {
	if _, err := t.next(actionAddPOD); err != nil {
		return err
	}
	files, err := cleanFiles(files)
	if err != nil {
		return err
	}
	t.PODFiles = append(t.PODFiles, files...)
	return nil
}

// Cancel takes the trip out of every balance and summary computation.
func (t *Trip) Cancel(reason string, at time.Time) error {
	to, err := t.next(actionCancel)
	if err != nil {
		return err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return invalid("reason", "cancellation reason is required")
	}
	t.Status = to
	t.CancellationReason = reason
	t.CancelledAt = &at
	return nil
}

func cleanFiles(files []string) ([]string, error) {
	var out []string
	for _, f := range files {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	if len(out) == 0 {
		return nil, invalid("files", "at least one POD file is required")
	}
	return out, nil
}

func (t Trip) clone() Trip {
	c := t
	c.Allocations = make([]CompartmentAllocation, len(t.Allocations))
	for i, a := range t.Allocations {
		if a.ActualQty != nil {
			v := *a.ActualQty
			a.ActualQty = &v
		}
		c.Allocations[i] = a
	}
	c.PODFiles = append([]string(nil), t.PODFiles...)
	return c
}
