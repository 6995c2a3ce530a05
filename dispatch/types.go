/*
Package dispatch implements the tanker-day aggregate and the trip lifecycle.

PURPOSE:
  A tanker is opened for one calendar date (a Tanker Day). During the day it
  makes Trips to customer stations, each drawing fuel from one or more of
  its compartments. This package owns the state machines for both, and the
  service that serializes every mutation of a day.

KEY CONCEPTS IN THIS FILE (types.go):
  - Tanker / Compartment: master data, snapshotted into each day
  - DayStatus / TripStatus: closed enums with an explicit rank for sorting
  - TankerDayID: deterministic id so one tanker has at most one day per date

DESIGN PRINCIPLES:
  1. Derived, never stored: day summaries are recomputed from trips on read
  2. All-or-nothing: mutations run against a copy and are persisted whole
  3. Append-only: timeline events and exceptions are never edited or removed
     (an exception may only gain a clearing record)
  4. Exact quantities: liters are decimal.Decimal

SEE ALSO:
  - trip.go: trip lifecycle transitions
  - tankerday.go: day aggregate, summary derivation
  - service.go: locking, persistence, capability checks
  - ledger package: compartment balance rules
*/
package dispatch

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DateLayout is the wire and storage format for calendar dates.
const DateLayout = "2006-01-02"

// ParseDate parses YYYY-MM-DD into a UTC midnight time.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, strings.TrimSpace(s), time.UTC)
}

// DateOf returns the calendar date of t as seen in t's own location, as a
// UTC midnight. A clock running in the depot's zone yields the depot's day.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// =============================================================================
// MASTER DATA
// =============================================================================

// Compartment is a physical fuel bay on a tanker.
type Compartment struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	MaxVolume   decimal.Decimal `json:"max_volume"`
	ProductCode string          `json:"product_code,omitempty"`
}

// Tanker is the master record a day is opened against.
type Tanker struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	PlateNumber     string        `json:"plate_number,omitempty"`
	DefaultDriverID string        `json:"default_driver_id,omitempty"`
	DefaultPorterID string        `json:"default_porter_id,omitempty"`
	Compartments    []Compartment `json:"compartments"`
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

var tankerDayNamespace = uuid.MustParse("6f1c2a8e-3f4b-5d6e-9a7b-0c1d2e3f4a5b")

// TankerDayID derives the day id from (date, tankerID). The same pair always
// yields the same id, which is what makes a second open of the same tanker on
// the same date collide.
func TankerDayID(date time.Time, tankerID string) string {
	name := DateOf(date).Format(DateLayout) + "/" + tankerID
	return uuid.NewSHA1(tankerDayNamespace, []byte(name)).String()
}

func newID() string { return uuid.NewString() }

// =============================================================================
// STATUSES
// =============================================================================

type DayStatus string

const (
	DayOpen      DayStatus = "OPEN"
	DaySubmitted DayStatus = "SUBMITTED"
	DayLocked    DayStatus = "LOCKED"
)

// Rank orders day statuses for listing: open work first.
func (s DayStatus) Rank() int {
	switch s {
	case DayOpen:
		return 0
	case DaySubmitted:
		return 1
	case DayLocked:
		return 2
	}
	return 99
}

type TripStatus string

const (
	TripPending   TripStatus = "PENDING"
	TripDeparted  TripStatus = "DEPARTED"
	TripReturned  TripStatus = "RETURNED"
	TripCompleted TripStatus = "COMPLETED"
	TripCancelled TripStatus = "CANCELLED"
)

// Rank follows the lifecycle order; cancelled sorts last.
func (s TripStatus) Rank() int {
	switch s {
	case TripPending:
		return 0
	case TripDeparted:
		return 1
	case TripReturned:
		return 2
	case TripCompleted:
		return 3
	case TripCancelled:
		return 4
	}
	return 99
}

// IsTerminal reports whether no further transition is possible.
func (s TripStatus) IsTerminal() bool {
	return s == TripCompleted || s == TripCancelled
}
