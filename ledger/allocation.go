package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrOverAllocated is returned when planned or refilled liters exceed
	// what the compartment can physically hold or dispense.
	ErrOverAllocated = errors.New("over allocated")

	// ErrNegativeQuantity is returned for negative start, refill or planned liters.
	ErrNegativeQuantity = errors.New("negative quantity")
)

// OverAllocationError carries the numbers behind an ErrOverAllocated rejection.
type OverAllocationError struct {
	CompartmentID string
	Available     decimal.Decimal
	Requested     decimal.Decimal
	Reason        string // planned_exceeds_available, exceeds_capacity or strands_later_trips
}

func (e *OverAllocationError) Error() string {
	if e.CompartmentID == "" {
		return fmt.Sprintf("over allocated: %s requested, %s available (%s)", e.Requested, e.Available, e.Reason)
	}
	return fmt.Sprintf("compartment %s over allocated: %s requested, %s available (%s)",
		e.CompartmentID, e.Requested, e.Available, e.Reason)
}

func (e *OverAllocationError) Unwrap() error { return ErrOverAllocated }

// ValidateAllocation checks planned <= start + refill for compartmentID.
func ValidateAllocation(compartmentID string, start, refill, planned decimal.Decimal) error {
	if start.IsNegative() || refill.IsNegative() || planned.IsNegative() {
		return ErrNegativeQuantity
	}
	available := start.Add(refill)
	if planned.GreaterThan(available) {
		return &OverAllocationError{
			CompartmentID: compartmentID,
			Available:     available,
			Requested:     planned,
			Reason:        "planned_exceeds_available",
		}
	}
	return nil
}

// ValidateCapacity checks that start + refill fits in the compartment.
// A zero or negative capacity means the capacity is unknown and is not enforced.
func ValidateCapacity(compartmentID string, start, refill, capacity decimal.Decimal) error {
	if !capacity.IsPositive() {
		return nil
	}
	loaded := start.Add(refill)
	if loaded.GreaterThan(capacity) {
		return &OverAllocationError{
			CompartmentID: compartmentID,
			Available:     capacity.Sub(start),
			Requested:     refill,
			Reason:        "exceeds_capacity",
		}
	}
	return nil
}

// DefaultPlanned is the initial planned quantity offered for a refill.
// Operators usually dispatch exactly what they loaded, so planned mirrors
// refill one-to-one. This is a default only; callers may plan any amount
// ValidateAllocation accepts.
func DefaultPlanned(refill decimal.Decimal) decimal.Decimal {
	return refill
}

// Headroom is how many more liters the compartment can take on top of start.
func Headroom(start, capacity decimal.Decimal) decimal.Decimal {
	if !capacity.IsPositive() {
		return decimal.Zero
	}
	h := capacity.Sub(start)
	if h.IsNegative() {
		return decimal.Zero
	}
	return h
}
