/*
Package ledger computes compartment fuel balances and validates allocations.

PURPOSE:
  A tanker compartment has no stored "current level" field. Its balance is
  derived from the trip history that touched it, the same way an account
  balance is derived by replaying its transactions. This package is pure:
  no I/O, no clocks, no persistence.

KEY CONCEPTS:
  - Movement:  one trip's allocation against one compartment
  - Balance:   derived liters remaining after the last movement
  - Deficit:   how far below zero the raw balance would have gone

BALANCE RULE:
  Non-cancelled movements are replayed in sequence order:

    start(n)   = remaining(n-1)               (0 before the first trip)
    remaining  = max(start + refill - (actual ?? planned), 0)

  With no shortfall this is sum(refill) - sum(actual ?? planned). Nothing is
  cached per trip: when an earlier trip's actual is recorded or it is
  cancelled, every later start moves with it. A movement that dispenses more
  than it had is floored at zero and its Shortfall reported so the caller
  can flag it.

SEE ALSO:
  - allocation.go: capacity and over-allocation checks
  - dispatch/tankerday.go: builds Movements from trips
*/
package ledger

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Liters converts a whole number of liters into a decimal quantity.
func Liters(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

// Movement is one trip's allocation against a single compartment.
type Movement struct {
	Seq           int
	CompartmentID string
	Refill        decimal.Decimal
	Planned       decimal.Decimal
	Actual        *decimal.Decimal // nil until delivery is recorded
	Cancelled     bool
}

// Dispensed is the trustworthy outflow: actual when known, planned otherwise.
func (m Movement) Dispensed() decimal.Decimal {
	if m.Actual != nil {
		return *m.Actual
	}
	return m.Planned
}

// Step is one replayed movement.
type Step struct {
	Seq       int
	Start     decimal.Decimal // balance carried in from the previous movement
	Refill    decimal.Decimal
	Dispensed decimal.Decimal
	Remaining decimal.Decimal // floored at zero
	Shortfall decimal.Decimal // > 0 when dispensed exceeded start + refill
}

// Balance is the derived state of one compartment.
type Balance struct {
	CompartmentID string
	Liters        decimal.Decimal
	Deficit       decimal.Decimal // shortfall of the most recent movement
	LastSeq       int             // 0 when no trip touched the compartment
}

// HasDeficit reports whether the raw balance went below zero.
func (b Balance) HasDeficit() bool { return b.Deficit.IsPositive() }

// Replay walks the non-cancelled movements of compartmentID in sequence
// order. Input order does not matter.
func Replay(compartmentID string, history []Movement) []Step {
	touching := make([]Movement, 0, len(history))
	for _, m := range history {
		if m.CompartmentID == compartmentID && !m.Cancelled {
			touching = append(touching, m)
		}
	}
	sort.SliceStable(touching, func(i, j int) bool { return touching[i].Seq < touching[j].Seq })

	steps := make([]Step, len(touching))
	carried := decimal.Zero
	for i, m := range touching {
		st := Step{
			Seq:       m.Seq,
			Start:     carried,
			Refill:    m.Refill,
			Dispensed: m.Dispensed(),
			Remaining: decimal.Zero,
			Shortfall: decimal.Zero,
		}
		raw := st.Start.Add(st.Refill).Sub(st.Dispensed)
		if raw.IsNegative() {
			st.Shortfall = raw.Neg()
		} else {
			st.Remaining = raw
		}
		steps[i] = st
		carried = st.Remaining
	}
	return steps
}

// CurrentBalance returns the balance of compartmentID after replaying
// history. An untouched compartment has a zero balance and must be refilled
// before first use.
func CurrentBalance(compartmentID string, history []Movement) Balance {
	bal := Balance{CompartmentID: compartmentID, Liters: decimal.Zero, Deficit: decimal.Zero}
	steps := Replay(compartmentID, history)
	if len(steps) == 0 {
		return bal
	}
	last := steps[len(steps)-1]
	bal.Liters = last.Remaining
	bal.Deficit = last.Shortfall
	bal.LastSeq = last.Seq
	return bal
}

// NewShortfalls returns the steps of after whose shortfall grew compared with
// the same sequence in before. Sequences missing from before count as zero.
func NewShortfalls(before, after []Step) []Step {
	prev := make(map[int]decimal.Decimal, len(before))
	for _, st := range before {
		prev[st.Seq] = st.Shortfall
	}
	var out []Step
	for _, st := range after {
		if st.Shortfall.GreaterThan(prev[st.Seq]) {
			out = append(out, st)
		}
	}
	return out
}

// Balances computes CurrentBalance for each compartment id, in the given order.
func Balances(compartmentIDs []string, history []Movement) []Balance {
	out := make([]Balance, len(compartmentIDs))
	for i, id := range compartmentIDs {
		out[i] = CurrentBalance(id, history)
	}
	return out
}
