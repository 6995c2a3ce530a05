package dispatch_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/tanker-dispatch/dispatch"
	"github.com/warp/tanker-dispatch/ledger"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var march10 = time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC)

func l(v int64) decimal.Decimal { return ledger.Liters(v) }

func lp(v int64) *decimal.Decimal {
	d := ledger.Liters(v)
	return &d
}

func singleCompartmentTanker() dispatch.Tanker {
	return dispatch.Tanker{
		ID:              "tk-1",
		Name:            "Tanker 1",
		DefaultDriverID: "drv-1",
		DefaultPorterID: "prt-1",
		Compartments: []dispatch.Compartment{
			{ID: "c1", Name: "Front", MaxVolume: l(7500), ProductCode: "DIESEL"},
		},
	}
}

func twoCompartmentTanker() dispatch.Tanker {
	return dispatch.Tanker{
		ID:   "tk-2",
		Name: "Tanker 2",
		Compartments: []dispatch.Compartment{
			{ID: "c1", Name: "Front", MaxVolume: l(5000)},
			{ID: "c2", Name: "Rear", MaxVolume: l(3000)},
		},
	}
}

func tripInput(refill int64, planned *decimal.Decimal) dispatch.TripInput {
	return dispatch.TripInput{
		CustomerID:  "cust-1",
		StationID:   "stn-1",
		StationName: "North Station",
		Allocations: []dispatch.AllocationInput{
			{CompartmentID: "c1", ProductCode: "DIESEL", RefillQty: l(refill), PlannedQty: planned},
		},
	}
}

func at(hour int) time.Time { return march10.Add(time.Duration(hour) * time.Hour) }

// =============================================================================
// INITIALIZATION
// =============================================================================

func TestNewTankerDay_SnapshotsCompartmentsWithoutProduct(t *testing.T) {
	day := dispatch.NewTankerDay(march10.Add(15*time.Hour), singleCompartmentTanker(), "alice", at(6))

	assert.Equal(t, dispatch.DayOpen, day.Status)
	assert.Equal(t, march10, day.Date, "date is truncated to the calendar day")
	assert.Equal(t, dispatch.TankerDayID(march10, "tk-1"), day.ID)
	require.Len(t, day.Compartments, 1)
	assert.Equal(t, "", day.Compartments[0].ProductCode)
	assert.True(t, day.Compartments[0].MaxVolume.Equal(l(7500)))
	assert.Equal(t, "drv-1", day.DriverID)
	require.Len(t, day.Timeline, 1)
	assert.Equal(t, dispatch.EventDayOpened, day.Timeline[0].Type)
	assert.True(t, day.Balance("c1").Liters.IsZero())
}

func TestTankerDayID_DeterministicPerDateAndTanker(t *testing.T) {
	a := dispatch.TankerDayID(march10, "tk-1")
	b := dispatch.TankerDayID(march10.Add(23*time.Hour), "tk-1")
	c := dispatch.TankerDayID(march10.AddDate(0, 0, 1), "tk-1")
	d := dispatch.TankerDayID(march10, "tk-2")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d)
}

// =============================================================================
// END-TO-END SCENARIO
// =============================================================================

func TestTankerDay_FullTripScenario(t *testing.T) {
	// GIVEN: a tanker with one 7500 L compartment and balance 0
	day := dispatch.NewTankerDay(march10, singleCompartmentTanker(), "alice", at(6))

	// WHEN: Trip A is planned with refill 5000 (planned defaults to refill)
	trip, err := day.AddTrip(tripInput(5000, nil), "alice", at(7))
	require.NoError(t, err)
	assert.Equal(t, 1, trip.Seq)
	assert.Equal(t, dispatch.TripPending, trip.Status)
	assert.True(t, trip.PlannedQty().Equal(l(5000)))
	assert.True(t, trip.Allocations[0].StartQty.IsZero())
	assert.Equal(t, "drv-1", trip.DriverID, "driver defaults to the day's driver")

	// AND: it departs, delivers 4800 and gets a POD
	_, err = day.DepartTrip(1, "alice", at(8))
	require.NoError(t, err)
	trip, err = day.RecordDelivery(1, map[string]decimal.Decimal{"c1": l(4800)}, "alice", at(11))
	require.NoError(t, err)
	assert.True(t, trip.Variance().Equal(l(-200)), "variance = actual - planned")
	assert.Equal(t, dispatch.TripReturned, trip.Status)

	trip, err = day.AttachPOD(1, []string{"pod/a.jpg"}, "alice", at(12))
	require.NoError(t, err)
	assert.Equal(t, dispatch.TripCompleted, trip.Status)
	assert.True(t, trip.HasPOD)
	require.NotNil(t, trip.CompletedAt)

	// THEN: the summary is derived from the trip
	s := day.Summary()
	assert.True(t, s.TotalPlanned.Equal(l(5000)))
	assert.True(t, s.TotalDelivered.Equal(l(4800)))
	assert.True(t, s.TotalVariance.Equal(l(-200)))
	assert.Equal(t, 1, s.TripsCompleted)
	assert.Equal(t, 1, s.TotalTrips)

	// AND: 200 L remain in the compartment
	assert.True(t, day.Balance("c1").Liters.Equal(l(200)))

	// AND: the 200 L shortfall was flagged as a variance exception
	require.Len(t, day.Exceptions, 1)
	assert.Equal(t, dispatch.ExceptionVariance, day.Exceptions[0].Type)
	assert.Equal(t, dispatch.SeverityMedium, day.Exceptions[0].Severity)
	assert.Equal(t, 1, s.Exceptions)
}

func TestTankerDay_NextTripStartsFromBalance(t *testing.T) {
	day := dispatch.NewTankerDay(march10, singleCompartmentTanker(), "alice", at(6))
	_, err := day.AddTrip(tripInput(5000, lp(4500)), "alice", at(7))
	require.NoError(t, err)

	trip, err := day.AddTrip(tripInput(1000, lp(1500)), "alice", at(8))
	require.NoError(t, err)
	assert.Equal(t, 2, trip.Seq)
	assert.True(t, trip.Allocations[0].StartQty.Equal(l(500)))
	assert.True(t, trip.Allocations[0].ExpectedHeel().IsZero())
}

// =============================================================================
// ALLOCATION VALIDATION
// =============================================================================

func TestAddTrip_OverAllocationRejectedWithoutMutation(t *testing.T) {
	// GIVEN: an empty compartment
	day := dispatch.NewTankerDay(march10, singleCompartmentTanker(), "alice", at(6))
	before := day.Clone()

	// WHEN: planning more than start + refill
	_, err := day.AddTrip(tripInput(3000, lp(3001)), "alice", at(7))

	// THEN: OverAllocated, and nothing changed
	require.Error(t, err)
	assert.True(t, errors.Is(err, dispatch.ErrOverAllocated))
	var oa *ledger.OverAllocationError
	require.ErrorAs(t, err, &oa)
	assert.Equal(t, "c1", oa.CompartmentID)
	assert.Equal(t, before, day)
}

func TestAddTrip_CapacityEnforced(t *testing.T) {
	day := dispatch.NewTankerDay(march10, singleCompartmentTanker(), "alice", at(6))
	_, err := day.AddTrip(tripInput(5000, lp(4800)), "alice", at(7))
	require.NoError(t, err)

	// 200 L left + 7400 L refill exceeds 7500 L
	_, err = day.AddTrip(tripInput(7400, lp(100)), "alice", at(8))
	require.Error(t, err)
	var oa *ledger.OverAllocationError
	require.ErrorAs(t, err, &oa)
	assert.Equal(t, "exceeds_capacity", oa.Reason)
	assert.Len(t, day.Trips, 1)
}

func TestAddTrip_PlannedMayExceedRefillFromExistingBalance(t *testing.T) {
	day := dispatch.NewTankerDay(march10, singleCompartmentTanker(), "alice", at(6))
	_, err := day.AddTrip(tripInput(4000, lp(3000)), "alice", at(7))
	require.NoError(t, err)

	// 1000 L carried over, no refill
	trip, err := day.AddTrip(tripInput(0, lp(1000)), "alice", at(8))
	require.NoError(t, err)
	assert.True(t, trip.PlannedQty().Equal(l(1000)))
	assert.True(t, day.Balance("c1").Liters.IsZero())
}

func TestAddTrip_ValidationErrors(t *testing.T) {
	tests := []struct {
		name  string
		in    func() dispatch.TripInput
		field string
	}{
		{"missing station", func() dispatch.TripInput {
			in := tripInput(1000, nil)
			in.StationID = ""
			return in
		}, "station_id"},
		{"missing customer", func() dispatch.TripInput {
			in := tripInput(1000, nil)
			in.CustomerID = "  "
			return in
		}, "customer_id"},
		{"no allocations", func() dispatch.TripInput {
			in := tripInput(1000, nil)
			in.Allocations = nil
			return in
		}, "allocations"},
		{"nothing planned", func() dispatch.TripInput {
			return tripInput(1000, lp(0))
		}, "allocations"},
		{"unknown compartment", func() dispatch.TripInput {
			in := tripInput(1000, nil)
			in.Allocations[0].CompartmentID = "c9"
			return in
		}, "allocations[0].compartment_id"},
		{"missing product", func() dispatch.TripInput {
			in := tripInput(1000, nil)
			in.Allocations[0].ProductCode = ""
			return in
		}, "allocations[0].product_code"},
		{"negative refill", func() dispatch.TripInput {
			return tripInput(-5, lp(0))
		}, "allocations[0].refill_qty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			day := dispatch.NewTankerDay(march10, singleCompartmentTanker(), "alice", at(6))
			_, err := day.AddTrip(tt.in(), "alice", at(7))

			require.Error(t, err)
			var ve *dispatch.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
			assert.True(t, dispatch.IsClientError(err))
			assert.Empty(t, day.Trips)
		})
	}
}

func TestAddTrip_MultipleCompartments(t *testing.T) {
	day := dispatch.NewTankerDay(march10, twoCompartmentTanker(), "alice", at(6))
	trip, err := day.AddTrip(dispatch.TripInput{
		CustomerID: "cust-1",
		StationID:  "stn-1",
		Allocations: []dispatch.AllocationInput{
			{CompartmentID: "c1", ProductCode: "DIESEL", RefillQty: l(4000)},
			{CompartmentID: "c2", ProductCode: "UNLEADED", RefillQty: l(2000), PlannedQty: lp(1500)},
		},
	}, "alice", at(7))
	require.NoError(t, err)

	assert.True(t, trip.PlannedQty().Equal(l(5500)))
	assert.Equal(t, []string{"DIESEL", "UNLEADED"}, trip.Products())

	bals := day.Balances()
	require.Len(t, bals, 2)
	assert.True(t, bals[0].Liters.IsZero())
	assert.True(t, bals[1].Liters.Equal(l(500)))
}

// =============================================================================
// TRIP LIFECYCLE
// =============================================================================

func TestTrip_InvalidTransitionNamesStateAndAction(t *testing.T) {
	day := dispatch.NewTankerDay(march10, singleCompartmentTanker(), "alice", at(6))
	_, err := day.AddTrip(tripInput(1000, nil), "alice", at(7))
	require.NoError(t, err)

	_, err = day.RecordDelivery(1, map[string]decimal.Decimal{"c1": l(1000)}, "alice", at(8))

	require.Error(t, err)
	assert.True(t, errors.Is(err, dispatch.ErrInvalidTransition))
	var te *dispatch.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "PENDING", te.From)
	assert.Equal(t, "record_delivery", te.Action)
}

func TestTrip_TerminalStatesAreAbsorbing(t *testing.T) {
	// GIVEN: one completed trip and one cancelled trip
	day := dispatch.NewTankerDay(march10, twoCompartmentTanker(), "alice", at(6))
	_, err := day.AddTrip(tripInput(1000, nil), "alice", at(7))
	require.NoError(t, err)
	_, err = day.DepartTrip(1, "alice", at(8))
	require.NoError(t, err)
	_, err = day.RecordDelivery(1, map[string]decimal.Decimal{"c1": l(1000)}, "alice", at(9))
	require.NoError(t, err)
	_, err = day.AttachPOD(1, []string{"pod-1"}, "alice", at(10))
	require.NoError(t, err)

	_, err = day.AddTrip(tripInput(500, nil), "alice", at(11))
	require.NoError(t, err)
	_, err = day.CancelTrip(2, "customer closed", "alice", at(12))
	require.NoError(t, err)

	// THEN: no transition leaves a terminal state
	for _, seq := range []int{1, 2} {
		_, err = day.DepartTrip(seq, "alice", at(13))
		assert.ErrorIs(t, err, dispatch.ErrInvalidTransition)
		_, err = day.RecordDelivery(seq, map[string]decimal.Decimal{"c1": l(1)}, "alice", at(13))
		assert.ErrorIs(t, err, dispatch.ErrInvalidTransition)
		_, err = day.CancelTrip(seq, "late", "alice", at(13))
		assert.ErrorIs(t, err, dispatch.ErrInvalidTransition)
	}
	trip1, _ := day.Trip(1)
	trip2, _ := day.Trip(2)
	assert.Equal(t, dispatch.TripCompleted, trip1.Status)
	assert.Equal(t, dispatch.TripCancelled, trip2.Status)

	// AND: a cancelled trip cannot get a POD either
	_, err = day.AttachPOD(2, []string{"pod-2"}, "alice", at(13))
	assert.ErrorIs(t, err, dispatch.ErrInvalidTransition)
}

func TestTrip_AddPODToCompletedTrip(t *testing.T) {
	day := dispatch.NewTankerDay(march10, singleCompartmentTanker(), "alice", at(6))
	_, err := day.AddTrip(tripInput(1000, nil), "alice", at(7))
	require.NoError(t, err)
	_, err = day.DepartTrip(1, "alice", at(8))
	require.NoError(t, err)
	_, err = day.RecordDelivery(1, map[string]decimal.Decimal{"c1": l(1000)}, "alice", at(9))
	require.NoError(t, err)
	_, err = day.AttachPOD(1, []string{"pod-1"}, "alice", at(10))
	require.NoError(t, err)

	trip, err := day.AttachPOD(1, []string{"pod-2", " "}, "bob", at(14))
	require.NoError(t, err)

	assert.Equal(t, dispatch.TripCompleted, trip.Status)
	assert.Equal(t, []string{"pod-1", "pod-2"}, trip.PODFiles)
	assert.Equal(t, at(10), *trip.CompletedAt, "completion time is not moved")
	assert.Equal(t, dispatch.EventPODAdded, day.Timeline[len(day.Timeline)-1].Type)
}

func TestTrip_UploadPODRequiresFiles(t *testing.T) {
	day := dispatch.NewTankerDay(march10, singleCompartmentTanker(), "alice", at(6))
	_, _ = day.AddTrip(tripInput(1000, nil), "alice", at(7))
	_, _ = day.DepartTrip(1, "alice", at(8))
	_, _ = day.RecordDelivery(1, map[string]decimal.Decimal{"c1": l(1000)}, "alice", at(9))

	_, err := day.AttachPOD(1, []string{"", "  "}, "alice", at(10))

	assert.ErrorIs(t, err, dispatch.ErrValidation)
	trip, _ := day.Trip(1)
	assert.Equal(t, dispatch.TripReturned, trip.Status)
}

func TestTrip_RecordDeliveryValidation(t *testing.T) {
	day := dispatch.NewTankerDay(march10, twoCompartmentTanker(), "alice", at(6))
	_, err := day.AddTrip(dispatch.TripInput{
		CustomerID: "cust-1",
		StationID:  "stn-1",
		Allocations: []dispatch.AllocationInput{
			{CompartmentID: "c1", ProductCode: "DIESEL", RefillQty: l(1000), PlannedQty: lp(900)},
		},
	}, "alice", at(7))
	require.NoError(t, err)
	_, err = day.DepartTrip(1, "alice", at(8))
	require.NoError(t, err)

	_, err = day.RecordDelivery(1, map[string]decimal.Decimal{"c1": l(-1)}, "alice", at(9))
	assert.ErrorIs(t, err, dispatch.ErrValidation)

	_, err = day.RecordDelivery(1, map[string]decimal.Decimal{"c1": l(900), "c2": l(5)}, "alice", at(9))
	assert.ErrorIs(t, err, dispatch.ErrValidation, "c2 is not on this trip")

	_, err = day.RecordDelivery(1, map[string]decimal.Decimal{}, "alice", at(9))
	assert.ErrorIs(t, err, dispatch.ErrValidation)

	trip, _ := day.Trip(1)
	assert.Equal(t, dispatch.TripDeparted, trip.Status)
	assert.Nil(t, trip.ActualQty())

	// Over-delivery is legal and shows up as positive variance
	trip, err = day.RecordDelivery(1, map[string]decimal.Decimal{"c1": l(905)}, "alice", at(9))
	require.NoError(t, err)
	assert.True(t, trip.Variance().Equal(l(5)))
	assert.Empty(t, day.Exceptions, "5 L is within tolerance")
}

func TestTrip_CancelRequiresReason(t *testing.T) {
	// GIVEN: two planned trips, each loading what it drops
	day := dispatch.NewTankerDay(march10, singleCompartmentTanker(), "alice", at(6))
	_, err := day.AddTrip(tripInput(3000, lp(2000)), "alice", at(7))
	require.NoError(t, err)
	_, err = day.AddTrip(tripInput(1000, lp(1000)), "alice", at(8))
	require.NoError(t, err)

	// WHEN: cancelling without a reason
	_, err = day.CancelTrip(1, "   ", "alice", at(9))

	// THEN: ValidationError naming the reason field
	var ve *dispatch.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "reason", ve.Field)
	assert.True(t, day.Summary().TotalPlanned.Equal(l(3000)))

	// WHEN: cancelling with a reason
	trip, err := day.CancelTrip(1, "station closed", "alice", at(9))
	require.NoError(t, err)

	// THEN: the trip leaves the planned total
	assert.Equal(t, "station closed", trip.CancellationReason)
	s := day.Summary()
	assert.True(t, s.TotalPlanned.Equal(l(1000)))
	assert.Equal(t, 2, s.TotalTrips)
}

func TestTrip_DeliveryDeficitRaisesException(t *testing.T) {
	day := dispatch.NewTankerDay(march10, singleCompartmentTanker(), "alice", at(6))
	_, _ = day.AddTrip(tripInput(1000, nil), "alice", at(7))
	_, _ = day.DepartTrip(1, "alice", at(8))

	_, err := day.RecordDelivery(1, map[string]decimal.Decimal{"c1": l(1300)}, "alice", at(9))
	require.NoError(t, err)

	bal := day.Balance("c1")
	assert.True(t, bal.Liters.IsZero())
	assert.True(t, bal.Deficit.Equal(l(300)))

	types := map[dispatch.ExceptionType]dispatch.Severity{}
	for _, e := range day.Exceptions {
		types[e.Type] = e.Severity
	}
	assert.Equal(t, dispatch.SeverityHigh, types[dispatch.ExceptionVariance])
	assert.Equal(t, dispatch.SeverityHigh, types[dispatch.ExceptionOther])
}

// =============================================================================
// LEDGER REPLAY
// =============================================================================

func TestRecordDelivery_RestatesLaterTripStarts(t *testing.T) {
	// GIVEN: trip 2 planned while trip 1 was still counted at 5000 planned
	day := dispatch.NewTankerDay(march10, singleCompartmentTanker(), "alice", at(6))
	_, err := day.AddTrip(tripInput(5000, lp(5000)), "alice", at(7))
	require.NoError(t, err)
	trip2, err := day.AddTrip(tripInput(2000, lp(2000)), "alice", at(7))
	require.NoError(t, err)
	require.True(t, trip2.Allocations[0].StartQty.IsZero())

	// WHEN: trip 1 delivers 4800
	_, err = day.DepartTrip(1, "alice", at(8))
	require.NoError(t, err)
	_, err = day.RecordDelivery(1, map[string]decimal.Decimal{"c1": l(4800)}, "alice", at(10))
	require.NoError(t, err)

	// THEN: the 200 L left behind carries through trip 2
	assert.True(t, day.Balance("c1").Liters.Equal(l(200)), "got %s", day.Balance("c1").Liters)
	trip2, err = day.Trip(2)
	require.NoError(t, err)
	assert.True(t, trip2.Allocations[0].StartQty.Equal(l(200)), "got %s", trip2.Allocations[0].StartQty)

	// AND: a third trip can be planned against it
	trip3, err := day.AddTrip(tripInput(0, lp(200)), "alice", at(11))
	require.NoError(t, err)
	assert.True(t, trip3.Allocations[0].StartQty.Equal(l(200)))
	assert.True(t, day.Balance("c1").Liters.IsZero())
}

func TestCancelTrip_RejectedWhenLaterTripDependsOnItsRefill(t *testing.T) {
	// GIVEN: trip 2 drops 1000 L that only trip 1 loaded
	day := dispatch.NewTankerDay(march10, singleCompartmentTanker(), "alice", at(6))
	_, err := day.AddTrip(tripInput(5000, lp(1000)), "alice", at(7))
	require.NoError(t, err)
	_, err = day.AddTrip(tripInput(0, lp(1000)), "alice", at(8))
	require.NoError(t, err)
	before := day.Clone()

	// WHEN: cancelling trip 1
	_, err = day.CancelTrip(1, "truck swap", "alice", at(9))

	// THEN: OverAllocated, and nothing changed
	require.Error(t, err)
	assert.True(t, errors.Is(err, dispatch.ErrOverAllocated))
	var oa *ledger.OverAllocationError
	require.ErrorAs(t, err, &oa)
	assert.Equal(t, "strands_later_trips", oa.Reason)
	assert.Equal(t, "c1", oa.CompartmentID)
	assert.True(t, oa.Available.IsZero())
	assert.True(t, oa.Requested.Equal(l(1000)))
	assert.Equal(t, before, day)
	assert.True(t, day.Balance("c1").Liters.Equal(l(3000)))

	// AND: cancelling the dependent trip first unblocks it
	_, err = day.CancelTrip(2, "customer postponed", "alice", at(9))
	require.NoError(t, err)
	_, err = day.CancelTrip(1, "truck swap", "alice", at(10))
	require.NoError(t, err)
	assert.True(t, day.Balance("c1").Liters.IsZero())
}

func TestCancelTrip_RestatesSelfSufficientLaterTrip(t *testing.T) {
	day := dispatch.NewTankerDay(march10, singleCompartmentTanker(), "alice", at(6))
	_, err := day.AddTrip(tripInput(3000, lp(2000)), "alice", at(7))
	require.NoError(t, err)
	trip2, err := day.AddTrip(tripInput(3000, lp(3000)), "alice", at(8))
	require.NoError(t, err)
	require.True(t, trip2.Allocations[0].StartQty.Equal(l(1000)))

	_, err = day.CancelTrip(1, "station closed", "alice", at(9))
	require.NoError(t, err)

	trip2, err = day.Trip(2)
	require.NoError(t, err)
	assert.True(t, trip2.Allocations[0].StartQty.IsZero())
	assert.True(t, day.Balance("c1").Liters.IsZero())
	assert.False(t, day.Balance("c1").HasDeficit())
}

func TestRecordDelivery_OverageFlagsLaterTrip(t *testing.T) {
	// GIVEN: trip 2 relies on the 1000 L trip 1 should leave behind
	day := dispatch.NewTankerDay(march10, singleCompartmentTanker(), "alice", at(6))
	_, err := day.AddTrip(tripInput(2000, lp(1000)), "alice", at(7))
	require.NoError(t, err)
	_, err = day.AddTrip(tripInput(0, lp(1000)), "alice", at(8))
	require.NoError(t, err)
	_, err = day.DepartTrip(1, "alice", at(9))
	require.NoError(t, err)

	// WHEN: trip 1 delivers 1500
	_, err = day.RecordDelivery(1, map[string]decimal.Decimal{"c1": l(1500)}, "alice", at(10))
	require.NoError(t, err)

	// THEN: the 500 L trip 2 can no longer drop is flagged
	var other []dispatch.Exception
	for _, e := range day.Exceptions {
		if e.Type == dispatch.ExceptionOther {
			other = append(other, e)
		}
	}
	require.Len(t, other, 1)
	assert.Equal(t, dispatch.SeverityHigh, other[0].Severity)
	assert.Equal(t, 1, other[0].TripSeq)
	assert.Contains(t, other[0].Description, "at trip 2")
	require.NotNil(t, other[0].Liters)
	assert.True(t, other[0].Liters.Equal(l(500)))

	trip2, err := day.Trip(2)
	require.NoError(t, err)
	assert.True(t, trip2.Allocations[0].StartQty.Equal(l(500)))
	assert.True(t, day.Balance("c1").Deficit.Equal(l(500)))
}

type ledgerOp struct {
	kind            string // add, depart, deliver, cancel
	seq             int
	refill, planned int64
	actual          int64
	wantErr         bool
}

func TestLedger_StartsAndBalanceFollowReplay(t *testing.T) {
	tests := []struct {
		name string
		ops  []ledgerOp
	}{
		{
			name: "short actual then plan against the remainder",
			ops: []ledgerOp{
				{kind: "add", refill: 5000, planned: 5000},
				{kind: "add", refill: 2000, planned: 2000},
				{kind: "depart", seq: 1},
				{kind: "deliver", seq: 1, actual: 4800},
				{kind: "add", refill: 0, planned: 200},
				{kind: "depart", seq: 2},
				{kind: "deliver", seq: 2, actual: 2000},
				{kind: "add", refill: 0, planned: 1, wantErr: true},
			},
		},
		{
			name: "cancel middle trip then try to cancel its source",
			ops: []ledgerOp{
				{kind: "add", refill: 3000, planned: 2000},
				{kind: "add", refill: 1000, planned: 1000},
				{kind: "add", refill: 500, planned: 1000},
				{kind: "cancel", seq: 2},
				{kind: "cancel", seq: 1, wantErr: true},
				{kind: "depart", seq: 1},
				{kind: "deliver", seq: 1, actual: 1900},
				{kind: "add", refill: 0, planned: 100},
			},
		},
		{
			name: "interleaved delivery and planning",
			ops: []ledgerOp{
				{kind: "add", refill: 4000, planned: 3000},
				{kind: "depart", seq: 1},
				{kind: "add", refill: 1000, planned: 2000},
				{kind: "deliver", seq: 1, actual: 2900},
				{kind: "cancel", seq: 2},
				{kind: "add", refill: 0, planned: 1100},
				{kind: "depart", seq: 3},
				{kind: "deliver", seq: 3, actual: 1050},
			},
		},
		{
			name: "overage leaves a later shortfall",
			ops: []ledgerOp{
				{kind: "add", refill: 2000, planned: 1000},
				{kind: "add", refill: 0, planned: 1000},
				{kind: "depart", seq: 1},
				{kind: "deliver", seq: 1, actual: 1500},
				{kind: "add", refill: 3000, planned: 3000},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			day := dispatch.NewTankerDay(march10, singleCompartmentTanker(), "alice", at(6))
			for i, op := range tt.ops {
				before := day.Clone()
				var err error
				switch op.kind {
				case "add":
					_, err = day.AddTrip(tripInput(op.refill, lp(op.planned)), "alice", at(7))
				case "depart":
					_, err = day.DepartTrip(op.seq, "alice", at(8))
				case "deliver":
					_, err = day.RecordDelivery(op.seq, map[string]decimal.Decimal{"c1": l(op.actual)}, "alice", at(9))
				case "cancel":
					_, err = day.CancelTrip(op.seq, "rescheduled", "alice", at(9))
				}
				if op.wantErr {
					require.Error(t, err, "op %d", i)
					assert.Equal(t, before, day, "op %d mutated the day", i)
				} else {
					require.NoError(t, err, "op %d", i)
				}
				assertLedgerConsistent(t, day, i)
			}
		})
	}
}

// assertLedgerConsistent recomputes the compartment independently: each live
// trip starts from what the previous live trip left, floored at zero, and
// without shortfalls the balance is refills minus dispensed.
func assertLedgerConsistent(t *testing.T, day *dispatch.TankerDay, op int) {
	t.Helper()
	running := decimal.Zero
	refills, dispensed := decimal.Zero, decimal.Zero
	short := false
	for _, trip := range day.Trips {
		if trip.Status == dispatch.TripCancelled {
			continue
		}
		a := trip.Allocations[0]
		assert.True(t, a.StartQty.Equal(running), "op %d: trip %d start %s, want %s", op, trip.Seq, a.StartQty, running)

		out := a.PlannedQty
		if a.ActualQty != nil {
			out = *a.ActualQty
		}
		refills = refills.Add(a.RefillQty)
		dispensed = dispensed.Add(out)
		running = running.Add(a.RefillQty).Sub(out)
		if running.IsNegative() {
			short = true
			running = decimal.Zero
		}
	}
	bal := day.Balance("c1")
	assert.True(t, bal.Liters.Equal(running), "op %d: balance %s, want %s", op, bal.Liters, running)
	if !short {
		assert.True(t, bal.Liters.Equal(refills.Sub(dispensed)), "op %d: balance %s, want %s", op, bal.Liters, refills.Sub(dispensed))
	}
}

// =============================================================================
// SUMMARY PROPERTIES
// =============================================================================

func buildBusyDay(t *testing.T) *dispatch.TankerDay {
	t.Helper()
	day := dispatch.NewTankerDay(march10, singleCompartmentTanker(), "alice", at(6))
	_, err := day.AddTrip(tripInput(5000, lp(4000)), "alice", at(7))
	require.NoError(t, err)
	_, err = day.DepartTrip(1, "alice", at(8))
	require.NoError(t, err)
	_, err = day.RecordDelivery(1, map[string]decimal.Decimal{"c1": l(3950)}, "alice", at(9))
	require.NoError(t, err)
	_, err = day.AddTrip(tripInput(2000, lp(2500)), "alice", at(10))
	require.NoError(t, err)
	_, err = day.AddTrip(tripInput(0, lp(100)), "alice", at(11))
	require.NoError(t, err)
	_, err = day.CancelTrip(3, "no access", "alice", at(12))
	require.NoError(t, err)
	return day
}

func TestSummary_IdempotentAndOrderIndependent(t *testing.T) {
	day := buildBusyDay(t)

	first := day.Summary()
	second := day.Summary()
	assert.Equal(t, first, second)

	reversed := day.Clone()
	for i, j := 0, len(reversed.Trips)-1; i < j; i, j = i+1, j-1 {
		reversed.Trips[i], reversed.Trips[j] = reversed.Trips[j], reversed.Trips[i]
	}
	r := reversed.Summary()
	assert.True(t, r.TotalPlanned.Equal(first.TotalPlanned))
	assert.True(t, r.TotalDelivered.Equal(first.TotalDelivered))
	assert.True(t, r.TotalVariance.Equal(first.TotalVariance))
	assert.Equal(t, first.TotalTrips, r.TotalTrips)
	assert.Equal(t, first.TripsCompleted, r.TripsCompleted)

	assert.True(t, first.TotalPlanned.Equal(l(6500)))
	assert.True(t, first.TotalDelivered.Equal(l(3950)))
	assert.True(t, first.TotalVariance.Equal(l(-50)))
	assert.Equal(t, 3, first.TotalTrips)
}

func TestClone_IsIndependent(t *testing.T) {
	day := buildBusyDay(t)
	c := day.Clone()

	c.Trips[0].Allocations[0].PlannedQty = l(1)
	c.Trips[0].PODFiles = append(c.Trips[0].PODFiles, "x")
	c.Timeline[0].Title = "changed"
	*c.Trips[0].Allocations[0].ActualQty = l(7)

	assert.True(t, day.Trips[0].Allocations[0].PlannedQty.Equal(l(4000)))
	assert.Empty(t, day.Trips[0].PODFiles)
	assert.Equal(t, "Tanker day opened", day.Timeline[0].Title)
	assert.True(t, day.Trips[0].Allocations[0].ActualQty.Equal(l(3950)))
}

// =============================================================================
// DAY LIFECYCLE
// =============================================================================

func TestTankerDay_SubmitReturnApprove(t *testing.T) {
	day := buildBusyDay(t)

	// Submit is allowed with trips still in flight
	require.NoError(t, day.Submit("alice", at(18)))
	assert.Equal(t, dispatch.DaySubmitted, day.Status)
	require.NotNil(t, day.SubmittedAt)

	// Trips are frozen while submitted
	_, err := day.DepartTrip(2, "alice", at(18))
	assert.ErrorIs(t, err, dispatch.ErrInvalidTransition)

	require.NoError(t, day.Return("sup", "fix trip 2", at(19)))
	assert.Equal(t, dispatch.DayOpen, day.Status)
	assert.Nil(t, day.SubmittedAt)

	_, err = day.DepartTrip(2, "alice", at(19))
	require.NoError(t, err)

	require.NoError(t, day.Submit("alice", at(20)))
	require.NoError(t, day.Approve("sup", at(21)))
	assert.Equal(t, dispatch.DayLocked, day.Status)
	assert.Equal(t, "sup", day.ApprovedBy)

	// LOCKED is terminal
	assert.ErrorIs(t, day.Submit("alice", at(22)), dispatch.ErrInvalidTransition)
	assert.ErrorIs(t, day.Return("sup", "", at(22)), dispatch.ErrInvalidTransition)
	assert.ErrorIs(t, day.Approve("sup", at(22)), dispatch.ErrInvalidTransition)
	_, err = day.AddTrip(tripInput(100, nil), "alice", at(22))
	assert.ErrorIs(t, err, dispatch.ErrInvalidTransition)
	_, err = day.RaiseException(dispatch.ExceptionInput{Type: dispatch.ExceptionOther, Description: "x"}, "sup", at(22))
	assert.ErrorIs(t, err, dispatch.ErrInvalidTransition)
}

func TestTankerDay_ApproveRequiresSubmitted(t *testing.T) {
	day := dispatch.NewTankerDay(march10, singleCompartmentTanker(), "alice", at(6))
	err := day.Approve("sup", at(7))

	var te *dispatch.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "OPEN", te.From)
	assert.Equal(t, "approve", te.Action)
	assert.ErrorIs(t, day.Return("sup", "", at(7)), dispatch.ErrInvalidTransition)
}

func TestTankerDay_TimelineIsDenseAndAppendOnly(t *testing.T) {
	day := buildBusyDay(t)
	before := append([]dispatch.TimelineEvent(nil), day.Timeline...)

	require.NoError(t, day.Submit("alice", at(18)))

	require.Len(t, day.Timeline, len(before)+1)
	assert.Equal(t, before, day.Timeline[:len(before)])
	for i, ev := range day.Timeline {
		assert.Equal(t, i+1, ev.Seq)
	}
}

// =============================================================================
// EXCEPTIONS
// =============================================================================

func TestTankerDay_RaiseAndClearException(t *testing.T) {
	day := buildBusyDay(t)

	e, err := day.RaiseException(dispatch.ExceptionInput{
		Type:        dispatch.ExceptionLateDelivery,
		Severity:    dispatch.SeverityLow,
		TripSeq:     2,
		Description: "arrived after window",
	}, "alice", at(13))
	require.NoError(t, err)
	assert.True(t, day.TripHasException(2))
	assert.Equal(t, 2, day.Summary().Exceptions, "trip 1 already carries a variance exception")

	cleared, err := day.ClearException(e.ID, "customer accepted", "sup", at(14))
	require.NoError(t, err)
	require.NotNil(t, cleared.Clearing)
	assert.Equal(t, "sup", cleared.Clearing.ClearedBy)
	assert.False(t, day.TripHasException(2))
	assert.True(t, day.HasException(2, dispatch.ExceptionLateDelivery))

	_, err = day.ClearException(e.ID, "again", "sup", at(15))
	assert.ErrorIs(t, err, dispatch.ErrInvalidTransition)

	_, err = day.ClearException("nope", "", "sup", at(15))
	assert.True(t, dispatch.IsNotFound(err))
}

func TestTankerDay_RaiseExceptionValidation(t *testing.T) {
	day := buildBusyDay(t)

	_, err := day.RaiseException(dispatch.ExceptionInput{Type: "BOGUS", Description: "x"}, "a", at(13))
	assert.ErrorIs(t, err, dispatch.ErrValidation)

	_, err = day.RaiseException(dispatch.ExceptionInput{Type: dispatch.ExceptionOther}, "a", at(13))
	assert.ErrorIs(t, err, dispatch.ErrValidation)

	_, err = day.RaiseException(dispatch.ExceptionInput{Type: dispatch.ExceptionOther, Severity: "HUGE", Description: "x"}, "a", at(13))
	assert.ErrorIs(t, err, dispatch.ErrValidation)

	_, err = day.RaiseException(dispatch.ExceptionInput{Type: dispatch.ExceptionOther, TripSeq: 42, Description: "x"}, "a", at(13))
	assert.ErrorIs(t, err, dispatch.ErrNotFound)

	e, err := day.RaiseException(dispatch.ExceptionInput{Type: dispatch.ExceptionOther, Description: "program-level"}, "a", at(13))
	require.NoError(t, err)
	assert.Equal(t, dispatch.SeverityMedium, e.Severity, "severity defaults to MEDIUM")
	assert.Equal(t, 0, e.TripSeq)
}

func TestVarianceSeverity(t *testing.T) {
	tests := []struct {
		variance int64
		exceeds  bool
		want     dispatch.Severity
	}{
		{10, false, dispatch.SeverityLow},
		{-11, true, dispatch.SeverityLow},
		{51, true, dispatch.SeverityMedium},
		{-200, true, dispatch.SeverityMedium},
		{201, true, dispatch.SeverityHigh},
		{-501, true, dispatch.SeverityCritical},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.exceeds, dispatch.ExceedsVarianceThreshold(l(tt.variance)), "variance %d", tt.variance)
		assert.Equal(t, tt.want, dispatch.VarianceSeverity(l(tt.variance)), "variance %d", tt.variance)
	}
}

func TestSortDays_ByStatusRankThenName(t *testing.T) {
	days := []dispatch.TankerDay{
		{ID: "1", TankerName: "B", Status: dispatch.DayLocked},
		{ID: "2", TankerName: "B", Status: dispatch.DayOpen},
		{ID: "3", TankerName: "A", Status: dispatch.DaySubmitted},
		{ID: "4", TankerName: "A", Status: dispatch.DayOpen},
	}
	dispatch.SortDays(days)

	var ids []string
	for _, d := range days {
		ids = append(ids, d.ID)
	}
	assert.Equal(t, []string{"4", "2", "3", "1"}, ids)
}
