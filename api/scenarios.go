/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
	Provides pre-built scenarios that populate the store with realistic
	dispatch data. Each scenario registers tankers, opens days and drives
	trips through the same dispatch.Service calls the API uses, so every
	invariant and timeline event is real.

AVAILABLE SCENARIOS:

	single-run:   One tanker, one 7500 L compartment, one completed trip
	busy-depot:   Three tankers across today and yesterday in every status
	missing-pod:  Returned trips without POD, for the sweep scheduler

HOW SCENARIOS WORK:
 1. Reset store (clear all data)
 2. Register tankers
 3. Open tanker days relative to today
 4. Create and transition trips

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "busy-depot"}

NOTE:
	Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler
  - dispatch/service.go: Operations used here
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	"github.com/warp/tanker-dispatch/dispatch"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "single-run",
		Name:        "Single Run",
		Description: "One 7500 L tanker, 5000 L planned, 4800 L delivered, POD uploaded",
	},
	{
		ID:          "busy-depot",
		Name:        "Busy Depot",
		Description: "Three tankers with open, submitted and locked days, a variance and a cancellation",
	},
	{
		ID:          "missing-pod",
		Name:        "Missing POD",
		Description: "Returned trips from yesterday still waiting for proof of delivery",
	},
}

var scenarioLoaders = map[string]func(h *Handler, ctx context.Context) error{
	"single-run":  (*Handler).loadSingleRunScenario,
	"busy-depot":  (*Handler).loadBusyDepotScenario,
	"missing-pod": (*Handler).loadMissingPODScenario,
}

// ListScenarios returns all available demo scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, or null.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current, Description: "Currently loaded scenario"})
}

// LoadScenario resets the store and loads a scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r, "load scenario") {
		return
	}
	var req LoadScenarioRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	load, ok := scenarioLoaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	if err := h.LoadScenarioByID(r.Context(), req.ScenarioID, load); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// LoadScenarioByID is used by LoadScenario and by the server's -demo flag.
// A nil load looks the scenario up by id.
func (h *Handler) LoadScenarioByID(ctx context.Context, id string, load func(h *Handler, ctx context.Context) error) error {
	if load == nil {
		var ok bool
		if load, ok = scenarioLoaders[id]; !ok {
			return fmt.Errorf("unknown scenario %q", id)
		}
	}
	if h.Resetter == nil {
		return errors.New("store does not support reset")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Resetter.Reset(ctx); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	h.currentScenario = ""
	if err := load(h, ctx); err != nil {
		return err
	}
	h.currentScenario = id
	return nil
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r, "reset data") {
		return
	}
	if h.Resetter == nil {
		writeError(w, http.StatusNotImplemented, "Store does not support reset", nil)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.Resetter.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) requireAdmin(w http.ResponseWriter, r *http.Request, action string) bool {
	sess := dispatch.SessionFrom(r.Context())
	if sess.Role != dispatch.RoleAdmin {
		writeServiceError(w, &dispatch.ForbiddenError{Role: sess.Role, Capability: dispatch.CapApprove, Action: action})
		return false
	}
	return true
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

var sys = dispatch.SystemSession

func liters(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

func litersPtr(n int64) *decimal.Decimal {
	d := decimal.NewFromInt(n)
	return &d
}

func compartments(volumes ...int64) []dispatch.Compartment {
	out := make([]dispatch.Compartment, len(volumes))
	for i, v := range volumes {
		out[i] = dispatch.Compartment{
			ID:        fmt.Sprintf("c%d", i+1),
			Name:      fmt.Sprintf("Compartment %d", i+1),
			MaxVolume: liters(v),
		}
	}
	return out
}

func oneDrop(station, stationName, compartment, product string, refill, planned int64) dispatch.TripInput {
	return dispatch.TripInput{
		CustomerID:   "cust-" + station,
		CustomerName: stationName + " Fuels",
		StationID:    station,
		StationName:  stationName,
		Allocations: []dispatch.AllocationInput{
			{CompartmentID: compartment, ProductCode: product, RefillQty: liters(refill), PlannedQty: litersPtr(planned)},
		},
	}
}

// runTrip plans a trip and drives it as far as the steps say: "depart",
// "deliver" (needs actual), "pod".
func (h *Handler) runTrip(ctx context.Context, dayID string, in dispatch.TripInput, actual map[string]decimal.Decimal, steps ...string) (int, error) {
	_, trip, err := h.Service.CreateTrip(ctx, sys, dayID, in)
	if err != nil {
		return 0, err
	}
	for _, step := range steps {
		switch step {
		case "depart":
			_, _, err = h.Service.DepartTrip(ctx, sys, dayID, trip.Seq)
		case "deliver":
			_, _, err = h.Service.RecordDelivery(ctx, sys, dayID, trip.Seq, actual)
		case "pod":
			_, _, err = h.Service.UploadPOD(ctx, sys, dayID, trip.Seq, []string{fmt.Sprintf("pod/%s/%d/scan.pdf", dayID, trip.Seq)})
		}
		if err != nil {
			return trip.Seq, fmt.Errorf("trip %d %s: %w", trip.Seq, step, err)
		}
	}
	return trip.Seq, nil
}

// loadSingleRunScenario is the reference run: 5000 L planned, 4800 L
// delivered, variance -200 L.
func (h *Handler) loadSingleRunScenario(ctx context.Context) error {
	today := dispatch.DateOf(h.Service.Now())
	if err := h.Service.RegisterTanker(ctx, sys, dispatch.Tanker{
		ID: "tk-101", Name: "Tanker 101", PlateNumber: "KDA 101A",
		DefaultDriverID: "drv-otieno", DefaultPorterID: "prt-wanjiru",
		Compartments: compartments(7500),
	}); err != nil {
		return err
	}
	day, err := h.Service.OpenTankerDay(ctx, sys, today, "tk-101")
	if err != nil {
		return err
	}
	_, err = h.runTrip(ctx, day.ID, oneDrop("st-westlands", "Westlands", "c1", "PMS", 5000, 5000),
		map[string]decimal.Decimal{"c1": liters(4800)}, "depart", "deliver", "pod")
	return err
}

func (h *Handler) loadBusyDepotScenario(ctx context.Context) error {
	today := dispatch.DateOf(h.Service.Now())
	yesterday := today.AddDate(0, 0, -1)

	tankers := []dispatch.Tanker{
		{ID: "tk-201", Name: "Tanker 201", PlateNumber: "KDB 201B", DefaultDriverID: "drv-kamau", DefaultPorterID: "prt-achieng", Compartments: compartments(5000, 3000)},
		{ID: "tk-202", Name: "Tanker 202", PlateNumber: "KDB 202B", DefaultDriverID: "drv-mutua", DefaultPorterID: "prt-njeri", Compartments: compartments(6000, 6000, 2000)},
		{ID: "tk-203", Name: "Tanker 203", PlateNumber: "KDB 203B", DefaultDriverID: "drv-chebet", Compartments: compartments(12000)},
	}
	for _, t := range tankers {
		if err := h.Service.RegisterTanker(ctx, sys, t); err != nil {
			return err
		}
	}

	// Yesterday: tk-201 finished, approved and locked.
	d1, err := h.Service.OpenTankerDay(ctx, sys, yesterday, "tk-201")
	if err != nil {
		return err
	}
	if _, err := h.runTrip(ctx, d1.ID, oneDrop("st-karen", "Karen", "c1", "AGO", 4000, 4000),
		map[string]decimal.Decimal{"c1": liters(3995)}, "depart", "deliver", "pod"); err != nil {
		return err
	}
	if _, err := h.runTrip(ctx, d1.ID, oneDrop("st-langata", "Langata", "c2", "PMS", 2500, 2500),
		map[string]decimal.Decimal{"c2": liters(2500)}, "depart", "deliver", "pod"); err != nil {
		return err
	}
	if _, err := h.Service.Submit(ctx, sys, d1.ID); err != nil {
		return err
	}
	if _, err := h.Service.Approve(ctx, sys, d1.ID); err != nil {
		return err
	}

	// Today: tk-201 busy, one trip with a large short delivery.
	d2, err := h.Service.OpenTankerDay(ctx, sys, today, "tk-201")
	if err != nil {
		return err
	}
	if _, err := h.runTrip(ctx, d2.ID, oneDrop("st-karen", "Karen", "c1", "AGO", 3000, 3000),
		map[string]decimal.Decimal{"c1": liters(2700)}, "depart", "deliver", "pod"); err != nil {
		return err
	}
	if _, err := h.runTrip(ctx, d2.ID, oneDrop("st-ngong", "Ngong Road", "c2", "PMS", 3000, 2800),
		nil, "depart"); err != nil {
		return err
	}

	// Today: tk-202 split load across three compartments, submitted.
	d3, err := h.Service.OpenTankerDay(ctx, sys, today, "tk-202")
	if err != nil {
		return err
	}
	split := dispatch.TripInput{
		CustomerID: "cust-thika", CustomerName: "Thika Road Fuels", StationID: "st-thika", StationName: "Thika Road",
		Allocations: []dispatch.AllocationInput{
			{CompartmentID: "c1", ProductCode: "PMS", RefillQty: liters(6000), PlannedQty: litersPtr(5500)},
			{CompartmentID: "c2", ProductCode: "AGO", RefillQty: liters(6000), PlannedQty: litersPtr(6000)},
			{CompartmentID: "c3", ProductCode: "IK", RefillQty: liters(2000), PlannedQty: litersPtr(1500)},
		},
	}
	if _, err := h.runTrip(ctx, d3.ID, split,
		map[string]decimal.Decimal{"c1": liters(5500), "c2": liters(5996), "c3": liters(1500)}, "depart", "deliver", "pod"); err != nil {
		return err
	}
	if _, err := h.Service.Submit(ctx, sys, d3.ID); err != nil {
		return err
	}

	// Today: tk-203 planned two, cancelled one.
	d4, err := h.Service.OpenTankerDay(ctx, sys, today, "tk-203")
	if err != nil {
		return err
	}
	if _, err := h.runTrip(ctx, d4.ID, oneDrop("st-kiambu", "Kiambu", "c1", "AGO", 8000, 8000), nil); err != nil {
		return err
	}
	seq, err := h.runTrip(ctx, d4.ID, oneDrop("st-ruaka", "Ruaka", "c1", "AGO", 4000, 4000), nil)
	if err != nil {
		return err
	}
	if _, _, err := h.Service.CancelTrip(ctx, sys, d4.ID, seq, "Station closed for maintenance"); err != nil {
		return err
	}
	_, _, err = h.Service.RaiseException(ctx, sys, d4.ID, dispatch.ExceptionInput{
		Type:        dispatch.ExceptionLateDelivery,
		Severity:    dispatch.SeverityLow,
		TripSeq:     1,
		Description: "Loading bay queue delayed departure",
	})
	return err
}

func (h *Handler) loadMissingPODScenario(ctx context.Context) error {
	yesterday := dispatch.DateOf(h.Service.Now()).AddDate(0, 0, -1)
	if err := h.Service.RegisterTanker(ctx, sys, dispatch.Tanker{
		ID: "tk-301", Name: "Tanker 301", PlateNumber: "KDC 301C",
		DefaultDriverID: "drv-omondi", DefaultPorterID: "prt-akinyi",
		Compartments: compartments(5000, 5000),
	}); err != nil {
		return err
	}
	day, err := h.Service.OpenTankerDay(ctx, sys, yesterday, "tk-301")
	if err != nil {
		return err
	}
	if _, err := h.runTrip(ctx, day.ID, oneDrop("st-embakasi", "Embakasi", "c1", "PMS", 4500, 4500),
		map[string]decimal.Decimal{"c1": liters(4500)}, "depart", "deliver"); err != nil {
		return err
	}
	_, err = h.runTrip(ctx, day.ID, oneDrop("st-donholm", "Donholm", "c2", "AGO", 5000, 5000),
		map[string]decimal.Decimal{"c2": liters(4990)}, "depart", "deliver")
	return err
}
