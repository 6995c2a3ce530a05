/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Entity bodies reuse
  the dispatch types directly (they already carry JSON tags); this file
  holds request bodies and the envelopes the dashboard expects.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

QUANTITIES:
  Liters are decimal strings on the wire ("4800", "1200.5"). Request
  bodies accept either a JSON string or a JSON number.

VALIDATION:
  Validation is done in handlers and the dispatch service, not in DTOs.

SEE ALSO:
  - handlers.go: Uses these types
  - dispatch/types.go: Entity JSON shapes
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/tanker-dispatch/dispatch"
)

// =============================================================================
// TANKER DAYS
// =============================================================================

// TankerDaySummaryDTO is one row of the dashboard list.
type TankerDaySummaryDTO struct {
	ID             string             `json:"id"`
	Date           string             `json:"date"`
	TankerID       string             `json:"tanker_id"`
	TankerName     string             `json:"tanker_name"`
	DriverID       string             `json:"driver_id,omitempty"`
	PorterID       string             `json:"porter_id,omitempty"`
	Status         dispatch.DayStatus `json:"status"`
	Version        int                `json:"version"`
	ActiveTrips    int                `json:"active_trips"`
	OpenExceptions int                `json:"open_exceptions"`
	Summary        dispatch.Summary   `json:"summary"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// TankerDayListResponse is GET /api/tanker-days.
type TankerDayListResponse struct {
	TankerDays []TankerDaySummaryDTO   `json:"tankerDays"`
	Stats      dispatch.DashboardStats `json:"stats"`
}

// TankerDayDetailDTO is the full day with derived values attached.
type TankerDayDetailDTO struct {
	*dispatch.TankerDay
	Summary  dispatch.Summary              `json:"summary"`
	Balances []dispatch.CompartmentBalance `json:"balances"`
}

// CreateTankerDayRequest is POST /api/tanker-days.
type CreateTankerDayRequest struct {
	Date     string `json:"date"`
	TankerID string `json:"tankerId"`
}

// NoteRequest carries the optional free text of a transition.
type NoteRequest struct {
	Note string `json:"note"`
}

// =============================================================================
// TRIPS
// =============================================================================

type AllocationRequest struct {
	CompartmentID string           `json:"compartment_id"`
	ProductCode   string           `json:"product_code"`
	RefillQty     decimal.Decimal  `json:"refill_qty"`
	PlannedQty    *decimal.Decimal `json:"planned_qty,omitempty"`
}

// CreateTripRequest is POST /api/tanker-days/{id}/trips.
type CreateTripRequest struct {
	CustomerID   string              `json:"customer_id"`
	CustomerName string              `json:"customer_name"`
	StationID    string              `json:"station_id"`
	StationName  string              `json:"station_name"`
	DriverID     string              `json:"driver_id"`
	PorterID     string              `json:"porter_id"`
	DRNumber     string              `json:"dr_number"`
	Allocations  []AllocationRequest `json:"allocations"`
}

func (r CreateTripRequest) toInput() dispatch.TripInput {
	in := dispatch.TripInput{
		CustomerID:   r.CustomerID,
		CustomerName: r.CustomerName,
		StationID:    r.StationID,
		StationName:  r.StationName,
		DriverID:     r.DriverID,
		PorterID:     r.PorterID,
		DRNumber:     r.DRNumber,
		Allocations:  make([]dispatch.AllocationInput, len(r.Allocations)),
	}
	for i, a := range r.Allocations {
		in.Allocations[i] = dispatch.AllocationInput{
			CompartmentID: a.CompartmentID,
			ProductCode:   a.ProductCode,
			RefillQty:     a.RefillQty,
			PlannedQty:    a.PlannedQty,
		}
	}
	return in
}

// DeliveryRequest maps compartment id to actual liters dropped.
type DeliveryRequest struct {
	Actuals map[string]decimal.Decimal `json:"actuals"`
}

// PODRequest attaches already-stored file references.
type PODRequest struct {
	Files []string `json:"files"`
}

type CancelTripRequest struct {
	Reason string `json:"reason"`
}

// TripResponse returns the changed trip plus the day's new version.
type TripResponse struct {
	Trip       *dispatch.Trip     `json:"trip"`
	DayVersion int                `json:"day_version"`
	DayStatus  dispatch.DayStatus `json:"day_status"`
	Summary    dispatch.Summary   `json:"summary"`
}

// =============================================================================
// EXCEPTIONS
// =============================================================================

type RaiseExceptionRequest struct {
	Type        dispatch.ExceptionType `json:"type"`
	Severity    dispatch.Severity      `json:"severity"`
	TripSeq     int                    `json:"trip_seq"`
	Description string                 `json:"description"`
	Liters      *decimal.Decimal       `json:"liters,omitempty"`
}

type ExceptionResponse struct {
	Exception  *dispatch.Exception `json:"exception"`
	DayVersion int                 `json:"day_version"`
}

// =============================================================================
// TANKERS
// =============================================================================

type CompartmentRequest struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	MaxVolume decimal.Decimal `json:"max_volume"`
}

type CreateTankerRequest struct {
	ID              string               `json:"id"`
	Name            string               `json:"name"`
	PlateNumber     string               `json:"plate_number"`
	DefaultDriverID string               `json:"default_driver_id"`
	DefaultPorterID string               `json:"default_porter_id"`
	Compartments    []CompartmentRequest `json:"compartments"`
}

func (r CreateTankerRequest) toTanker() dispatch.Tanker {
	t := dispatch.Tanker{
		ID:              r.ID,
		Name:            r.Name,
		PlateNumber:     r.PlateNumber,
		DefaultDriverID: r.DefaultDriverID,
		DefaultPorterID: r.DefaultPorterID,
		Compartments:    make([]dispatch.Compartment, len(r.Compartments)),
	}
	for i, c := range r.Compartments {
		t.Compartments[i] = dispatch.Compartment{ID: c.ID, Name: c.Name, MaxVolume: c.MaxVolume}
	}
	return t
}

// =============================================================================
// ADMIN / SCENARIOS
// =============================================================================

type SweepResponse struct {
	DaysScanned int `json:"days_scanned"`
	Raised      int `json:"raised"`
	Failed      int `json:"failed"`
}

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest is the request to load a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Field   string `json:"field,omitempty"`
	Details any    `json:"details,omitempty"`
}
