/*
handlers.go - HTTP API handlers for tanker dispatch

PURPOSE:
  Exposes the dispatch service via REST API. Handles HTTP request/response,
  JSON serialization, and delegates every state change to dispatch.Service.

ENDPOINTS:
  Tankers:
    GET    /api/tankers                         List tankers
    POST   /api/tankers                         Register or update a tanker
    GET    /api/tankers/{id}                    Tanker details

  Tanker days:
    GET    /api/tanker-days?date=YYYY-MM-DD     Dashboard list + stats
    POST   /api/tanker-days                     Open a tanker day
    GET    /api/tanker-days/{id}                Full day with summary and balances
    GET    /api/tanker-days/{id}/balances       Compartment balances
    POST   /api/tanker-days/{id}/submit         OPEN -> SUBMITTED
    POST   /api/tanker-days/{id}/return         SUBMITTED -> OPEN
    POST   /api/tanker-days/{id}/approve        SUBMITTED -> LOCKED

  Trips:
    POST   /api/tanker-days/{id}/trips                  Plan a trip
    POST   /api/tanker-days/{id}/trips/{seq}/depart     PENDING -> DEPARTED
    POST   /api/tanker-days/{id}/trips/{seq}/deliver    DEPARTED -> RETURNED
    POST   /api/tanker-days/{id}/trips/{seq}/pod        Attach POD (multipart or JSON refs)
    GET    /api/tanker-days/{id}/trips/{seq}/pod        List stored POD files
    POST   /api/tanker-days/{id}/trips/{seq}/cancel     Cancel with reason

  Exceptions:
    POST   /api/tanker-days/{id}/exceptions                 Raise manually
    POST   /api/tanker-days/{id}/exceptions/{eid}/clear     Clear
    GET    /api/exceptions?dateFrom&dateTo&...              Exceptions register

  Reports:
    GET    /api/reports                          Report names
    GET    /api/reports/{name}?dateFrom&dateTo   JSON, or format=csv|xlsx

  Other:
    GET    /api/stats?date=YYYY-MM-DD           Dashboard stats only
    GET    /api/pods/*                          Download a POD file
    POST   /api/admin/sweep                     Run the missing-POD sweep now

REQUEST FLOW:
  1. Session middleware puts the caller's dispatch.Session in the context
  2. Parse and validate the request
  3. Call dispatch.Service (capability checks happen there)
  4. Serialize response, or map the error with writeServiceError

ERROR HANDLING:
  - 400: Validation errors, over-allocation, malformed input
  - 403: Role lacks the capability
  - 404: Day, trip, tanker or report not found
  - 409: Invalid transition, duplicate, concurrent modification
  - 500: Internal errors

  POST /api/tanker-days keeps the dashboard's contract and answers 500 for
  a duplicate day or unknown tanker.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - scenarios.go: Demo data
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/warp/tanker-dispatch/dispatch"
	"github.com/warp/tanker-dispatch/pod"
	"github.com/warp/tanker-dispatch/report"
)

// maxPODUpload bounds a multipart POD upload.
const maxPODUpload = 32 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service  *dispatch.Service
	PODs     pod.Store
	Resetter dispatch.Resetter

	// Sweep settings used by POST /api/admin/sweep.
	PODDeadline   time.Duration
	SweepLookback int

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler. resetter may be nil, which disables scenarios.
func NewHandler(svc *dispatch.Service, pods pod.Store, resetter dispatch.Resetter) *Handler {
	return &Handler{
		Service:       svc,
		PODs:          pods,
		Resetter:      resetter,
		PODDeadline:   24 * time.Hour,
		SweepLookback: 7,
	}
}

// =============================================================================
// TANKERS
// =============================================================================

func (h *Handler) ListTankers(w http.ResponseWriter, r *http.Request) {
	tankers, err := h.Service.ListTankers(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if tankers == nil {
		tankers = []dispatch.Tanker{}
	}
	writeJSON(w, http.StatusOK, tankers)
}

func (h *Handler) GetTanker(w http.ResponseWriter, r *http.Request) {
	t, err := h.Service.GetTanker(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) CreateTanker(w http.ResponseWriter, r *http.Request) {
	var req CreateTankerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	t := req.toTanker()
	if err := h.Service.RegisterTanker(r.Context(), dispatch.SessionFrom(r.Context()), t); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// =============================================================================
// TANKER DAYS
// =============================================================================

// ListTankerDays returns the dashboard for one date (default: today).
func (h *Handler) ListTankerDays(w http.ResponseWriter, r *http.Request) {
	date, ok := h.dateParam(w, r, "date")
	if !ok {
		return
	}
	days, err := h.Service.ListByDate(r.Context(), date)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := TankerDayListResponse{
		TankerDays: make([]TankerDaySummaryDTO, len(days)),
		Stats:      dispatch.ComputeStats(date, days),
	}
	for i := range days {
		resp.TankerDays[i] = toSummaryDTO(&days[i])
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	date, ok := h.dateParam(w, r, "date")
	if !ok {
		return
	}
	days, err := h.Service.ListByDate(r.Context(), date)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dispatch.ComputeStats(date, days))
}

func (h *Handler) GetTankerDay(w http.ResponseWriter, r *http.Request) {
	day, err := h.Service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDetailDTO(day))
}

// CreateTankerDay opens a day. Missing fields are a 400; a duplicate day or
// unknown tanker is reported as 500, which is what the dashboard expects.
func (h *Handler) CreateTankerDay(w http.ResponseWriter, r *http.Request) {
	var req CreateTankerDayRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if strings.TrimSpace(req.Date) == "" || strings.TrimSpace(req.TankerID) == "" {
		writeError(w, http.StatusBadRequest, "date and tankerId are required", nil)
		return
	}
	date, err := dispatch.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}

	day, err := h.Service.OpenTankerDay(r.Context(), dispatch.SessionFrom(r.Context()), date, req.TankerID)
	if err != nil {
		if errors.Is(err, dispatch.ErrAlreadyExists) || errors.Is(err, dispatch.ErrTankerNotFound) {
			writeError(w, http.StatusInternalServerError, "Failed to create tanker day", err)
			return
		}
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSummaryDTO(day))
}

func (h *Handler) GetBalances(w http.ResponseWriter, r *http.Request) {
	balances, err := h.Service.CompartmentBalances(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balances)
}

func (h *Handler) SubmitTankerDay(w http.ResponseWriter, r *http.Request) {
	day, err := h.Service.Submit(r.Context(), dispatch.SessionFrom(r.Context()), chi.URLParam(r, "id"))
	h.respondDay(w, day, err)
}

func (h *Handler) ReturnTankerDay(w http.ResponseWriter, r *http.Request) {
	var req NoteRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	day, err := h.Service.Return(r.Context(), dispatch.SessionFrom(r.Context()), chi.URLParam(r, "id"), req.Note)
	h.respondDay(w, day, err)
}

func (h *Handler) ApproveTankerDay(w http.ResponseWriter, r *http.Request) {
	day, err := h.Service.Approve(r.Context(), dispatch.SessionFrom(r.Context()), chi.URLParam(r, "id"))
	h.respondDay(w, day, err)
}

func (h *Handler) respondDay(w http.ResponseWriter, day *dispatch.TankerDay, err error) {
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDetailDTO(day))
}

// =============================================================================
// TRIPS
// =============================================================================

func (h *Handler) CreateTrip(w http.ResponseWriter, r *http.Request) {
	var req CreateTripRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	day, trip, err := h.Service.CreateTrip(r.Context(), dispatch.SessionFrom(r.Context()), chi.URLParam(r, "id"), req.toInput())
	respondTrip(w, http.StatusCreated, day, trip, err)
}

func (h *Handler) DepartTrip(w http.ResponseWriter, r *http.Request) {
	seq, ok := seqParam(w, r)
	if !ok {
		return
	}
	day, trip, err := h.Service.DepartTrip(r.Context(), dispatch.SessionFrom(r.Context()), chi.URLParam(r, "id"), seq)
	respondTrip(w, http.StatusOK, day, trip, err)
}

func (h *Handler) RecordDelivery(w http.ResponseWriter, r *http.Request) {
	seq, ok := seqParam(w, r)
	if !ok {
		return
	}
	var req DeliveryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	day, trip, err := h.Service.RecordDelivery(r.Context(), dispatch.SessionFrom(r.Context()), chi.URLParam(r, "id"), seq, req.Actuals)
	respondTrip(w, http.StatusOK, day, trip, err)
}

// UploadPOD accepts either multipart files (field "files"), which are stored
// in the POD store first, or a JSON body of already-stored references.
func (h *Handler) UploadPOD(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := dispatch.SessionFrom(ctx)
	id := chi.URLParam(r, "id")
	seq, ok := seqParam(w, r)
	if !ok {
		return
	}

	var files []string
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		if !sess.Role.Can(dispatch.CapEdit) {
			writeServiceError(w, &dispatch.ForbiddenError{Role: sess.Role, Capability: dispatch.CapEdit, Action: "upload POD"})
			return
		}
		day, err := h.Service.Get(ctx, id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if _, err := day.Trip(seq); err != nil {
			writeServiceError(w, err)
			return
		}
		keys, err := h.storePODFiles(r, id, seq)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Failed to store POD files", err)
			return
		}
		files = keys
	} else {
		var req PODRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
		files = req.Files
	}

	day, trip, err := h.Service.UploadPOD(ctx, sess, id, seq, files)
	if err != nil && len(files) > 0 && mediaType == "multipart/form-data" {
		log.Printf("[Dispatch] POD attach failed for %s trip %d, stored files left unreferenced: %v", id, seq, files)
	}
	respondTrip(w, http.StatusOK, day, trip, err)
}

func (h *Handler) storePODFiles(r *http.Request, dayID string, seq int) ([]string, error) {
	if err := r.ParseMultipartForm(maxPODUpload); err != nil {
		return nil, err
	}
	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		return nil, errors.New("no files in field \"files\"")
	}
	keys := make([]string, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			logOrphanedPODs(dayID, seq, keys, err)
			return nil, err
		}
		key := pod.Key(dayID, seq, fh.Filename)
		_, err = h.PODs.Put(r.Context(), key, f, pod.PutOptions{
			ContentType: fh.Header.Get("Content-Type"),
			Metadata:    map[string]string{"uploaded-by": dispatch.SessionFrom(r.Context()).UserID, "filename": fh.Filename},
		})
		f.Close()
		if err != nil {
			logOrphanedPODs(dayID, seq, keys, err)
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// logOrphanedPODs records files already written to the POD store when a
// later file of the same upload failed. The trip never references them.
func logOrphanedPODs(dayID string, seq int, stored []string, err error) {
	if len(stored) == 0 {
		return
	}
	log.Printf("[Dispatch] POD upload failed for %s trip %d, stored files left unreferenced: %v: %v", dayID, seq, stored, err)
}

func (h *Handler) ListPODFiles(w http.ResponseWriter, r *http.Request) {
	seq, ok := seqParam(w, r)
	if !ok {
		return
	}
	infos, err := h.PODs.List(r.Context(), pod.Prefix(chi.URLParam(r, "id"), seq)+"/")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list POD files", err)
		return
	}
	if infos == nil {
		infos = []pod.Info{}
	}
	writeJSON(w, http.StatusOK, infos)
}

func (h *Handler) DownloadPOD(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	info, body, err := h.PODs.Get(r.Context(), key)
	if err != nil {
		if errors.Is(err, pod.ErrNotFound) {
			writeError(w, http.StatusNotFound, "POD file not found", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to read POD file", err)
		return
	}
	defer body.Close()

	if info.ContentType != "" {
		w.Header().Set("Content-Type", info.ContentType)
	} else {
		w.Header().Set("Content-Type", "application/octet-stream")
	}
	if info.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	io.Copy(w, body)
}

func (h *Handler) CancelTrip(w http.ResponseWriter, r *http.Request) {
	seq, ok := seqParam(w, r)
	if !ok {
		return
	}
	var req CancelTripRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	day, trip, err := h.Service.CancelTrip(r.Context(), dispatch.SessionFrom(r.Context()), chi.URLParam(r, "id"), seq, req.Reason)
	respondTrip(w, http.StatusOK, day, trip, err)
}

func respondTrip(w http.ResponseWriter, status int, day *dispatch.TankerDay, trip *dispatch.Trip, err error) {
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, status, TripResponse{
		Trip:       trip,
		DayVersion: day.Version,
		DayStatus:  day.Status,
		Summary:    day.Summary(),
	})
}

// =============================================================================
// EXCEPTIONS
// =============================================================================

func (h *Handler) RaiseException(w http.ResponseWriter, r *http.Request) {
	var req RaiseExceptionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	day, exc, err := h.Service.RaiseException(r.Context(), dispatch.SessionFrom(r.Context()), chi.URLParam(r, "id"), dispatch.ExceptionInput{
		Type:        req.Type,
		Severity:    req.Severity,
		TripSeq:     req.TripSeq,
		Description: req.Description,
		Liters:      req.Liters,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ExceptionResponse{Exception: exc, DayVersion: day.Version})
}

func (h *Handler) ClearException(w http.ResponseWriter, r *http.Request) {
	var req NoteRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	day, exc, err := h.Service.ClearException(r.Context(), dispatch.SessionFrom(r.Context()),
		chi.URLParam(r, "id"), chi.URLParam(r, "exceptionID"), req.Note)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ExceptionResponse{Exception: exc, DayVersion: day.Version})
}

// ListExceptions is the exceptions register report as JSON.
func (h *Handler) ListExceptions(w http.ResponseWriter, r *http.Request) {
	h.serveReport(w, r, report.NameExceptions)
}

// =============================================================================
// REPORTS
// =============================================================================

func (h *Handler) ListReports(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, report.Names())
}

func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	h.serveReport(w, r, chi.URLParam(r, "name"))
}

func (h *Handler) serveReport(w http.ResponseWriter, r *http.Request, name string) {
	q := r.URL.Query()
	params, err := reportParams(q.Get)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	days, err := h.Service.ListInRange(r.Context(), params.Range.From, params.Range.To)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	table, err := report.Build(name, days, params)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	filename := fmt.Sprintf("%s_%s", name, h.Service.Now().Format(dispatch.DateLayout))
	switch format := strings.ToLower(q.Get("format")); format {
	case "", "json":
		writeJSON(w, http.StatusOK, table.Rows)
	case "csv":
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename+".csv"))
		w.WriteHeader(http.StatusOK)
		if err := table.WriteCSV(w); err != nil {
			log.Printf("[Dispatch] Failed to write report %s as csv: %v", name, err)
		}
	case "xlsx":
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename+".xlsx"))
		w.WriteHeader(http.StatusOK)
		if err := table.WriteXLSX(w); err != nil {
			log.Printf("[Dispatch] Failed to write report %s as xlsx: %v", name, err)
		}
	default:
		writeError(w, http.StatusBadRequest, "Unknown format (use json, csv or xlsx)", nil)
	}
}

// reportParams reads every report filter; each report ignores the ones it
// does not use.
func reportParams(get func(string) string) (report.Params, error) {
	rng, err := report.ParseRange(get("dateFrom"), get("dateTo"))
	if err != nil {
		return report.Params{}, err
	}
	p := report.Params{
		Range:     rng,
		StationID: get("stationId"),
		GroupBy:   get("groupBy"),
	}

	flags := []struct {
		name string
		dst  *bool
	}{
		{"varianceOnly", &p.VarianceOnly},
		{"missingPodOnly", &p.MissingPODOnly},
		{"unclearedOnly", &p.UnclearedOnly},
	}
	for _, f := range flags {
		if v := get(f.name); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return report.Params{}, &dispatch.ValidationError{Field: f.name, Message: "expected true or false"}
			}
			*f.dst = b
		}
	}

	if v := get("type"); v != "" {
		t, ok := dispatch.ParseExceptionType(strings.ToUpper(v))
		if !ok {
			return report.Params{}, &dispatch.ValidationError{Field: "type", Message: "unknown exception type"}
		}
		p.ExceptionType = t
	}
	if v := get("severity"); v != "" {
		s, ok := dispatch.ParseSeverity(strings.ToUpper(v))
		if !ok {
			return report.Params{}, &dispatch.ValidationError{Field: "severity", Message: "unknown severity"}
		}
		p.Severity = s
	}
	return p, nil
}

// =============================================================================
// ADMIN
// =============================================================================

// TriggerSweep runs the missing-POD sweep immediately.
func (h *Handler) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	sess := dispatch.SessionFrom(r.Context())
	if !sess.Role.Can(dispatch.CapApprove) {
		writeServiceError(w, &dispatch.ForbiddenError{Role: sess.Role, Capability: dispatch.CapApprove, Action: "run missing-POD sweep"})
		return
	}
	res, err := h.Service.SweepMissingPOD(r.Context(), h.PODDeadline, h.SweepLookback)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SweepResponse{DaysScanned: res.DaysScanned, Raised: res.Raised, Failed: res.Failed})
}

// =============================================================================
// HELPERS
// =============================================================================

func toSummaryDTO(d *dispatch.TankerDay) TankerDaySummaryDTO {
	active := 0
	for i := range d.Trips {
		if s := d.Trips[i].Status; s == dispatch.TripDeparted || s == dispatch.TripReturned {
			active++
		}
	}
	return TankerDaySummaryDTO{
		ID:             d.ID,
		Date:           d.Date.Format(dispatch.DateLayout),
		TankerID:       d.TankerID,
		TankerName:     d.TankerName,
		DriverID:       d.DriverID,
		PorterID:       d.PorterID,
		Status:         d.Status,
		Version:        d.Version,
		ActiveTrips:    active,
		OpenExceptions: d.OpenExceptions(),
		Summary:        d.Summary(),
		UpdatedAt:      d.UpdatedAt,
	}
}

func toDetailDTO(d *dispatch.TankerDay) TankerDayDetailDTO {
	return TankerDayDetailDTO{TankerDay: d, Summary: d.Summary(), Balances: d.CompartmentBalances()}
}

// dateParam reads a YYYY-MM-DD query parameter, defaulting to today.
func (h *Handler) dateParam(w http.ResponseWriter, r *http.Request, name string) (time.Time, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return dispatch.DateOf(h.Service.Now()), true
	}
	d, err := dispatch.ParseDate(v)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid %s format (use YYYY-MM-DD)", name), err)
		return time.Time{}, false
	}
	return d, true
}

func seqParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	seq, err := strconv.Atoi(chi.URLParam(r, "seq"))
	if err != nil || seq < 1 {
		writeError(w, http.StatusBadRequest, "Invalid trip sequence", err)
		return 0, false
	}
	return seq, true
}

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// decodeOptionalJSON accepts an empty body.
func decodeOptionalJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeServiceError maps dispatch errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	var (
		validation *dispatch.ValidationError
		forbidden  *dispatch.ForbiddenError
	)
	switch {
	case errors.As(err, &forbidden):
		writeJSON(w, http.StatusForbidden, ErrorResponse{Error: err.Error(), Code: "forbidden"})
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "validation", Field: validation.Field})
	case dispatch.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "not_found"})
	case errors.Is(err, dispatch.ErrOverAllocated):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "over_allocated"})
	case errors.Is(err, dispatch.ErrInvalidTransition):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "invalid_transition"})
	case errors.Is(err, dispatch.ErrAlreadyExists):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "already_exists"})
	case dispatch.IsRetryable(err):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "concurrent_modification"})
	case dispatch.IsClientError(err):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	default:
		log.Printf("[Dispatch] Internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}
