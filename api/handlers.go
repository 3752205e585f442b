/*
handlers.go - HTTP API handlers for the reservation engine

PURPOSE:
  Exposes the booking service, the resource catalog, members and credit
  balances via REST API. Handles HTTP request/response, JSON serialization,
  and delegates to booking.Service for everything with a rule behind it.

ENDPOINTS:
  Resources:
    GET    /api/resources                   List bookable resources
    POST   /api/resources                   Create or replace a resource
    GET    /api/resources/{id}              Get one resource
    GET    /api/resources/{id}/slots        Free and busy spans on a date

  Members:
    GET    /api/members                     List members
    POST   /api/members                     Create or update a member
    GET    /api/members/{id}                Get member details
    GET    /api/members/{id}/balances       Credit balances at a point in time
    GET    /api/members/{id}/transactions   Credit trail
    GET    /api/members/{id}/reservations   Member's reservations

  Reservations:
    POST   /api/quotes                      Price a window without booking
    POST   /api/reservations                Book a window
    GET    /api/reservations/{id}           Get reservation
    POST   /api/reservations/{id}/confirm   Payment captured
    POST   /api/reservations/{id}/check-in  Member arrived
    POST   /api/reservations/{id}/check-out Member left, settle
    POST   /api/reservations/{id}/cancel    Cancel with refund policy

  Allocations:
    GET    /api/allocations/runs            Allocation run history
    POST   /api/allocations/run             Allocate current cycles now

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input, check-in window
  - 404: Reservation, resource or member not found
  - 409: Slot taken, illegal transition, already checked in
  - 500: Internal errors
  Window validation errors carry their code ("slot_unavailable", ...) and,
  for conflicts, the blocking reservation's ID.

SECURITY NOTE:
  No authentication. user_id in request bodies is trusted as given.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - booking/service.go: Reservation flow
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/CitizenCafe-LLC/citizenspace-sub001/booking"
	"github.com/CitizenCafe-LLC/citizenspace-sub001/catalog"
	"github.com/CitizenCafe-LLC/citizenspace-sub001/engine"
	"github.com/CitizenCafe-LLC/citizenspace-sub001/membership"
	"github.com/CitizenCafe-LLC/citizenspace-sub001/store/sqlite"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

var creditTypes = []engine.CreditType{
	engine.CreditMeetingRoomHours,
	engine.CreditPrinting,
	engine.CreditGuestPasses,
}

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     *sqlite.Store
	Catalog   *catalog.Catalog
	Booking   *booking.Service
	Scheduler *CycleScheduler
	Log       logrus.FieldLogger
}

// NewHandler creates a new handler. scheduler may be nil, in which case
// manual allocation is unavailable.
func NewHandler(store *sqlite.Store, cat *catalog.Catalog, svc *booking.Service, scheduler *CycleScheduler, log logrus.FieldLogger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{
		Store:     store,
		Catalog:   cat,
		Booking:   svc,
		Scheduler: scheduler,
		Log:       log,
	}
}

// SyncResources reconciles the catalog with the resources table. Stored
// resources win over catalog entries with the same ID; catalog entries the
// table does not know yet are written to it.
func (h *Handler) SyncResources(ctx context.Context) error {
	records, err := h.Store.ListResources(ctx)
	if err != nil {
		return err
	}

	stored := make(map[engine.ResourceID]bool, len(records))
	for _, rec := range records {
		res, err := catalog.ParseResource([]byte(rec.ConfigJSON))
		if err != nil {
			h.Log.WithError(err).WithField("resource_id", rec.ID).Warn("Skipping invalid stored resource")
			continue
		}
		h.Catalog.Put(res)
		stored[res.ID] = true
	}

	for _, res := range h.Catalog.Resources() {
		if stored[res.ID] {
			continue
		}
		if err := h.saveResource(ctx, res); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) saveResource(ctx context.Context, res engine.Resource) error {
	data, err := json.Marshal(catalog.ToJSON(res))
	if err != nil {
		return err
	}
	return h.Store.SaveResource(ctx, sqlite.ResourceRecord{
		ID:         string(res.ID),
		Name:       res.Name,
		Category:   string(res.Category),
		ConfigJSON: string(data),
	})
}

func (h *Handler) now() time.Time {
	if h.Booking.Now != nil {
		return h.Booking.Now()
	}
	return time.Now()
}

// =============================================================================
// RESOURCE HANDLERS
// =============================================================================

// ListResources returns every bookable resource.
func (h *Handler) ListResources(w http.ResponseWriter, r *http.Request) {
	versions := map[string]int{}
	records, err := h.Store.ListResources(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to list resources", err)
		return
	}
	for _, rec := range records {
		versions[rec.ID] = rec.Version
	}

	resources := h.Catalog.Resources()
	dtos := make([]ResourceDTO, len(resources))
	for i, res := range resources {
		dtos[i] = ResourceDTO{ResourceJSON: catalog.ToJSON(res), Version: versions[string(res.ID)]}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetResource returns a single resource.
func (h *Handler) GetResource(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	res, err := h.Catalog.Resource(engine.ResourceID(id))
	if err != nil {
		h.fail(w, r, "Resource not found", err)
		return
	}

	dto := ResourceDTO{ResourceJSON: catalog.ToJSON(res)}
	if rec, err := h.Store.GetResource(r.Context(), id); err == nil && rec != nil {
		dto.Version = rec.Version
	}
	writeJSON(w, http.StatusOK, dto)
}

// CreateResource validates a resource definition, stores it and makes it
// bookable.
func (h *Handler) CreateResource(w http.ResponseWriter, r *http.Request) {
	var req catalog.ResourceJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	res, err := catalog.FromJSON(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid resource", err)
		return
	}

	if err := h.saveResource(r.Context(), res); err != nil {
		h.fail(w, r, "Failed to save resource", err)
		return
	}
	h.Catalog.Put(res)

	dto := ResourceDTO{ResourceJSON: catalog.ToJSON(res)}
	if rec, err := h.Store.GetResource(r.Context(), string(res.ID)); err == nil && rec != nil {
		dto.Version = rec.Version
	}

	h.Log.WithFields(logrus.Fields{
		"resource_id": res.ID,
		"category":    res.Category,
		"version":     dto.Version,
	}).Info("Resource saved")

	writeJSON(w, http.StatusCreated, dto)
}

// GetSlots returns the free and busy spans of a resource.
// GET /api/resources/{id}/slots?date=2025-03-10&min_duration=30m
func (h *Handler) GetSlots(w http.ResponseWriter, r *http.Request) {
	id := engine.ResourceID(chi.URLParam(r, "id"))
	q := r.URL.Query()

	date := h.Booking.Rules.In(h.now())
	if s := q.Get("date"); s != "" {
		d, err := time.ParseInLocation(dateLayout, s, date.Location())
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
			return
		}
		date = d
	}

	var minDuration time.Duration
	if s := q.Get("min_duration"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d < 0 {
			writeError(w, http.StatusBadRequest, "Invalid min_duration (use e.g. 30m, 2h)", err)
			return
		}
		minDuration = d
	}

	slots, err := h.Booking.Slots(r.Context(), id, date, minDuration)
	if err != nil {
		h.fail(w, r, "Failed to list slots", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"resource_id": id,
		"date":        engine.DateOf(date).Format(dateLayout),
		"slots":       toSlotDTOs(slots),
	})
}

// =============================================================================
// MEMBER HANDLERS
// =============================================================================

// ListMembers returns all members.
func (h *Handler) ListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := h.Store.Members(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to list members", err)
		return
	}

	dtos := make([]MemberDTO, len(members))
	for i, m := range members {
		dtos[i] = toMemberDTO(m)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetMember returns a single member.
func (h *Handler) GetMember(w http.ResponseWriter, r *http.Request) {
	m, err := h.Store.Member(r.Context(), engine.UserID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, "Failed to get member", err)
		return
	}
	if m == nil {
		writeError(w, http.StatusNotFound, "Member not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toMemberDTO(*m))
}

// CreateMember creates or updates a member.
func (h *Handler) CreateMember(w http.ResponseWriter, r *http.Request) {
	var req CreateMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "id and name are required", nil)
		return
	}

	m := membership.Member{
		ID:     engine.UserID(req.ID),
		Name:   req.Name,
		Email:  req.Email,
		PlanID: membership.PlanID(req.PlanID),
		Holder: req.Holder,
	}
	if m.HasPlan() {
		if _, ok := h.Catalog.Plans()[m.PlanID]; !ok {
			writeError(w, http.StatusBadRequest, "Unknown plan", membership.ErrUnknownPlan)
			return
		}
	}
	if req.JoinedAt != "" {
		joined, err := time.ParseInLocation(dateLayout, req.JoinedAt, h.Booking.Rules.In(h.now()).Location())
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid joined_at format (use YYYY-MM-DD)", err)
			return
		}
		m.JoinedAt = joined
	}

	if err := h.Store.SaveMember(r.Context(), m); err != nil {
		h.fail(w, r, "Failed to save member", err)
		return
	}
	writeJSON(w, http.StatusCreated, toMemberDTO(m))
}

// GetBalances returns the member's credit balances for the cycles
// containing ?at= (RFC 3339, default now).
func (h *Handler) GetBalances(w http.ResponseWriter, r *http.Request) {
	userID := engine.UserID(chi.URLParam(r, "id"))

	at := h.now()
	if s := r.URL.Query().Get("at"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid at (use RFC 3339)", err)
			return
		}
		at = t
	}

	summaries, err := h.Booking.Balances(r.Context(), userID, at)
	if err != nil {
		h.fail(w, r, "Failed to load balances", err)
		return
	}

	dtos := make([]BalanceDTO, len(summaries))
	for i, s := range summaries {
		dtos[i] = toBalanceDTO(s)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":  userID,
		"at":       at,
		"balances": dtos,
	})
}

// GetTransactions returns the member's credit trail, optionally for one
// ?credit_type=.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	userID := engine.UserID(chi.URLParam(r, "id"))

	types := creditTypes
	if s := r.URL.Query().Get("credit_type"); s != "" {
		types = []engine.CreditType{engine.CreditType(s)}
	}

	var all []engine.CreditTransaction
	for _, ct := range types {
		txs, err := h.Booking.Transactions(r.Context(), userID, ct)
		if err != nil {
			h.fail(w, r, "Failed to load transactions", err)
			return
		}
		all = append(all, txs...)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })

	writeJSON(w, http.StatusOK, toCreditTransactionDTOs(all))
}

// GetMemberReservations lists a member's reservations, optionally filtered
// by repeated ?status= values.
func (h *Handler) GetMemberReservations(w http.ResponseWriter, r *http.Request) {
	userID := engine.UserID(chi.URLParam(r, "id"))

	var statuses []engine.Status
	for _, s := range r.URL.Query()["status"] {
		statuses = append(statuses, engine.Status(s))
	}

	rs, err := h.Booking.UserReservations(r.Context(), userID, statuses...)
	if err != nil {
		h.fail(w, r, "Failed to load reservations", err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationDTOs(rs))
}

// =============================================================================
// RESERVATION HANDLERS
// =============================================================================

func decodeBooking(w http.ResponseWriter, r *http.Request) (BookingRequest, bool) {
	var req BookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return req, false
	}
	if req.ResourceID == "" || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "resource_id and user_id are required", nil)
		return req, false
	}
	return req, true
}

// CreateQuote prices a window without booking it.
func (h *Handler) CreateQuote(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeBooking(w, r)
	if !ok {
		return
	}

	q, err := h.Booking.Quote(r.Context(), req.input())
	if err != nil {
		h.fail(w, r, "Failed to quote", err)
		return
	}
	writeJSON(w, http.StatusOK, toQuoteDTO(q))
}

// CreateReservation books a window.
func (h *Handler) CreateReservation(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeBooking(w, r)
	if !ok {
		return
	}

	res, err := h.Booking.Create(r.Context(), req.input())
	if err != nil {
		h.fail(w, r, "Failed to create reservation", err)
		return
	}
	writeJSON(w, http.StatusCreated, toReservationDTO(*res))
}

// GetReservation returns a single reservation.
func (h *Handler) GetReservation(w http.ResponseWriter, r *http.Request) {
	res, err := h.Booking.Get(r.Context(), engine.ReservationID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, "Failed to get reservation", err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationDTO(*res))
}

// ConfirmReservation records payment for a pending reservation.
func (h *Handler) ConfirmReservation(w http.ResponseWriter, r *http.Request) {
	res, err := h.Booking.ConfirmPayment(r.Context(), engine.ReservationID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, "Failed to confirm reservation", err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationDTO(*res))
}

// CheckIn marks the member as arrived. The body is optional.
func (h *Handler) CheckIn(w http.ResponseWriter, r *http.Request) {
	var req CheckInRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	res, err := h.Booking.CheckIn(r.Context(), engine.ReservationID(chi.URLParam(r, "id")), engine.ResourceID(req.ResourceID))
	if err != nil {
		h.fail(w, r, "Failed to check in", err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationDTO(*res))
}

// CheckOut ends the stay and returns the settlement on the reservation.
func (h *Handler) CheckOut(w http.ResponseWriter, r *http.Request) {
	res, err := h.Booking.CheckOut(r.Context(), engine.ReservationID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, "Failed to check out", err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationDTO(*res))
}

// CancelReservation cancels and reports the refund.
func (h *Handler) CancelReservation(w http.ResponseWriter, r *http.Request) {
	res, c, err := h.Booking.Cancel(r.Context(), engine.ReservationID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, "Failed to cancel reservation", err)
		return
	}
	writeJSON(w, http.StatusOK, CancellationDTO{
		Reservation: toReservationDTO(*res),
		FullRefund:  c.FullRefund,
		Refund:      c.Refund,
		CreditHours: c.CreditHours,
	})
}

// =============================================================================
// ALLOCATION HANDLERS
// =============================================================================

// ListAllocationRuns returns allocation run history, newest first.
// GET /api/allocations/runs
func (h *Handler) ListAllocationRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.Store.AllocationRuns(r.Context(), 0)
	if err != nil {
		h.fail(w, r, "Failed to get allocation runs", err)
		return
	}

	dtos := make([]AllocationRunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toAllocationRunDTO(run)
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": dtos})
}

// TriggerAllocation runs an allocation pass now, for the cycles containing
// the optional body's "at".
// POST /api/allocations/run
func (h *Handler) TriggerAllocation(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "Allocation is not configured", nil)
		return
	}

	var req AllocationRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}
	at := h.now()
	if req.At != nil {
		at = *req.At
	}

	run, err := h.Scheduler.RunAt(r.Context(), at)
	if err != nil && run.CompletedAt == nil {
		h.fail(w, r, "Failed to run allocation", err)
		return
	}
	writeJSON(w, http.StatusOK, toAllocationRunDTO(run))
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

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

// errorStatus maps domain errors onto HTTP status codes.
func errorStatus(err error) int {
	switch {
	case engine.IsNotFound(err):
		return http.StatusNotFound
	case engine.IsConflict(err):
		return http.StatusConflict
	case engine.IsClientError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with the status its kind calls for. Window validation
// errors keep their code and conflicting reservation.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := errorStatus(err)
	resp := ErrorResponse{Error: message, Details: err.Error()}

	var ve *engine.ValidationError
	if errors.As(err, &ve) {
		resp.Code = string(ve.Code)
		if ve.ConflictID != "" {
			resp.Details = map[string]string{
				"message":     err.Error(),
				"conflict_id": string(ve.ConflictID),
			}
		}
	}

	if status == http.StatusInternalServerError {
		h.Log.WithFields(logrus.Fields{
			"request_id": middleware.GetReqID(r.Context()),
			"method":     r.Method,
			"path":       r.URL.Path,
		}).WithError(err).Error(message)
	}
	writeJSON(w, status, resp)
}
