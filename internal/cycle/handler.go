package cycle

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/lunara-app/service-cycle-go/internal/cycle/entity"
	"github.com/lunara-app/service-cycle-go/internal/middleware"
)

// Handler exposes the cycle operations over HTTP. Dates in request bodies
// are accepted as RFC 3339 timestamps or plain YYYY-MM-DD dates.
type Handler struct {
	svc    *Service
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) GetCycle(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		h.writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized", "missing identity"))
		return
	}
	view, err := h.svc.GetCycle(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

type startPeriodRequest struct {
	Date *string `json:"date,omitempty"`
	Flow *string `json:"flow,omitempty"`
}

func (h *Handler) StartPeriod(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		h.writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized", "missing identity"))
		return
	}
	var req startPeriodRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorBody("validation_error", "invalid payload"))
		return
	}
	in := StartPeriodInput{}
	if req.Date != nil {
		date, err := parseDate(*req.Date)
		if err != nil {
			h.writeJSON(w, http.StatusBadRequest, errorBody("validation_error", "invalid date"))
			return
		}
		in.Date = &date
	}
	if req.Flow != nil {
		flow := entity.Flow(*req.Flow)
		in.Flow = &flow
	}
	res, err := h.svc.StartPeriod(r.Context(), userID, in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, res)
}

type endPeriodRequest struct {
	Date *string `json:"date,omitempty"`
}

func (h *Handler) EndPeriod(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		h.writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized", "missing identity"))
		return
	}
	var req endPeriodRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorBody("validation_error", "invalid payload"))
		return
	}
	in := EndPeriodInput{}
	if req.Date != nil {
		date, err := parseDate(*req.Date)
		if err != nil {
			h.writeJSON(w, http.StatusBadRequest, errorBody("validation_error", "invalid date"))
			return
		}
		in.Date = &date
	}
	res, err := h.svc.EndPeriod(r.Context(), userID, in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

type logPeriodRequest struct {
	StartDate string  `json:"start_date"`
	EndDate   *string `json:"end_date,omitempty"`
	Flow      *string `json:"flow,omitempty"`
}

func (h *Handler) LogPeriod(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		h.writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized", "missing identity"))
		return
	}
	var req logPeriodRequest
	if err := decodeBody(r, &req); err != nil || req.StartDate == "" {
		h.writeJSON(w, http.StatusBadRequest, errorBody("validation_error", "start_date is required"))
		return
	}
	start, err := parseDate(req.StartDate)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorBody("validation_error", "invalid start_date"))
		return
	}
	in := LogPeriodInput{StartDate: start}
	if req.EndDate != nil {
		end, err := parseDate(*req.EndDate)
		if err != nil {
			h.writeJSON(w, http.StatusBadRequest, errorBody("validation_error", "invalid end_date"))
			return
		}
		in.EndDate = &end
	}
	if req.Flow != nil {
		flow := entity.Flow(*req.Flow)
		in.Flow = &flow
	}
	res, err := h.svc.LogPeriod(r.Context(), userID, in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) DeletePeriod(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		h.writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized", "missing identity"))
		return
	}
	periodID := r.PathValue("id")
	view, err := h.svc.DeletePeriod(r.Context(), userID, periodID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

func (h *Handler) ClearPeriods(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		h.writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized", "missing identity"))
		return
	}
	view, err := h.svc.ClearPeriods(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

type logSymptomRequest struct {
	Date     *string `json:"date,omitempty"`
	Type     string  `json:"type"`
	Severity *int    `json:"severity,omitempty"`
	Notes    *string `json:"notes,omitempty"`
}

func (h *Handler) LogSymptom(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		h.writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized", "missing identity"))
		return
	}
	var req logSymptomRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorBody("validation_error", "invalid payload"))
		return
	}
	in := LogSymptomInput{
		Type:     entity.SymptomType(req.Type),
		Severity: req.Severity,
		Notes:    req.Notes,
	}
	if req.Date != nil {
		date, err := parseDate(*req.Date)
		if err != nil {
			h.writeJSON(w, http.StatusBadRequest, errorBody("validation_error", "invalid date"))
			return
		}
		in.Date = &date
	}
	sym, err := h.svc.LogSymptom(r.Context(), userID, in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, sym)
}

func (h *Handler) GetSymptoms(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		h.writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized", "missing identity"))
		return
	}
	var from, to *time.Time
	if v := r.URL.Query().Get("from"); v != "" {
		date, err := parseDate(v)
		if err != nil {
			h.writeJSON(w, http.StatusBadRequest, errorBody("validation_error", "invalid from date"))
			return
		}
		from = &date
	}
	if v := r.URL.Query().Get("to"); v != "" {
		date, err := parseDate(v)
		if err != nil {
			h.writeJSON(w, http.StatusBadRequest, errorBody("validation_error", "invalid to date"))
			return
		}
		to = &date
	}
	syms, err := h.svc.GetSymptoms(r.Context(), userID, from, to)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, syms)
}

type updateSettingsRequest struct {
	CycleLength  *int  `json:"cycle_length,omitempty"`
	PeriodLength *int  `json:"period_length,omitempty"`
	IsTracking   *bool `json:"is_tracking,omitempty"`
}

func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		h.writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized", "missing identity"))
		return
	}
	var req updateSettingsRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorBody("validation_error", "invalid payload"))
		return
	}
	view, err := h.svc.UpdateSettings(r.Context(), userID, UpdateSettingsInput{
		CycleLength:  req.CycleLength,
		PeriodLength: req.PeriodLength,
		IsTracking:   req.IsTracking,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

type expectedPeriodRequest struct {
	StartDate string  `json:"start_date"`
	EndDate   *string `json:"end_date,omitempty"`
}

func (h *Handler) SetExpectedPeriod(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		h.writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized", "missing identity"))
		return
	}
	var req expectedPeriodRequest
	if err := decodeBody(r, &req); err != nil || req.StartDate == "" {
		h.writeJSON(w, http.StatusBadRequest, errorBody("validation_error", "start_date is required"))
		return
	}
	start, err := parseDate(req.StartDate)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorBody("validation_error", "invalid start_date"))
		return
	}
	in := SetExpectedPeriodInput{StartDate: start}
	if req.EndDate != nil {
		end, err := parseDate(*req.EndDate)
		if err != nil {
			h.writeJSON(w, http.StatusBadRequest, errorBody("validation_error", "invalid end_date"))
			return
		}
		in.EndDate = &end
	}
	view, err := h.svc.SetExpectedPeriod(r.Context(), userID, in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

func (h *Handler) ClearExpectedPeriod(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		h.writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized", "missing identity"))
		return
	}
	view, err := h.svc.ClearExpectedPeriod(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

type updateSharingRequest struct {
	ShareWith []string `json:"share_with"`
}

func (h *Handler) UpdateSharing(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		h.writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized", "missing identity"))
		return
	}
	var req updateSharingRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorBody("validation_error", "invalid payload"))
		return
	}
	granted, err := h.svc.UpdateSharing(r.Context(), userID, req.ShareWith)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string][]string{"share_with": granted})
}

func (h *Handler) GetSharedCycle(w http.ResponseWriter, r *http.Request) {
	viewerID, ok := middleware.UserID(r.Context())
	if !ok {
		h.writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized", "missing identity"))
		return
	}
	ownerID := r.PathValue("ownerId")
	view, err := h.svc.GetSharedCycle(r.Context(), viewerID, ownerID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

// writeError maps the error taxonomy onto HTTP statuses.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrValidation):
		h.writeJSON(w, http.StatusBadRequest, errorBody("validation_error", err.Error()))
	case errors.Is(err, ErrNotFound):
		h.writeJSON(w, http.StatusNotFound, errorBody("not_found", err.Error()))
	case errors.Is(err, ErrConflict):
		h.writeJSON(w, http.StatusConflict, errorBody("conflict", err.Error()))
	case errors.Is(err, ErrPermission):
		h.writeJSON(w, http.StatusForbidden, errorBody("permission_denied", err.Error()))
	default:
		h.logger.Errorw("cycle operation failed", "err", err)
		h.writeJSON(w, http.StatusInternalServerError, errorBody("internal", "internal error"))
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func errorBody(kind, message string) map[string]string {
	return map[string]string{"error": kind, "message": message}
}

// decodeBody tolerates an empty body so optional-only requests can omit it.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}
