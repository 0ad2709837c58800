package annotation

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"physio-annotator/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
)

// Handler exposes annotation session HTTP endpoints using go-chi.
type Handler struct {
	svc     *Service
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewHandler returns a Handler that uses the given Service, Logger, and optional Metrics.
// Metrics may be nil to disable metric recording (e.g. in tests).
func NewHandler(svc *Service, log *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{svc: svc, log: log, metrics: m}
}

// Routes registers every session endpoint on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/participants", h.ListParticipants)
	r.Post("/sessions", h.OpenSession)
	r.Route("/sessions/{session_id}", func(r chi.Router) {
		r.Get("/", h.GetSession)
		r.Delete("/", h.CloseSession)
		r.Put("/mode", h.SetMode)
		r.Post("/gestures", h.ApplyGesture)
		r.Post("/peaks", h.InsertPeak)
		r.Post("/peaks/remove", h.RemovePeaks)
		r.Post("/bad-segments", h.MarkBad)
		r.Post("/bad-segments/remove", h.UnmarkBad)
		r.Put("/valid", h.SetValid)
		r.Get("/diff", h.GetDiff)
		r.Post("/save", h.Save)
	})
}

type openRequest struct {
	Participant string `json:"participant"`
	Session     string `json:"session"`
	Modality    string `json:"modality"`
	Pattern     string `json:"pattern"`
	SignalType  string `json:"signal_type"`
}

type rangeRequest struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

type gestureRequest struct {
	Gesture string `json:"gesture"`
	Start   int    `json:"start"`
	End     int    `json:"end"`
}

type peakRequest struct {
	Index *int `json:"index"`
}

type modeRequest struct {
	Mode string `json:"mode"`
}

type validRequest struct {
	Valid *bool `json:"valid"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// ListParticipants handles GET /participants?session=&modality=&pattern=.
func (h *Handler) ListParticipants(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ids, err := h.svc.Participants(q.Get("session"), q.Get("modality"), q.Get("pattern"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"participants": ids})
}

// OpenSession handles POST /sessions.
// Body: { "participant": "sub-01", "signal_type": "ecg", ... }.
func (h *Handler) OpenSession(w http.ResponseWriter, r *http.Request) {
	var req openRequest
	if !h.decode(w, r, &req) {
		return
	}

	view, err := h.svc.Open(Selector{
		Participant: req.Participant,
		Session:     req.Session,
		Modality:    req.Modality,
		Pattern:     req.Pattern,
		SignalType:  SignalType(req.SignalType),
	})
	if err != nil {
		if h.metrics != nil && (errors.Is(err, ErrInvalidSignal) || errors.Is(err, ErrDetectionFailed)) {
			h.metrics.IncUnusableSignals()
		}
		h.writeError(w, err)
		return
	}

	if h.metrics != nil {
		h.metrics.IncSessionsOpened()
	}
	writeJSON(w, http.StatusCreated, view)
}

// GetSession handles GET /sessions/{session_id}.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.View(sessionID(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// CloseSession handles DELETE /sessions/{session_id}.
func (h *Handler) CloseSession(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Close(sessionID(r)); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetMode handles PUT /sessions/{session_id}/mode.
// Body: { "mode": "rejection" }.
func (h *Handler) SetMode(w http.ResponseWriter, r *http.Request) {
	var req modeRequest
	if !h.decode(w, r, &req) {
		return
	}
	mode, err := ParseMode(req.Mode)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.svc.SetMode(sessionID(r), mode); err != nil {
		h.writeError(w, err)
		return
	}
	h.respondView(w, sessionID(r))
}

// ApplyGesture handles POST /sessions/{session_id}/gestures.
// Body: { "gesture": "primary", "start": 100, "end": 250 }.
func (h *Handler) ApplyGesture(w http.ResponseWriter, r *http.Request) {
	var req gestureRequest
	if !h.decode(w, r, &req) {
		return
	}
	g, err := ParseGesture(req.Gesture)
	if err != nil {
		h.writeError(w, err)
		return
	}
	op, err := h.svc.Apply(sessionID(r), g, Interval{Start: req.Start, End: req.End})
	h.edited(w, r, string(op), err)
}

// InsertPeak handles POST /sessions/{session_id}/peaks.
// Body: { "index": 1234 }.
func (h *Handler) InsertPeak(w http.ResponseWriter, r *http.Request) {
	var req peakRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Index == nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "index is required"})
		return
	}
	err := h.svc.InsertPeak(sessionID(r), *req.Index)
	h.edited(w, r, string(OpInsertPeak), err)
}

// RemovePeaks handles POST /sessions/{session_id}/peaks/remove.
func (h *Handler) RemovePeaks(w http.ResponseWriter, r *http.Request) {
	var req rangeRequest
	if !h.decode(w, r, &req) {
		return
	}
	err := h.svc.RemovePeaks(sessionID(r), Interval{Start: req.Start, End: req.End})
	h.edited(w, r, string(OpRemovePeaks), err)
}

// MarkBad handles POST /sessions/{session_id}/bad-segments.
func (h *Handler) MarkBad(w http.ResponseWriter, r *http.Request) {
	var req rangeRequest
	if !h.decode(w, r, &req) {
		return
	}
	err := h.svc.MarkBad(sessionID(r), Interval{Start: req.Start, End: req.End})
	h.edited(w, r, string(OpMarkBad), err)
}

// UnmarkBad handles POST /sessions/{session_id}/bad-segments/remove.
func (h *Handler) UnmarkBad(w http.ResponseWriter, r *http.Request) {
	var req rangeRequest
	if !h.decode(w, r, &req) {
		return
	}
	err := h.svc.UnmarkBad(sessionID(r), Interval{Start: req.Start, End: req.End})
	h.edited(w, r, string(OpUnmarkBad), err)
}

// SetValid handles PUT /sessions/{session_id}/valid.
// Body: { "valid": false }.
func (h *Handler) SetValid(w http.ResponseWriter, r *http.Request) {
	var req validRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Valid == nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "valid is required"})
		return
	}
	err := h.svc.SetValid(sessionID(r), *req.Valid)
	h.edited(w, r, string(OpSetValid), err)
}

// GetDiff handles GET /sessions/{session_id}/diff.
func (h *Handler) GetDiff(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.Diff(sessionID(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// Save handles POST /sessions/{session_id}/save.
func (h *Handler) Save(w http.ResponseWriter, r *http.Request) {
	path, err := h.svc.Save(sessionID(r))
	if err != nil {
		if h.metrics != nil && !errors.Is(err, ErrSessionNotFound) {
			h.metrics.IncSaveFailures()
		}
		h.writeError(w, err)
		return
	}
	if h.metrics != nil {
		h.metrics.IncSaves()
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": path})
}

// edited finishes an edit request: the updated view on success, an error
// status otherwise.
func (h *Handler) edited(w http.ResponseWriter, r *http.Request, op string, err error) {
	if err != nil {
		if h.metrics != nil && !errors.Is(err, ErrSessionNotFound) && op != "" {
			h.metrics.IncEditsRejected(op)
		}
		h.log.Debug("edit rejected",
			slog.String("session_id", string(sessionID(r))),
			slog.String("op", op),
			slog.String("error", err.Error()))
		h.writeError(w, err)
		return
	}
	if h.metrics != nil {
		h.metrics.IncEdits(op)
	}
	h.respondView(w, sessionID(r))
}

func (h *Handler) respondView(w http.ResponseWriter, id SessionID) {
	view, err := h.svc.View(id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.log.Debug("invalid request body", slog.String("path", r.URL.Path), slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return false
	}
	return true
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", slog.String("error", err.Error()))
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// statusFor maps domain conditions onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrSessionNotFound),
		errors.Is(err, ErrNoRecording),
		errors.Is(err, ErrNoMetadata):
		return http.StatusNotFound
	case errors.Is(err, ErrAmbiguousRecording):
		return http.StatusConflict
	case errors.Is(err, ErrIndexOutOfRange),
		errors.Is(err, ErrEmptyRange),
		errors.Is(err, ErrInvalidInterval),
		errors.Is(err, ErrInvalidMode),
		errors.Is(err, ErrUnknownSignalType):
		return http.StatusBadRequest
	case errors.Is(err, ErrInvalidSignal),
		errors.Is(err, ErrDetectionFailed),
		errors.Is(err, ErrCorruptRecord):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func sessionID(r *http.Request) SessionID {
	return SessionID(chi.URLParam(r, "session_id"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
