package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/tg-ingest/internal/ingest"
	"github.com/JakeFAU/tg-ingest/internal/store"
)

const (
	defaultCycleLimit   = 50
	maxCycleLimit       = 500
	defaultChannelLimit = 100
	maxChannelLimit     = 1000
	cycleTimeout        = 3 * time.Second
)

// CycleHandler exposes read-only cycle history endpoints.
type CycleHandler struct {
	repo    store.CycleRepository
	timeout time.Duration
	logger  *zap.Logger
}

// NewCycleHandler wires the repository and logger.
func NewCycleHandler(repo store.CycleRepository, logger *zap.Logger) *CycleHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CycleHandler{
		repo:    repo,
		timeout: cycleTimeout,
		logger:  logger,
	}
}

// ListCycles handles GET /v1/cycles?status=&limit=&offset=. It returns
// {"cycles": [...]} on success, 400 for invalid filters, 503 when the repo is
// unavailable, or 500 if the repository call fails.
func (h *CycleHandler) ListCycles(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "cycle repository unavailable")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultCycleLimit, maxCycleLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var status *store.CycleStatus
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		val, parseErr := parseStatus(raw)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, parseErr.Error())
			return
		}
		status = &val
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	cycles, err := h.repo.ListCycles(ctx, status, limit, offset)
	if err != nil {
		h.logger.Error("list cycles failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list cycles")
		return
	}
	out := make([]cycleDTO, 0, len(cycles))
	for _, c := range cycles {
		out = append(out, toCycleDTO(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"cycles": out})
}

// GetCycle handles GET /v1/cycles/{cycle_id}. 404 when the repository reports
// store.ErrNotFound.
func (h *CycleHandler) GetCycle(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "cycle repository unavailable")
		return
	}
	id, err := parseCycleID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	cycle, err := h.repo.GetCycle(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "cycle not found")
			return
		}
		h.logger.Error("get cycle failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load cycle")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cycle": toCycleDTO(cycle)})
}

// ListCycleChannels handles GET /v1/cycles/{cycle_id}/channels?limit=&offset=.
func (h *CycleHandler) ListCycleChannels(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "cycle repository unavailable")
		return
	}
	id, err := parseCycleID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultChannelLimit, maxChannelLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	channels, err := h.repo.ListCycleChannels(ctx, id, limit, offset)
	if err != nil {
		h.logger.Error("list cycle channels failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list cycle channels")
		return
	}
	out := make([]channelDTO, 0, len(channels))
	for _, c := range channels {
		out = append(out, channelDTO{
			Channel:    c.Channel,
			LastUpdate: c.LastUpdate,
			New:        c.New,
			Duplicate:  c.Duplicate,
			Images:     c.Images,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"channels": out})
}

func parseCycleID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "cycle_id")
	if raw == "" {
		return uuid.UUID{}, errors.New("cycle_id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, errors.New("invalid cycle_id")
	}
	return id, nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		limit = min(val, maxLimit)
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func parseStatus(input string) (store.CycleStatus, error) {
	switch strings.ToLower(input) {
	case "running":
		return store.CycleRunning, nil
	case "success":
		return store.CycleSuccess, nil
	case "error", "failed", "failure":
		return store.CycleError, nil
	default:
		return "", errors.New("invalid status")
	}
}

func toCycleDTO(c store.CycleRun) cycleDTO {
	return cycleDTO{
		ID:         c.ID.String(),
		StartedAt:  c.StartedAt,
		FinishedAt: c.FinishedAt,
		Status:     string(c.Status),
		Error:      c.ErrorMessage,
		Stats:      c.Stats,
	}
}

type cycleDTO struct {
	ID         string            `json:"id"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
	Status     string            `json:"status"`
	Error      *string           `json:"error,omitempty"`
	Stats      ingest.CycleStats `json:"stats"`
}

type channelDTO struct {
	Channel    string    `json:"channel"`
	LastUpdate time.Time `json:"last_update"`
	New        int64     `json:"new"`
	Duplicate  int64     `json:"duplicate"`
	Images     int64     `json:"images"`
}
