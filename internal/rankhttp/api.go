package rankhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/toptalkers/internal/log"
	"github.com/keithlinneman/toptalkers/internal/tracker"
)

// Source is the view of the tracker the API reads from.
type Source interface {
	Snapshot() []tracker.Entry
	Addresses() []string
	Distinct() int
	Capacity() int
	EpochStart() time.Time
	Reset()
}

// API implements the ranking API endpoints
type API struct {
	source  Source
	resetFn func(context.Context) error
	logger  log.Logger
}

// NewAPI creates a new ranking API handler. resetFn is invoked for
// POST /api/epoch/reset; pass nil to reset the source directly. Main
// passes the scheduler's reset here so manual resets also export a
// report when reports are enabled.
func NewAPI(source Source, resetFn func(context.Context) error, logger log.Logger) *API {
	if logger == nil {
		logger = log.Nop()
	}
	api := &API{
		source:  source,
		resetFn: resetFn,
		logger:  logger,
	}
	if api.resetFn == nil {
		api.resetFn = func(context.Context) error {
			source.Reset()
			return nil
		}
	}
	return api
}

// RegisterRoutes attaches ranking endpoints to the router
func (api *API) RegisterRoutes(r chi.Router) {
	r.Get("/api/top", api.HandleTop)
	r.Get("/api/top/detail", api.HandleTopDetail)
	r.Post("/api/epoch/reset", api.HandleEpochReset)
}

// TopResponse lists just the top addresses, busiest first.
type TopResponse struct {
	Addresses []string `json:"addresses"`
}

// TopDetailResponse is the full ranking with counts and epoch info.
type TopDetailResponse struct {
	EpochStart time.Time       `json:"epoch_start"`
	ServerTime time.Time       `json:"server_time"`
	Capacity   int             `json:"capacity"`
	Distinct   int             `json:"distinct"`
	Ranking    []tracker.Entry `json:"ranking"`
}

// EpochResetResponse acknowledges a manual epoch reset.
type EpochResetResponse struct {
	Status     string    `json:"status"`
	EpochStart time.Time `json:"epoch_start"`
}

// HandleTop serves the ranked address list
func (api *API) HandleTop(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	addrs := api.source.Addresses()
	if addrs == nil {
		addrs = []string{}
	}

	api.logger.Debug(ctx, "served top addresses", "n", len(addrs))
	api.writeJSON(ctx, w, http.StatusOK, TopResponse{Addresses: addrs})
}

// HandleTopDetail serves the ranking with counts and epoch metadata
func (api *API) HandleTopDetail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	snap := api.source.Snapshot()
	if snap == nil {
		snap = []tracker.Entry{}
	}

	resp := TopDetailResponse{
		EpochStart: api.source.EpochStart().UTC().Truncate(time.Second),
		ServerTime: time.Now().UTC().Truncate(time.Second),
		Capacity:   api.source.Capacity(),
		Distinct:   api.source.Distinct(),
		Ranking:    snap,
	}

	api.logger.Debug(ctx, "served ranking detail",
		"distinct", resp.Distinct,
		"ranked", len(snap),
	)
	api.writeJSON(ctx, w, http.StatusOK, resp)
}

// HandleEpochReset drops all counts and starts a fresh epoch
func (api *API) HandleEpochReset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := api.resetFn(ctx); err != nil {
		api.logger.Error(ctx, err, "manual epoch reset failed")
		http.Error(w, `{"error":"reset failed"}`, http.StatusInternalServerError)
		return
	}

	api.logger.Info(ctx, "epoch reset via API")
	api.writeJSON(ctx, w, http.StatusAccepted, EpochResetResponse{
		Status:     "reset",
		EpochStart: api.source.EpochStart().UTC().Truncate(time.Second),
	})
}

func (api *API) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		api.logger.Warn(ctx, "failed to encode JSON response", "error", err)
	}
}
