package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"contentengine/internal/control"
	"contentengine/internal/coordinator"
	"contentengine/internal/errs"
	"contentengine/internal/model"
	"contentengine/internal/scheduler"
)

type handlers struct {
	control *control.Control
	logger  *slog.Logger
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// statusForErr maps a control/runner error to an HTTP status using its
// errs.Kind, the way the teacher's Connect-RPC handlers map storage/chunk
// errors to connect.Code.
func statusForErr(err error) int {
	switch errs.KindOf(err) {
	case errs.KindConfigError, errs.KindUnknownSource:
		return http.StatusBadRequest
	case errs.KindCircuitOpen, errs.KindQuotaExhausted:
		return http.StatusServiceUnavailable
	case errs.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	report := h.control.Health(r.Context())
	status := http.StatusOK
	if !report.Healthy() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func (h *handlers) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.control.Stats(r.Context()))
}

func (h *handlers) countsByPlatform(w http.ResponseWriter, r *http.Request) {
	counts, err := h.control.CountsByPlatform(r.Context())
	if err != nil {
		writeError(w, statusForErr(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (h *handlers) recentActivity(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	kind := model.SourceKind(q.Get("kind"))
	if kind == "" {
		kind = model.SourceArticle
	}
	buckets, _ := strconv.Atoi(q.Get("buckets"))
	if buckets <= 0 {
		buckets = 24
	}
	bucketSize := time.Hour
	if raw := q.Get("bucket_size"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			bucketSize = d
		}
	}
	points, err := h.control.RecentActivity(r.Context(), kind, buckets, bucketSize)
	if err != nil {
		writeError(w, statusForErr(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, points)
}

func (h *handlers) languageDistribution(w http.ResponseWriter, r *http.Request) {
	dist, err := h.control.LanguageDistribution(r.Context())
	if err != nil {
		writeError(w, statusForErr(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, dist)
}

func (h *handlers) search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := q.Get("q")
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit <= 0 {
		limit = 20
	}
	results, err := h.control.SearchContent(r.Context(), query, limit)
	if err != nil {
		writeError(w, statusForErr(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// jobConfigRequest is the wire shape for PUT /jobs/{name}; it mirrors
// scheduler.JobConfig with JSON tags and durations expressed as Go
// duration strings ("1h", "90s") rather than nanosecond integers.
type jobConfigRequest struct {
	Queries      []coordinator.SourceQuery `json:"queries"`
	Interval     string                    `json:"interval"`
	MaxInstances int                       `json:"max_instances"`
	Coalesce     bool                      `json:"coalesce"`
	MisfireGrace string                    `json:"misfire_grace"`
	Jitter       string                    `json:"jitter"`
	StartDelay   string                    `json:"start_delay"`
}

func parseDuration(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	return time.ParseDuration(raw)
}

func (h *handlers) reconfigureJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var req jobConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	interval, err := parseDuration(req.Interval)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid interval")
		return
	}
	misfireGrace, err := parseDuration(req.MisfireGrace)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid misfire_grace")
		return
	}
	jitter, err := parseDuration(req.Jitter)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid jitter")
		return
	}
	startDelay, err := parseDuration(req.StartDelay)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid start_delay")
		return
	}

	cfg := scheduler.JobConfig{
		Name:         name,
		Queries:      req.Queries,
		Interval:     interval,
		MaxInstances: req.MaxInstances,
		Coalesce:     req.Coalesce,
		MisfireGrace: misfireGrace,
		Jitter:       jitter,
		StartDelay:   startDelay,
	}
	if err := h.control.ReconfigureJob(cfg); err != nil {
		writeError(w, statusForErr(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reconfigured"})
}

func (h *handlers) triggerJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	summary, err := h.control.TriggerJob(r.Context(), name)
	if err != nil {
		writeError(w, statusForErr(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *handlers) startScheduler(w http.ResponseWriter, r *http.Request) {
	if err := h.control.StartScheduler(); err != nil {
		writeError(w, statusForErr(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

func (h *handlers) stopScheduler(w http.ResponseWriter, r *http.Request) {
	wait := r.URL.Query().Get("wait") == "true"
	if err := h.control.StopScheduler(r.Context(), wait); err != nil {
		writeError(w, statusForErr(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

type resetFailuresRequest struct {
	Scope string `json:"scope"` // "global", "source", "keypool"
	Name  string `json:"name"`
}

func (h *handlers) resetFailures(w http.ResponseWriter, r *http.Request) {
	var req resetFailuresRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	var scope control.ResetScope
	switch req.Scope {
	case "global", "":
		scope = control.ResetScopeGlobal
	case "source":
		scope = control.ResetScopeSource
	case "keypool":
		scope = control.ResetScopeKeyPool
	default:
		writeError(w, http.StatusBadRequest, "unknown scope")
		return
	}
	if err := h.control.ResetFailures(r.Context(), scope, req.Name); err != nil {
		writeError(w, statusForErr(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

type adHocHarvestRequest struct {
	Source     string           `json:"source"`
	Kind       model.SourceKind `json:"kind"`
	Query      model.Query      `json:"query"`
	SourceType model.SourceType `json:"source_type"`
	Platform   string           `json:"platform"`
	Persist    bool             `json:"persist"`
}

func (h *handlers) adHocHarvest(w http.ResponseWriter, r *http.Request) {
	var req adHocHarvestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	report := h.control.AdHocHarvest(r.Context(), control.AdHocHarvestRequest{
		Source:     req.Source,
		Kind:       req.Kind,
		Query:      req.Query,
		SourceType: req.SourceType,
		Platform:   req.Platform,
		Persist:    req.Persist,
	})
	writeJSON(w, http.StatusOK, report)
}
