package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/onnwee/chatlens/analytics"
	"github.com/onnwee/chatlens/store"
	"github.com/onnwee/chatlens/telemetry"
	"github.com/onnwee/chatlens/twitchapi"
	"github.com/onnwee/chatlens/vod"
)

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	deps Deps
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(deps Deps) *Handlers {
	return &Handlers{deps: deps}
}

// enqueueStatus maps pipeline enqueue errors to HTTP status codes.
func enqueueStatus(err error) int {
	switch {
	case errors.Is(err, analytics.ErrInvalidMetricInput):
		return http.StatusBadRequest
	case errors.Is(err, vod.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, vod.ErrNotRetryable), errors.Is(err, vod.ErrRetryLimit):
		return http.StatusConflict
	case errors.Is(err, vod.ErrQueueFull), errors.Is(err, vod.ErrStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// HandleEnqueueBroadcast accepts {"vod": "<id or twitch.tv/videos URL>"} and queues collection.
func (h *Handlers) HandleEnqueueBroadcast(w http.ResponseWriter, r *http.Request) {
	var body struct {
		VOD string `json:"vod"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	id, err := twitchapi.ParseVideoID(body.VOD)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	jobID, err := h.deps.Pipeline.EnqueueCollectAndPersist(r.Context(), id)
	if err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("enqueue collect failed", slog.String("broadcast_id", id), slog.Any("err", err))
		writeError(w, enqueueStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "vod_id": id})
}

// HandleBroadcastFile returns the stored stream record of a broadcast.
func (h *Handlers) HandleBroadcastFile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	raw, err := h.deps.Store.GetRaw(store.Streams, id)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "no stored record for "+id)
		case errors.Is(err, store.ErrInvalidKey):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			telemetry.LoggerWithCorr(r.Context()).Error("read stream record failed", slog.String("broadcast_id", id), slog.Any("err", err))
			writeError(w, http.StatusInternalServerError, "failed to read stored record")
		}
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", id+".json"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

// HandleEnqueueAnalysis validates an analysis request and queues it.
func (h *Handlers) HandleEnqueueAnalysis(w http.ResponseWriter, r *http.Request) {
	var req analytics.Request
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	jobID, err := h.deps.Pipeline.EnqueueAnalyze(r.Context(), req)
	if err != nil {
		status := enqueueStatus(err)
		if status >= 500 {
			telemetry.LoggerWithCorr(r.Context()).Error("enqueue analysis failed", slog.Any("err", err))
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "success", "job_id": jobID})
}

// HandleJobState reports the state of a job.
func (h *Handlers) HandleJobState(w http.ResponseWriter, r *http.Request) {
	st, err := h.deps.Pipeline.GetJobState(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, vod.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// HandleJobRetry re-enqueues a failed job.
func (h *Handlers) HandleJobRetry(w http.ResponseWriter, r *http.Request) {
	jobID, err := h.deps.Pipeline.Resubmit(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, enqueueStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

// HandleWorkerStatus reports pool capacity and load.
func (h *Handlers) HandleWorkerStatus(w http.ResponseWriter, r *http.Request) {
	p := h.deps.Pipeline
	writeJSON(w, http.StatusOK, map[string]int{
		"active_tasks": p.ActiveJobCount(),
		"max_workers":  p.MaxWorkers(),
		"queue_depth":  p.QueueDepth(),
	})
}
