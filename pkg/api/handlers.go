package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"go.temporal.io/sdk/client"

	"dev/bravebird/site-smoke/pkg/database"
	"dev/bravebird/site-smoke/pkg/metrics"
	"dev/bravebird/site-smoke/pkg/models"
	"dev/bravebird/site-smoke/pkg/temporal/workflows"
)

// Options configures the handlers
type Options struct {
	TaskQueue     string
	DefaultURL    string
	ScreenshotDir string
	// StreamInterval is how often the run stream checks for changes
	StreamInterval time.Duration
}

// Handlers contains API handlers
type Handlers struct {
	db             *database.DB
	temporalClient client.Client
	metrics        *metrics.Metrics
	opts           Options
	upgrader       websocket.Upgrader
}

// NewHandlers creates new API handlers. db and m may be nil.
func NewHandlers(db *database.DB, temporalClient client.Client, m *metrics.Metrics, opts Options) *Handlers {
	if opts.StreamInterval <= 0 {
		opts.StreamInterval = 500 * time.Millisecond
	}
	return &Handlers{
		db:             db,
		temporalClient: temporalClient,
		metrics:        m,
		opts:           opts,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Router wires the handlers to their routes
func (h *Handlers) Router() *mux.Router {
	router := mux.NewRouter()

	// Health check
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods("GET")

	if h.metrics != nil {
		router.Handle("/metrics", h.metrics.Handler()).Methods("GET")
	}

	apiRouter := router.PathPrefix("/api").Subrouter()

	// Runs
	apiRouter.HandleFunc("/runs", h.ListRuns).Methods("GET")
	apiRouter.HandleFunc("/runs", h.StartRun).Methods("POST")
	apiRouter.HandleFunc("/runs/{id}", h.GetRun).Methods("GET")
	apiRouter.HandleFunc("/runs/{id}", h.DeleteRun).Methods("DELETE")
	apiRouter.HandleFunc("/runs/{id}/cancel", h.CancelRun).Methods("POST")

	// WebSocket for real-time updates
	apiRouter.HandleFunc("/runs/{id}/stream", h.StreamRunUpdates).Methods("GET")

	// Screenshots
	apiRouter.HandleFunc("/screenshots/{filename}", h.ServeScreenshot).Methods("GET")

	return router
}

// WorkflowID returns the Temporal workflow ID used for a run
func WorkflowID(runID string) string {
	return "smoke-" + runID
}

// ==================== Run Handlers ====================

// StartRun starts a smoke run through Temporal
func (h *Handlers) StartRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req models.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if req.URL == "" {
		req.URL = h.opts.DefaultURL
	}
	if err := validateTargetURL(req.URL); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	run := &models.SmokeRun{
		RunResult: models.RunResult{
			RunID:        uuid.New().String(),
			URL:          req.URL,
			Status:       models.StatusPending,
			LastProgress: -1,
		},
	}
	run.TemporalWorkflowID = WorkflowID(run.RunID)

	if h.db != nil {
		if err := h.db.CreateRun(ctx, run); err != nil {
			http.Error(w, "Failed to create run: "+err.Error(), http.StatusInternalServerError)
			return
		}
	}

	input := models.SmokeInput{
		RunID:    run.RunID,
		URL:      req.URL,
		Headless: req.Headless,
		Timeout:  req.Timeout,
	}

	we, err := h.temporalClient.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        run.TemporalWorkflowID,
		TaskQueue: h.opts.TaskQueue,
	}, workflows.SmokeTestWorkflow, input)
	if err != nil {
		if h.db != nil {
			if uerr := h.db.UpdateRunStatus(ctx, run.RunID, models.StatusFailed, "Failed to start workflow: "+err.Error()); uerr != nil {
				log.Warn().Err(uerr).Str("runID", run.RunID).Msg("Failed to mark run as failed")
			}
		}
		http.Error(w, "Failed to start workflow: "+err.Error(), http.StatusInternalServerError)
		return
	}

	run.TemporalRunID = we.GetRunID()
	if h.db != nil {
		if err := h.db.SetTemporalRunID(ctx, run.RunID, run.TemporalRunID); err != nil {
			log.Warn().Err(err).Str("runID", run.RunID).Msg("Failed to store Temporal run ID")
		}
	}

	h.metrics.RunStarted()
	log.Info().Str("runID", run.RunID).Str("url", run.URL).Str("workflowID", we.GetID()).Msg("Started smoke run")

	respondJSON(w, http.StatusAccepted, run)
}

// ListRuns lists recent runs
func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		http.Error(w, "Database not available", http.StatusServiceUnavailable)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := h.db.ListRuns(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []models.SmokeRun{}
	}

	respondJSON(w, http.StatusOK, runs)
}

// GetRun returns a run with its steps
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	if h.db == nil {
		// Without persistence the workflow itself is the source of truth
		result, err := h.queryProgress(ctx, id)
		if err != nil {
			http.Error(w, "Run not found", http.StatusNotFound)
			return
		}
		respondJSON(w, http.StatusOK, result)
		return
	}

	run, err := h.db.GetRun(ctx, id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if run == nil {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}

	steps, err := h.db.GetSteps(ctx, id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	run.Steps = steps

	respondJSON(w, http.StatusOK, run)
}

// DeleteRun deletes a stored run, its steps and its failure screenshot
func (h *Handlers) DeleteRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	if h.db == nil {
		http.Error(w, "Database not available", http.StatusServiceUnavailable)
		return
	}

	run, err := h.db.GetRun(ctx, id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if run == nil {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}

	if err := h.db.DeleteRun(ctx, id); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if run.ScreenshotPath != "" {
		path := filepath.Join(h.opts.ScreenshotDir, filepath.Base(run.ScreenshotPath))
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", path).Msg("Failed to remove screenshot")
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

// CancelRun cancels a running smoke run
func (h *Handlers) CancelRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	if err := h.temporalClient.CancelWorkflow(ctx, WorkflowID(id), ""); err != nil {
		http.Error(w, "Failed to cancel workflow: "+err.Error(), http.StatusInternalServerError)
		return
	}

	if h.db != nil {
		if err := h.db.UpdateRunStatus(ctx, id, models.StatusCanceled, "Cancelled by user"); err != nil {
			log.Warn().Err(err).Str("runID", id).Msg("Failed to mark run as canceled")
		}
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": string(models.StatusCanceled)})
}

// StreamRunUpdates streams run updates via WebSocket
func (h *Handlers) StreamRunUpdates(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// The hijacked connection does not cancel the request context, so a
	// failed read is what tells us the client has gone
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Poll for updates
	ticker := time.NewTicker(h.opts.StreamInterval)
	defer ticker.Stop()

	var last *models.RunUpdate

	for {
		update, ok := h.currentUpdate(ctx, id)
		if ok && (last == nil || update.Status != last.Status || update.LastProgress != last.LastProgress) {
			msg := models.WSMessage{Type: "run_update", Payload: update}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
			last = &update

			// Close if completed
			if update.Status.IsTerminal() {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"))
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// currentUpdate reads the latest run state from the database, falling back to the workflow query
func (h *Handlers) currentUpdate(ctx context.Context, id string) (models.RunUpdate, bool) {
	if h.db != nil {
		run, err := h.db.GetRun(ctx, id)
		if err == nil && run != nil {
			return models.RunUpdate{
				RunID:        id,
				Status:       run.Status,
				LastProgress: run.LastProgress,
				Outcome:      run.Outcome,
				ErrorMessage: run.ErrorMessage,
			}, true
		}
	}

	if h.temporalClient != nil {
		result, err := h.queryProgress(ctx, id)
		if err == nil {
			return models.RunUpdate{
				RunID:        id,
				Status:       result.Status,
				LastProgress: result.LastProgress,
				Outcome:      result.Outcome,
				ErrorMessage: result.ErrorMessage,
			}, true
		}
	}

	return models.RunUpdate{}, false
}

func (h *Handlers) queryProgress(ctx context.Context, id string) (models.RunResult, error) {
	var result models.RunResult
	resp, err := h.temporalClient.QueryWorkflow(ctx, WorkflowID(id), "", workflows.ProgressQuery)
	if err != nil {
		return result, err
	}
	err = resp.Get(&result)
	return result, err
}

// ==================== Screenshot Handlers ====================

// ServeScreenshot serves a failure screenshot
func (h *Handlers) ServeScreenshot(w http.ResponseWriter, r *http.Request) {
	filename := mux.Vars(r)["filename"]

	// Only files directly inside the screenshot directory are served
	filePath := filepath.Join(h.opts.ScreenshotDir, filepath.Base(filename))

	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		http.Error(w, "Screenshot not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	http.ServeFile(w, r, filePath)
}

// ==================== Helpers ====================

func validateTargetURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("url must be an absolute http(s) URL")
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
