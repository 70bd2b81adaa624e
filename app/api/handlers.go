package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lysyi3m/feedhoard/app/database"
	"github.com/lysyi3m/feedhoard/app/health"
	"github.com/lysyi3m/feedhoard/app/queue"
	"github.com/lysyi3m/feedhoard/app/search"
	"github.com/lysyi3m/feedhoard/app/tasks"
)

const defaultDeadLetterLimit = 100

func NewHandler(deps Deps) *Handler {
	return &Handler{
		sources:     deps.Sources,
		entries:     deps.Entries,
		deadLetters: deps.DeadLetters,
		guard:       deps.Guard,
		scheduler:   deps.Scheduler,
		queue:       deps.Queue,
		searcher:    deps.Searcher,
		indexer:     deps.Indexer,
		version:     deps.Version,
	}
}

func (h *Handler) GetHealth(c *gin.Context) {
	status := map[string]interface{}{
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
		"version":   h.version,
	}

	sources, err := h.sources.ListSources(c.Request.Context())
	if err != nil {
		slog.Error("Database error", "operation", "list_sources", "error", err)
		status["status"] = "degraded"
		c.JSON(http.StatusServiceUnavailable, status)
		return
	}

	states := map[health.State]int{
		health.StateHealthy:     0,
		health.StateDegraded:    0,
		health.StateDeactivated: 0,
	}
	for _, s := range sources {
		states[health.Derive(s.ConsecutiveFailures, s.IsActive)]++
	}

	status["status"] = "ok"
	status["sources"] = map[string]interface{}{
		"total":  len(sources),
		"states": states,
	}

	if pending, err := h.queue.Len(c.Request.Context()); err == nil {
		status["queue_length"] = pending
	} else {
		slog.Warn("Failed to read queue length", "error", err)
	}

	c.JSON(http.StatusOK, status)
}

func (h *Handler) Search(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit parameter"})
			return
		}
		limit = n
	}

	resp, err := h.searcher.Search(c.Request.Context(), c.Query("q"), limit)
	switch {
	case errors.Is(err, search.ErrEmptyQuery), errors.Is(err, search.ErrQueryTooLong):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, search.ErrUnavailable):
		slog.Error("Search unavailable", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Search unavailable"})
		return
	case err != nil:
		slog.Error("Search failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Search failed"})
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *Handler) APIListSources(c *gin.Context) {
	sources, err := h.sources.ListSources(c.Request.Context())
	if err != nil {
		slog.Error("Database error", "operation", "list_sources", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	out := make([]SourceResponse, 0, len(sources))
	for _, s := range sources {
		out = append(out, newSourceResponse(s))
	}

	c.JSON(http.StatusOK, gin.H{
		"sources": out,
		"total":   len(out),
	})
}

func (h *Handler) APICreateSource(c *gin.Context) {
	var req CreateSourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	ctx := c.Request.Context()

	u, err := h.guard.Validate(ctx, req.URL)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "URL rejected", "details": err.Error()})
		return
	}

	source, err := h.sources.CreateSource(ctx, u.String(), req.Title)
	if errors.Is(err, database.ErrSourceExists) {
		c.JSON(http.StatusConflict, gin.H{"error": "Source already exists"})
		return
	}
	if err != nil {
		slog.Error("Database error", "operation", "create_source", "url", u.String(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	if err := h.scheduler.TriggerSource(ctx, source.ID); err != nil {
		slog.Warn("Failed to enqueue new source", "source_id", source.ID, "error", err)
	}

	slog.Info("Source created", "source_id", source.ID, "url", source.URL)
	c.JSON(http.StatusCreated, newSourceResponse(*source))
}

func (h *Handler) APIGetSource(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	source, ok := h.loadSource(c, id)
	if !ok {
		return
	}

	resp := newSourceResponse(*source)
	if count, err := h.entries.CountEntries(c.Request.Context(), id); err == nil {
		resp.EntryCount = &count
	} else {
		slog.Error("Database error", "operation", "count_entries", "source_id", id, "error", err)
	}

	c.JSON(http.StatusOK, resp)
}

func (h *Handler) APIDeleteSource(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()

	entryIDs, err := h.sources.DeleteSource(ctx, id)
	if errors.Is(err, database.ErrSourceNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Source not found"})
		return
	}
	if err != nil {
		slog.Error("Database error", "operation", "delete_source", "source_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	if h.indexer != nil && len(entryIDs) > 0 {
		if err := h.indexer.Delete(ctx, entryIDs); err != nil {
			slog.Error("Failed to delete vectors of removed source", "source_id", id, "count", len(entryIDs), "error", err)
		}
	}

	slog.Info("Source deleted", "source_id", id, "entries", len(entryIDs))
	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"deleted_entries": len(entryIDs),
	})
}

func (h *Handler) APIReactivateSource(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	err := h.sources.Reactivate(c.Request.Context(), id)
	if errors.Is(err, database.ErrSourceNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Source not found"})
		return
	}
	if err != nil {
		slog.Error("Database error", "operation", "reactivate_source", "source_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	source, ok := h.loadSource(c, id)
	if !ok {
		return
	}

	slog.Info("Source reactivated", "source_id", id)
	c.JSON(http.StatusOK, newSourceResponse(*source))
}

func (h *Handler) APIRefreshSource(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	err := h.scheduler.TriggerSource(c.Request.Context(), id)
	switch {
	case errors.Is(err, database.ErrSourceNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Source not found"})
	case errors.Is(err, tasks.ErrSourceInactive):
		c.JSON(http.StatusConflict, gin.H{"error": "Source is deactivated, reactivate it first"})
	case err != nil:
		slog.Error("Error enqueueing ingestion job", "source_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to enqueue job", "details": err.Error()})
	default:
		c.JSON(http.StatusAccepted, gin.H{"success": true, "message": "Refresh enqueued"})
	}
}

func (h *Handler) APIListDeadLetters(c *gin.Context) {
	limit := defaultDeadLetterLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit parameter"})
			return
		}
		limit = n
	}

	letters, err := h.deadLetters.ListDeadLetters(c.Request.Context(), limit)
	if err != nil {
		slog.Error("Database error", "operation", "list_dead_letters", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"dead_letters": letters,
		"total":        len(letters),
	})
}

// APIRetryDeadLetter re-enqueues the stored job as a fresh first attempt and
// removes the dead letter.
func (h *Handler) APIRetryDeadLetter(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()

	dl, ok := h.loadDeadLetter(c, id)
	if !ok {
		return
	}

	var job queue.Job
	if err := json.Unmarshal(dl.Payload, &job); err != nil {
		slog.Error("Invalid dead letter payload", "dead_letter_id", id, "error", err)
		job = queue.NewJob(dl.SourceID, dl.URL, "", "")
	}
	job.Attempt = 0
	job.LastError = ""
	job.EnqueuedAt = time.Now().UTC()

	if err := h.queue.Enqueue(ctx, job); err != nil {
		slog.Error("Error enqueueing dead letter", "dead_letter_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to enqueue job", "details": err.Error()})
		return
	}

	if err := h.deadLetters.DeleteDeadLetter(ctx, id); err != nil {
		slog.Error("Database error", "operation", "delete_dead_letter", "dead_letter_id", id, "error", err)
	}

	slog.Info("Dead letter retried", "dead_letter_id", id, "job_id", job.ID, "source_id", job.SourceID)
	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"job_id":  job.ID,
	})
}

func (h *Handler) APIDeleteDeadLetter(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	if _, ok := h.loadDeadLetter(c, id); !ok {
		return
	}

	if err := h.deadLetters.DeleteDeadLetter(c.Request.Context(), id); err != nil {
		slog.Error("Database error", "operation", "delete_dead_letter", "dead_letter_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) loadSource(c *gin.Context, id int64) (*database.Source, bool) {
	source, err := h.sources.GetSource(c.Request.Context(), id)
	if errors.Is(err, database.ErrSourceNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Source not found"})
		return nil, false
	}
	if err != nil {
		slog.Error("Database error", "operation", "get_source", "source_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return nil, false
	}
	return source, true
}

func (h *Handler) loadDeadLetter(c *gin.Context, id int64) (*database.DeadLetter, bool) {
	dl, err := h.deadLetters.GetDeadLetter(c.Request.Context(), id)
	if err != nil {
		slog.Error("Database error", "operation", "get_dead_letter", "dead_letter_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return nil, false
	}
	if dl == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Dead letter not found"})
		return nil, false
	}
	return dl, true
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid id parameter"})
		return 0, false
	}
	return id, true
}
