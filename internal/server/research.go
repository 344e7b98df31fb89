package server

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/compendium/internal/store"
)

// ResearchHandler exposes document CRUD and the research session API.
type ResearchHandler struct {
	Engine *Engine
	Store  *store.Store
}

func (h *ResearchHandler) Register(api *echo.Group, secret []byte) {
	auth := func(next echo.HandlerFunc) echo.HandlerFunc { return withAuth(next, secret) }

	docs := api.Group("/documents")
	docs.Use(auth)
	docs.POST("", h.createDocument)
	docs.GET("", h.listDocuments)
	docs.GET("/:id", h.getDocument)
	docs.PUT("/:id", h.updateDocument)
	docs.POST("/:id/research", h.startResearch)
	docs.POST("/:id/report", h.buildReport)
	docs.GET("/:id/sessions", h.listSessions)

	res := api.Group("/research")
	res.Use(auth)
	res.GET("/:sessionID", h.getSession)
	res.DELETE("/:sessionID/jobs/:jobID", h.cancelJob)
	res.POST("/:sessionID/retry", h.retrySession)
	res.GET("/:sessionID/sources/search", h.searchSources)
	res.GET("/:sessionID/results", h.listResults)

	workers := api.Group("/workers")
	workers.Use(auth)
	workers.GET("", h.workers)
}

func (h *ResearchHandler) createDocument(c echo.Context) error {
	var req DocumentCreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Title == "" || req.Purpose == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "title and purpose are required")
	}
	id, err := h.Store.CreateDocument(c.Request().Context(), userID(c), req.Title, req.Purpose)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if req.RefreshCron != "" {
		if err := h.Store.SetDocumentCron(c.Request().Context(), userID(c), id, req.RefreshCron); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	return c.JSON(http.StatusCreated, map[string]string{"id": id})
}

func (h *ResearchHandler) listDocuments(c echo.Context) error {
	docs, err := h.Store.ListDocuments(c.Request().Context(), userID(c))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if docs == nil {
		docs = []store.Document{}
	}
	return c.JSON(http.StatusOK, docs)
}

func (h *ResearchHandler) getDocument(c echo.Context) error {
	doc, err := h.Store.GetDocument(c.Request().Context(), userID(c), c.Param("id"))
	if errors.Is(err, sql.ErrNoRows) {
		return echo.NewHTTPError(http.StatusNotFound, "document not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, doc)
}

func (h *ResearchHandler) updateDocument(c echo.Context) error {
	var req DocumentUpdateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	if req.Purpose != nil {
		if err := h.Store.UpdateDocumentPurpose(ctx, userID(c), c.Param("id"), *req.Purpose); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return echo.NewHTTPError(http.StatusNotFound, "document not found")
			}
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	if req.RefreshCron != nil {
		if err := h.Store.SetDocumentCron(ctx, userID(c), c.Param("id"), *req.RefreshCron); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return echo.NewHTTPError(http.StatusNotFound, "document not found")
			}
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	return c.NoContent(http.StatusOK)
}

func (h *ResearchHandler) startResearch(c echo.Context) error {
	var req ResearchStartRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	doc, err := h.Store.GetDocument(c.Request().Context(), userID(c), c.Param("id"))
	if errors.Is(err, sql.ErrNoRows) {
		return echo.NewHTTPError(http.StatusNotFound, "document not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	sess, jobs, err := h.Engine.StartResearch(c.Request().Context(), doc, req)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusAccepted, ResearchStartResponse{
		SessionID:  sess.ID(),
		DocumentID: doc.ID,
		Jobs:       jobs,
		StartedAt:  time.Now(),
	})
}

// buildReport runs the full research flow synchronously and returns the
// assembled report. Long-running; intended for CLI and batch callers.
func (h *ResearchHandler) buildReport(c echo.Context) error {
	doc, err := h.Store.GetDocument(c.Request().Context(), userID(c), c.Param("id"))
	if errors.Is(err, sql.ErrNoRows) {
		return echo.NewHTTPError(http.StatusNotFound, "document not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	report, err := h.Engine.BuildReport(c.Request().Context(), doc)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, report)
}

func (h *ResearchHandler) listSessions(c echo.Context) error {
	// ownership check rides on GetDocument
	doc, err := h.Store.GetDocument(c.Request().Context(), userID(c), c.Param("id"))
	if errors.Is(err, sql.ErrNoRows) {
		return echo.NewHTTPError(http.StatusNotFound, "document not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	sessions, err := h.Store.ListSessionsByDocument(c.Request().Context(), doc.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if sessions == nil {
		sessions = []store.SessionRecord{}
	}
	return c.JSON(http.StatusOK, sessions)
}

// getSession prefers the live in-memory session and falls back to the
// persisted record for finished or pre-restart sessions.
func (h *ResearchHandler) getSession(c echo.Context) error {
	id := c.Param("sessionID")
	if sess, ok := h.Engine.Session(id); ok {
		return c.JSON(http.StatusOK, SessionResponse{Snapshot: sess.Snapshot(), Live: true})
	}
	if h.Store != nil {
		rec, err := h.Store.GetSession(c.Request().Context(), id)
		if err == nil {
			return c.JSON(http.StatusOK, SessionResponse{Snapshot: rec.Snapshot, Live: false})
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	return echo.NewHTTPError(http.StatusNotFound, "session not found")
}

func (h *ResearchHandler) cancelJob(c echo.Context) error {
	sess, ok := h.Engine.Session(c.Param("sessionID"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	jobID := c.Param("jobID")
	owned := false
	for _, jv := range sess.Snapshot().Jobs {
		if jv.Job.ID == jobID {
			owned = true
			break
		}
	}
	if !owned {
		return echo.NewHTTPError(http.StatusNotFound, "job not found in session")
	}
	if !h.Engine.Pool.Cancel(jobID) {
		return echo.NewHTTPError(http.StatusConflict, "job is not active")
	}
	return c.NoContent(http.StatusAccepted)
}

func (h *ResearchHandler) retrySession(c echo.Context) error {
	requeued, err := h.Engine.RetryFailed(c.Param("sessionID"))
	if errors.Is(err, ErrUnknownSession) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return c.JSON(http.StatusOK, RetryResponse{Requeued: requeued})
}

func (h *ResearchHandler) workers(c echo.Context) error {
	return c.JSON(http.StatusOK, WorkersResponse{Pool: h.Engine.Pool.Status()})
}

func (h *ResearchHandler) searchSources(c echo.Context) error {
	q := c.QueryParam("q")
	if q == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q is required")
	}
	k := 10
	if raw := c.QueryParam("k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "k must be a positive integer")
		}
		k = n
	}
	hits, err := h.Engine.Archive.Search(c.Param("sessionID"), q, k)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, SourceSearchResponse{Query: q, Hits: hits})
}

func (h *ResearchHandler) listResults(c echo.Context) error {
	if h.Store == nil {
		return echo.NewHTTPError(http.StatusNotFound, "persistence disabled")
	}
	results, err := h.Store.ListSectionResults(c.Request().Context(), c.Param("sessionID"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if results == nil {
		results = []store.SectionResult{}
	}
	return c.JSON(http.StatusOK, results)
}
