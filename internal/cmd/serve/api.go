package serve

import (
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sectormem/sectormem/internal/engine"
	"github.com/sectormem/sectormem/internal/model"
	registrystore "github.com/sectormem/sectormem/internal/registry/store"
)

type api struct {
	engine *engine.Engine
}

func mountRoutes(router *gin.Engine, eng *engine.Engine) {
	a := &api{engine: eng}
	v1 := router.Group("/v1")

	v1.POST("/memories", a.addMemory)
	v1.GET("/memories", a.listMemories)
	v1.GET("/memories/:id", a.getMemory)
	v1.PATCH("/memories/:id", a.updateMemory)
	v1.DELETE("/memories/:id", a.deleteMemory)
	v1.POST("/memories/:id/reinforce", a.reinforce)
	v1.POST("/memories/:id/feedback", a.feedback)
	v1.GET("/memories/:id/neighbors", a.neighbors)

	v1.POST("/query", a.query)

	v1.POST("/reflections", a.startReflection)
	v1.GET("/reflections/tasks", a.listReflectionTasks)
	v1.GET("/reflections/tasks/:id", a.getReflectionTask)
	v1.GET("/reflections/recent", a.recentReflections)
	v1.POST("/reflections/search", a.searchReflections)

	v1.GET("/owners/:owner/summary", a.ownerSummary)
	v1.GET("/maintenance/logs", a.maintenanceLogs)
	v1.POST("/maintenance/decay", a.runDecay)
}

var ready atomic.Bool

func markReady() { ready.Store(true) }

func mountSystemRoutes(router *gin.Engine) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/ready", func(c *gin.Context) {
		if !ready.Load() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// writeError maps engine and store errors onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	var notFound *registrystore.NotFoundError
	var invalid *registrystore.ValidationError
	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"error": notFound.Error()})
	case errors.As(err, &invalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": invalid.Error()})
	case errors.Is(err, engine.ErrNoMemories):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, engine.ErrReflectionDisabled):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		log.Error("request failed", "path", c.Request.URL.Path, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// Memories

type addMemoryRequest struct {
	Content   string         `json:"content"`
	Owner     string         `json:"owner"`
	Segment   int            `json:"segment"`
	Tags      []string       `json:"tags"`
	Meta      map[string]any `json:"meta"`
	Salience  *float64       `json:"salience"`
	DecayRate *float64       `json:"decayRate"`
}

func (a *api) addMemory(c *gin.Context) {
	var req addMemoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	mem, err := a.engine.AddMemory(c.Request.Context(), engine.AddRequest{
		Content:   req.Content,
		Owner:     req.Owner,
		Segment:   req.Segment,
		Tags:      req.Tags,
		Meta:      req.Meta,
		Salience:  req.Salience,
		DecayRate: req.DecayRate,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, mem)
}

func (a *api) getMemory(c *gin.Context) {
	mem, err := a.engine.GetMemory(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if mem == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "memory not found"})
		return
	}
	c.JSON(http.StatusOK, mem)
}

func (a *api) listMemories(c *gin.Context) {
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)

	ctx := c.Request.Context()
	var mems []model.Memory
	var err error
	switch {
	case c.Query("sector") != "":
		mems, err = a.engine.ListBySector(ctx, model.Sector(c.Query("sector")), limit, offset)
	case c.Query("owner") != "":
		mems, err = a.engine.ListByOwner(ctx, c.Query("owner"), limit, offset)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "owner or sector query parameter is required"})
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"memories": mems})
}

type updateMemoryRequest struct {
	Content *string        `json:"content"`
	Tags    []string       `json:"tags"`
	Meta    map[string]any `json:"meta"`
}

func (a *api) updateMemory(c *gin.Context) {
	var req updateMemoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	mem, err := a.engine.UpdateMemory(c.Request.Context(), c.Param("id"), registrystore.MemoryUpdate{
		Content: req.Content,
		Tags:    req.Tags,
		Meta:    req.Meta,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, mem)
}

func (a *api) deleteMemory(c *gin.Context) {
	if err := a.engine.DeleteMemory(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *api) reinforce(c *gin.Context) {
	if err := a.engine.Reinforce(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type feedbackRequest struct {
	Delta float64 `json:"delta"`
}

func (a *api) feedback(c *gin.Context) {
	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := a.engine.Feedback(c.Request.Context(), c.Param("id"), req.Delta); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *api) neighbors(c *gin.Context) {
	waypoints, err := a.engine.Neighbors(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"neighbors": waypoints})
}

// Query

type queryRequest struct {
	Query       string         `json:"query"`
	K           int            `json:"k"`
	Sectors     []model.Sector `json:"sectors"`
	Owner       string         `json:"owner"`
	MinSalience float64        `json:"minSalience"`
	Since       *time.Time     `json:"since"`
	Until       *time.Time     `json:"until"`
	Reinforce   bool           `json:"reinforce"`
}

func (a *api) query(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	filters := engine.QueryFilters{
		Sectors:     req.Sectors,
		Owner:       req.Owner,
		MinSalience: req.MinSalience,
		Reinforce:   req.Reinforce,
	}
	if req.Since != nil {
		filters.Since = *req.Since
	}
	if req.Until != nil {
		filters.Until = *req.Until
	}
	results, err := a.engine.Query(c.Request.Context(), req.Query, req.K, filters)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

// Reflection

type startReflectionRequest struct {
	Owner       string `json:"owner"`
	WindowHours int    `json:"windowHours"`
}

func (a *api) startReflection(c *gin.Context) {
	var req startReflectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	task, err := a.engine.StartReflection(c.Request.Context(), req.Owner, req.WindowHours)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, task)
}

func (a *api) getReflectionTask(c *gin.Context) {
	task, err := a.engine.GetReflectionTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if task == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "reflection task not found"})
		return
	}
	c.JSON(http.StatusOK, task)
}

func (a *api) listReflectionTasks(c *gin.Context) {
	owner := c.Query("owner")
	if owner == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "owner query parameter is required"})
		return
	}
	tasks, err := a.engine.ListReflectionTasks(c.Request.Context(), owner)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

func (a *api) recentReflections(c *gin.Context) {
	owner := c.Query("owner")
	if owner == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "owner query parameter is required"})
		return
	}
	records, err := a.engine.RecentReflections(c.Request.Context(), owner, intQuery(c, "limit", 10))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reflections": records})
}

type searchReflectionsRequest struct {
	Owner         string  `json:"owner"`
	Query         string  `json:"query"`
	Limit         int     `json:"limit"`
	MinSimilarity float64 `json:"minSimilarity"`
}

func (a *api) searchReflections(c *gin.Context) {
	var req searchReflectionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	records, err := a.engine.SearchReflections(c.Request.Context(), req.Owner, req.Query, req.Limit, req.MinSimilarity)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reflections": records})
}

// Owners and maintenance

func (a *api) ownerSummary(c *gin.Context) {
	summary, err := a.engine.UserSummary(c.Request.Context(), c.Param("owner"))
	if err != nil {
		writeError(c, err)
		return
	}
	if summary == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no summary for owner"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (a *api) maintenanceLogs(c *gin.Context) {
	logs, err := a.engine.MaintenanceLogs(c.Request.Context(), intQuery(c, "limit", 20))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

func (a *api) runDecay(c *gin.Context) {
	updated, err := a.engine.DecayPass(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": updated})
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
