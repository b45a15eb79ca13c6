package admin

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	hpprof "net/http/pprof"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lanework/internal/job"
	"lanework/internal/job/trigger"
	rtsup "lanework/internal/runtime/supervisor"
	"lanework/internal/storage"
	logx "lanework/pkg/logx"
)

const (
	defaultRunsLimit = 50
	maxRunsLimit     = 1000
)

// Scheduler is the read side of job.Scheduler.
type Scheduler interface {
	Snapshot() job.Snapshot
	Supervisor() *rtsup.Supervisor
}

type Triggers interface {
	Snapshot() []trigger.Info
	RunNow(name string) error
}

// Deps are the components the admin endpoints read from. Everything except
// Scheduler is optional.
type Deps struct {
	Scheduler Scheduler
	Triggers  Triggers
	Store     storage.Store
	Gatherer  prometheus.Gatherer
	// Health reports a fatal error from the surrounding daemon, if any.
	Health func() error
}

type handlers struct {
	d   Deps
	log logx.Logger
}

// NewRouter builds the admin HTTP handler.
func NewRouter(cfg Config, d Deps, log logx.Logger) *gin.Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	h := &handlers{d: d, log: log}

	r := gin.New()
	r.Use(gin.Recovery(), requestLog(log))
	if tok := strings.TrimSpace(cfg.Token); tok != "" {
		r.Use(tokenAuth(tok))
	}

	r.GET("/healthz", h.health)
	r.GET("/lanes", h.lanes)
	r.GET("/triggers", h.triggers)
	r.POST("/triggers/:name/run", h.runTrigger)
	r.GET("/runs", h.runs)
	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}
	if cfg.Pprof {
		r.GET("/debug/pprof/*name", pprofHandler)
		r.POST("/debug/pprof/*name", pprofHandler)
	}
	return r
}

func (h *handlers) health(c *gin.Context) {
	body := gin.H{"status": "ok"}
	code := http.StatusOK
	if h.d.Scheduler != nil {
		body["running"] = h.d.Scheduler.Snapshot().Running
		if sup := h.d.Scheduler.Supervisor(); sup != nil {
			snap := sup.Snapshot()
			body["workers"] = snap
			if snap.FirstError != "" {
				body["worker_error"] = snap.FirstError
			}
		}
	}
	if h.d.Health != nil {
		if err := h.d.Health(); err != nil {
			code = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["error"] = err.Error()
		}
	}
	c.JSON(code, body)
}

func (h *handlers) lanes(c *gin.Context) {
	if h.d.Scheduler == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "scheduler unavailable"})
		return
	}
	c.JSON(http.StatusOK, h.d.Scheduler.Snapshot())
}

func (h *handlers) triggers(c *gin.Context) {
	out := []trigger.Info{}
	if h.d.Triggers != nil {
		out = append(out, h.d.Triggers.Snapshot()...)
	}
	c.JSON(http.StatusOK, out)
}

func (h *handlers) runTrigger(c *gin.Context) {
	name := c.Param("name")
	if h.d.Triggers == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": trigger.ErrNotFound.Error()})
		return
	}
	err := h.d.Triggers.RunNow(name)
	switch {
	case err == nil:
		h.log.Info("trigger run requested", logx.String("name", name))
		c.JSON(http.StatusAccepted, gin.H{"queued": name})
	case errors.Is(err, trigger.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, job.ErrDuplicate):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, job.ErrNotRunning), errors.Is(err, job.ErrStopping):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (h *handlers) runs(c *gin.Context) {
	limit := defaultRunsLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxRunsLimit)
	}
	if h.d.Store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": storage.ErrDisabled.Error()})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	runs, err := h.d.Store.RecentRuns(ctx, limit)
	if err != nil {
		h.log.Warn("run history query failed", logx.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if runs == nil {
		runs = []storage.RunRecord{}
	}
	c.JSON(http.StatusOK, runs)
}

// pprofHandler serves net/http/pprof under /debug/pprof/. Index resolves
// named profiles from the request path itself.
func pprofHandler(c *gin.Context) {
	switch c.Param("name") {
	case "/cmdline":
		hpprof.Cmdline(c.Writer, c.Request)
	case "/profile":
		hpprof.Profile(c.Writer, c.Request)
	case "/symbol":
		hpprof.Symbol(c.Writer, c.Request)
	case "/trace":
		hpprof.Trace(c.Writer, c.Request)
	default:
		hpprof.Index(c.Writer, c.Request)
	}
}

// tokenAuth accepts "Authorization: Bearer <token>" or ?token=<token>.
func tokenAuth(token string) gin.HandlerFunc {
	want := []byte(token)
	match := func(got string) bool {
		return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), want) == 1
	}
	return func(c *gin.Context) {
		if got := c.Query("token"); got != "" {
			if match(got) {
				c.Next()
				return
			}
			unauthorized(c)
			return
		}
		const p = "Bearer "
		if ah := c.GetHeader("Authorization"); strings.HasPrefix(ah, p) && match(strings.TrimPrefix(ah, p)) {
			c.Next()
			return
		}
		unauthorized(c)
	}
}

func unauthorized(c *gin.Context) {
	c.Header("WWW-Authenticate", "Bearer")
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
}

func requestLog(log logx.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("admin request",
			logx.String("method", c.Request.Method),
			logx.String("path", c.Request.URL.Path),
			logx.Int("status", c.Writer.Status()),
			logx.Duration("took", time.Since(start)),
		)
	}
}
