package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/vatledger/engine/pkg/response"
)

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

// DatabaseCheck pings the connection pool behind db.
func DatabaseCheck(db *gorm.DB) HealthCheck {
	return func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return fmt.Errorf("failed to get sql.DB: %w", err)
		}
		return sqlDB.PingContext(ctx)
	}
}

// RedisCheck pings the rate cache server.
func RedisCheck(client *redis.Client) HealthCheck {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}

// JobSchedule is the read side of the background scheduler.
type JobSchedule interface {
	JobNames() []string
	NextRun(name string) (time.Time, error)
}

type JobStatus struct {
	Name    string    `json:"name"`
	NextRun time.Time `json:"next_run"`
}

// OpsHandler serves the operational endpoints: health, metrics and job schedule.
type OpsHandler struct {
	checks       map[string]HealthCheck
	jobs         JobSchedule
	gatherer     prometheus.Gatherer
	checkTimeout time.Duration
}

// NewOpsHandler creates the handler. jobs may be nil when the scheduler is disabled.
func NewOpsHandler(gatherer prometheus.Gatherer, jobs JobSchedule, checks map[string]HealthCheck) *OpsHandler {
	return &OpsHandler{
		checks:       checks,
		jobs:         jobs,
		gatherer:     gatherer,
		checkTimeout: 2 * time.Second,
	}
}

func (h *OpsHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/health", h.Health)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	router.GET("/jobs", h.ListJobs)
	router.GET("/jobs/:name", h.GetJob)
}

// Health runs every dependency check and answers 503 when any fails.
func (h *OpsHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.checkTimeout)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			results[name] = err.Error()
			continue
		}
		results[name] = "OK"
	}

	if status != http.StatusOK {
		resp := response.Error(status, "dependency check failed")
		resp.Data = results
		c.JSON(status, resp)
		return
	}
	c.JSON(status, response.Success(status, results))
}

func (h *OpsHandler) ListJobs(c *gin.Context) {
	jobs := []JobStatus{}
	if h.jobs != nil {
		for _, name := range h.jobs.JobNames() {
			next, err := h.jobs.NextRun(name)
			if err != nil {
				resp := response.FromError(err)
				c.JSON(resp.StatusCode, resp)
				return
			}
			jobs = append(jobs, JobStatus{Name: name, NextRun: next})
		}
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, jobs))
}

func (h *OpsHandler) GetJob(c *gin.Context) {
	if h.jobs == nil {
		c.JSON(http.StatusNotFound, response.Error(http.StatusNotFound, "scheduler is disabled"))
		return
	}
	name := c.Param("name")
	next, err := h.jobs.NextRun(name)
	if err != nil {
		resp := response.FromError(err)
		c.JSON(resp.StatusCode, resp)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, JobStatus{Name: name, NextRun: next}))
}
