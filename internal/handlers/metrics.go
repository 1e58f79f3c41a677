package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/corpai/tggateway/internal/metrics"
)

type JobStatus struct {
	Status string `json:"status"`
}

// MetricsHandler exposes the registry and edits the scrape-job file.
type MetricsHandler struct {
	metrics *metrics.Metrics
	jobs    *metrics.JobStore
	logger  *slog.Logger
}

func NewMetricsHandler(log *slog.Logger, m *metrics.Metrics, jobs *metrics.JobStore) *MetricsHandler {
	if log == nil {
		log = slog.Default()
	}
	return &MetricsHandler{metrics: m, jobs: jobs, logger: log.With(slog.String("handler", "metrics"))}
}

func (h *MetricsHandler) Register(e *echo.Echo) {
	e.GET("/metrics", echo.WrapHandler(h.metrics.Handler()))
	e.GET("/metrics/jobs", h.ListJobs)
	e.POST("/metrics/jobs", h.AddJob)
	e.DELETE("/metrics/jobs/:job", h.DeleteJob)
}

// ListJobs godoc
// @Summary List scrape jobs
// @Tags metrics
// @Success 200 {array} metrics.Job
// @Router /metrics/jobs [get]
func (h *MetricsHandler) ListJobs(c echo.Context) error {
	jobs, err := h.jobs.List()
	if err != nil {
		h.logger.Error("list jobs failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, jobs)
}

// AddJob godoc
// @Summary Add a scrape job
// @Tags metrics
// @Param payload body metrics.Job true "Job"
// @Success 200 {object} JobStatus
// @Router /metrics/jobs [post]
func (h *MetricsHandler) AddJob(c echo.Context) error {
	var job metrics.Job
	if err := bindValid(c, &job); err != nil {
		return err
	}
	err := h.jobs.Add(job)
	switch {
	case errors.Is(err, metrics.ErrJobExists):
		return c.JSON(http.StatusOK, JobStatus{Status: "already exists"})
	case errors.Is(err, metrics.ErrInvalidJob):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case err != nil:
		h.logger.Error("add job failed", slog.String("job", job.Job), slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, JobStatus{Status: "added"})
}

// DeleteJob godoc
// @Summary Delete a scrape job
// @Tags metrics
// @Param job path string true "Job name"
// @Success 200 {object} JobStatus
// @Failure 404 {object} ErrorResponse
// @Router /metrics/jobs/{job} [delete]
func (h *MetricsHandler) DeleteJob(c echo.Context) error {
	name := strings.TrimSpace(c.Param("job"))
	err := h.jobs.Delete(name)
	switch {
	case errors.Is(err, metrics.ErrJobNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case err != nil:
		h.logger.Error("delete job failed", slog.String("job", name), slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, JobStatus{Status: "deleted"})
}
