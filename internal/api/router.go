package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"evalplane/internal/logging"
	"evalplane/internal/services"
	"evalplane/internal/store"
)

// maxJobSpecBytes bounds POST /api/runs bodies.
const maxJobSpecBytes = 1 << 20

// StatusFunc reports daemon status for GET /api/status.
type StatusFunc func(ctx context.Context) DaemonStatus

// RouterOptions wires the router to its services.
type RouterOptions struct {
	Runs    *RunService
	Catalog *CatalogService
	Status  StatusFunc
	Token   string
	Logger  *slog.Logger
}

type handler struct {
	runs    *RunService
	catalog *CatalogService
	status  StatusFunc
	logger  *slog.Logger
}

// NewRouter builds the gin engine serving every evalplane route.
func NewRouter(opts RouterOptions) *gin.Engine {
	logger := logging.NewComponentLogger(opts.Logger, "api")
	h := &handler{runs: opts.Runs, catalog: opts.Catalog, status: opts.Status, logger: logger}

	r := gin.New()
	r.Use(gin.Recovery(), requestID(), accessLog(logger))

	r.GET("/health", h.health)

	api := r.Group("/api", bearerAuth(opts.Token))
	{
		api.GET("/status", h.daemonStatus)

		benchmarks := api.Group("/benchmarks")
		{
			benchmarks.GET("", h.listBenchmarks)
			benchmarks.GET("/:benchmarkKey", h.getBenchmark)
			benchmarks.GET("/:benchmarkKey/inspect", h.inspectBenchmark)
		}

		packs := api.Group("/packs")
		{
			packs.GET("", h.listPacks)
			packs.GET("/:packId", h.getPack)
		}

		runs := api.Group("/runs")
		{
			runs.GET("", h.listRuns)
			runs.POST("", h.submitRun)
			runs.GET("/compare", h.compareRuns)
			runs.GET("/:runId", h.getRun)
			runs.POST("/:runId/ingest", h.ingestRun)
			runs.GET("/:runId/tasks/:taskKey/details", h.runDetails)
		}

		api.GET("/leaderboards/:packId", h.leaderboard)
	}
	return r
}

func (h *handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handler) daemonStatus(c *gin.Context) {
	if h.status == nil {
		h.fail(c, http.StatusNotFound, "status unavailable", nil)
		return
	}
	c.JSON(http.StatusOK, h.status(c.Request.Context()))
}

func (h *handler) listBenchmarks(c *gin.Context) {
	benchmarks, err := h.catalog.Benchmarks(c.Request.Context(), store.BenchmarkFilter{
		Query:       c.Query("q"),
		Suite:       c.Query("suite"),
		ScoringMode: c.Query("scoringMode"),
	})
	if err != nil {
		h.internal(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"benchmarks": benchmarks})
}

func (h *handler) getBenchmark(c *gin.Context) {
	b, err := h.catalog.Benchmark(c.Request.Context(), c.Param("benchmarkKey"))
	if err != nil {
		h.respond(c, err, "Benchmark not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"benchmark": b})
}

func (h *handler) inspectBenchmark(c *gin.Context) {
	result, err := h.catalog.Inspect(c.Request.Context(), c.Param("benchmarkKey"))
	if err != nil {
		h.respond(c, err, "Benchmark not found")
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *handler) listPacks(c *gin.Context) {
	packs, err := h.catalog.Packs(c.Request.Context())
	if err != nil {
		h.internal(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"packs": packs})
}

func (h *handler) getPack(c *gin.Context) {
	pack, err := h.catalog.Pack(c.Request.Context(), c.Param("packId"))
	if err != nil {
		h.respond(c, err, "Pack not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"pack": pack})
}

func (h *handler) leaderboard(c *gin.Context) {
	resp, err := h.catalog.Leaderboard(c.Request.Context(), c.Param("packId"), c.Query("scoringMode"))
	if err != nil {
		h.respond(c, err, "Pack not found")
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *handler) listRuns(c *gin.Context) {
	runs, err := h.runs.List(c.Request.Context(), store.RunFilter{
		PackID:      c.Query("packId"),
		Status:      store.RunStatus(c.Query("status")),
		ScoringMode: c.Query("scoringMode"),
	})
	if err != nil {
		h.internal(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (h *handler) submitRun(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxJobSpecBytes))
	if err != nil {
		h.fail(c, http.StatusBadRequest, "Invalid JobSpec", err.Error())
		return
	}
	run, err := h.runs.Submit(c.Request.Context(), body)
	switch {
	case err == nil:
	case errors.Is(err, ErrUnknownPack):
		h.fail(c, http.StatusBadRequest, "Invalid benchmark_pack_id", "Pack not found")
		return
	case errors.Is(err, services.ErrValidation):
		h.fail(c, http.StatusBadRequest, "Invalid JobSpec", validationDetail(err))
		return
	default:
		h.internal(c, err)
		return
	}
	logging.WithContext(c.Request.Context(), h.logger).Info("run queued",
		logging.String(logging.FieldEventType, "run_queued"),
		logging.String(logging.FieldRunID, run.ID),
		logging.String("model", run.ModelName),
		logging.String("pack_id", run.PackID),
	)
	c.JSON(http.StatusAccepted, SubmitResponse{RunID: run.ID})
}

func (h *handler) getRun(c *gin.Context) {
	detail, err := h.runs.Describe(c.Request.Context(), c.Param("runId"))
	if err != nil {
		h.respond(c, err, "Run not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": detail})
}

func (h *handler) compareRuns(c *gin.Context) {
	a, b := c.Query("runIdA"), c.Query("runIdB")
	if a == "" || b == "" {
		h.fail(c, http.StatusBadRequest, "runIdA and runIdB are required", nil)
		return
	}
	resp, err := h.runs.Compare(c.Request.Context(), a, b)
	if err != nil {
		h.respond(c, err, "One or both runs not found")
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *handler) ingestRun(c *gin.Context) {
	resp, err := h.runs.Ingest(c.Request.Context(), c.Param("runId"))
	if err != nil {
		h.respond(c, err, "Run not found")
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *handler) runDetails(c *gin.Context) {
	page := queryInt(c, "page", 1)
	pageSize := queryInt(c, "pageSize", DefaultPageSize)
	resp, err := h.runs.Details(c.Request.Context(), c.Param("runId"), c.Param("taskKey"), page, pageSize)
	if err != nil {
		h.respond(c, err, "Details not found for this run and task")
		return
	}
	c.JSON(http.StatusOK, resp)
}

// respond maps a service error onto a status code. notFound is the public
// message for a missing record.
func (h *handler) respond(c *gin.Context, err error, notFound string) {
	switch {
	case errors.Is(err, services.ErrNotFound):
		h.fail(c, http.StatusNotFound, notFound, nil)
	case errors.Is(err, services.ErrValidation):
		h.fail(c, http.StatusBadRequest, validationDetail(err), nil)
	default:
		h.internal(c, err)
	}
}

func (h *handler) internal(c *gin.Context, err error) {
	logging.ErrorWithContext(logging.WithContext(c.Request.Context(), h.logger), "api request error", "api_error",
		logging.String("path", c.FullPath()),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, services.ErrorHint(err)),
	)
	h.fail(c, http.StatusInternalServerError, "internal error", nil)
}

func (h *handler) fail(c *gin.Context, status int, message string, details any) {
	c.AbortWithStatusJSON(status, ErrorResponse{Error: message, Details: details})
}

// validationDetail drops the marker prefix that services.Wrap adds.
func validationDetail(err error) string {
	return strings.TrimPrefix(err.Error(), services.ErrValidation.Error()+": ")
}

// queryInt parses an integer query parameter. Missing or unparseable values
// take fallback.
func queryInt(c *gin.Context, key string, fallback int) int {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
