package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/david/deal-pulse/internal/auth"
	"github.com/david/deal-pulse/internal/db"
	"github.com/david/deal-pulse/internal/models"
	"github.com/david/deal-pulse/internal/pipeline"
)

const finishedJobRetention = time.Hour

type backgroundJob struct {
	ID        string             `json:"id"`
	UserID    uuid.UUID          `json:"user_id"`
	Status    string             `json:"status"` // running, completed, partial, cancelled, failed
	StartedAt time.Time          `json:"started_at"`
	EndedAt   time.Time          `json:"ended_at,omitempty"`
	Result    any                `json:"result,omitempty"`
	Error     string             `json:"error,omitempty"`
	Cancel    context.CancelFunc `json:"-"`
}

func (s *Server) newScanner(source pipeline.DealSource) *pipeline.Scanner {
	cfg := s.Config
	return pipeline.NewScanner(source, pipeline.NewMapper(s.Scorer), s.Emitter, pipeline.ScanOptions{
		Concurrency:          cfg.Scan.NotifyConcurrency,
		MaxPages:             cfg.Scan.MaxPages,
		ZombieCountThreshold: cfg.Alerts.ZombieCountThreshold,
		Logger:               s.logger.Named("scan"),
		Recipients:           s.recipients,
		Runs:                 s.runs,
	})
}

// openSource resolves the user's CRM source. A missing or unusable
// connection is reported as a token upstream failure.
func (s *Server) openSource(ctx context.Context, userID uuid.UUID) (pipeline.DealSource, error) {
	src, err := s.Sources(ctx, userID)
	if err != nil {
		if errors.Is(err, pipeline.ErrTokenUnavailable) {
			return nil, &pipeline.UpstreamError{Dependency: "token", Err: err}
		}
		return nil, err
	}
	return src, nil
}

func (s *Server) runScan(ctx context.Context, userID uuid.UUID) (*pipeline.ScanResult, error) {
	src, err := s.openSource(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.newScanner(src).Run(ctx, userID)
}

// scanErrorStatus maps scan failures onto HTTP statuses.
func scanErrorStatus(err error) (int, string) {
	var ue *pipeline.UpstreamError
	switch {
	case errors.As(err, &ue):
		return http.StatusBadGateway, fmt.Sprintf("CRM %s unavailable", ue.Dependency)
	case errors.Is(err, pipeline.ErrCancelled), errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "scan cancelled"
	case errors.Is(err, pipeline.ErrInvalidConfiguration):
		return http.StatusInternalServerError, "scan misconfigured"
	default:
		return http.StatusInternalServerError, "scan failed"
	}
}

func (s *Server) handleListDeals(c echo.Context) error {
	uid, err := auth.GetUserIDFromContext(c)
	if err != nil {
		return jsonError(c, http.StatusUnauthorized, "Unauthorized")
	}
	status, err := parseDealStatus(c.QueryParam("status"))
	if err != nil {
		return jsonError(c, http.StatusBadRequest, err.Error())
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), s.Config.Scan.Timeout())
	defer cancel()

	src, err := s.openSource(ctx, uid)
	if err == nil {
		var snap *pipeline.Snapshot
		snap, err = s.newScanner(src).Snapshot(ctx)
		if err == nil {
			deals := snap.Deals
			if status != "" {
				deals = pipeline.FilterByStatus(deals, status)
			}
			if deals == nil {
				deals = []models.Deal{}
			}
			return c.JSON(http.StatusOK, map[string]interface{}{
				"deals":      deals,
				"metrics":    snap.Metrics,
				"owners":     pipeline.RollupByOwner(snap.Deals),
				"skipped":    snap.Skipped,
				"fetched_at": snap.FetchedAt,
			})
		}
	}

	code, msg := scanErrorStatus(err)
	s.logger.Warn("deal listing failed", zap.String("user_id", uid.String()), zap.Error(err))
	return jsonError(c, code, msg)
}

func parseDealStatus(raw string) (models.DealStatus, error) {
	switch models.DealStatus(raw) {
	case "":
		return "", nil
	case models.DealHealthy, models.DealAtRisk, models.DealZombie:
		return models.DealStatus(raw), nil
	}
	return "", fmt.Errorf("status must be one of healthy, at-risk, zombie")
}

func (s *Server) handleStartScan(c echo.Context) error {
	uid, err := auth.GetUserIDFromContext(c)
	if err != nil {
		return jsonError(c, http.StatusUnauthorized, "Unauthorized")
	}
	wait, _ := strconv.ParseBool(c.QueryParam("wait"))
	return s.startScan(c, uid, wait, "/api/v1/scans/jobs/%s")
}

func (s *Server) handleAdminScan(c echo.Context) error {
	uid, err := uuid.Parse(c.Param("user_id"))
	if err != nil {
		return jsonError(c, http.StatusBadRequest, "Invalid user ID")
	}
	wait, _ := strconv.ParseBool(c.QueryParam("wait"))
	return s.startScan(c, uid, wait, "/api/v1/admin/job/%s")
}

// startScan runs a scan inline when wait is set; otherwise it detaches the
// scan from the request and answers 202 with a job id. One scan per user
// runs at a time.
func (s *Server) startScan(c echo.Context, uid uuid.UUID, wait bool, pollFormat string) error {
	s.jobMu.Lock()
	if job, ok := s.activeScans[uid]; ok {
		s.jobMu.Unlock()
		return c.JSON(http.StatusConflict, map[string]interface{}{
			"error":  "A scan is already running for this user",
			"job_id": job.ID,
		})
	}

	// context.WithoutCancel detaches from the HTTP lifecycle for background
	// runs; a synchronous run stays bound to the request.
	parent := c.Request().Context()
	if !wait {
		parent = context.WithoutCancel(parent)
	}
	jobCtx, jobCancel := context.WithTimeout(parent, s.Config.Scan.Timeout())

	job := &backgroundJob{
		ID:        uuid.New().String()[:8],
		UserID:    uid,
		Status:    "running",
		StartedAt: time.Now(),
		Cancel:    jobCancel,
	}
	s.pruneJobsLocked(job.StartedAt)
	s.jobs[job.ID] = job
	s.activeScans[uid] = job
	s.jobMu.Unlock()

	if wait {
		res, err := s.executeJob(jobCtx, job)
		if err != nil && res == nil {
			code, msg := scanErrorStatus(err)
			return jsonError(c, code, msg)
		}
		return c.JSON(http.StatusOK, res)
	}

	go s.executeJob(jobCtx, job)

	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"message": "Scan started",
		"job_id":  job.ID,
		"poll":    fmt.Sprintf(pollFormat, job.ID),
	})
}

func (s *Server) executeJob(ctx context.Context, job *backgroundJob) (*pipeline.ScanResult, error) {
	defer job.Cancel()
	log := s.logger.With(zap.String("job_id", job.ID), zap.String("user_id", job.UserID.String()))

	res, err := s.runScan(ctx, job.UserID)

	s.jobMu.Lock()
	defer s.jobMu.Unlock()
	delete(s.activeScans, job.UserID)
	job.EndedAt = time.Now()
	if res != nil {
		job.Result = res
		job.Status = string(res.Outcome)
	} else {
		job.Status = string(pipeline.OutcomeFailed)
		if errors.Is(err, pipeline.ErrCancelled) {
			job.Status = string(pipeline.OutcomeCancelled)
		}
	}
	if err != nil {
		_, job.Error = scanErrorStatus(err)
		log.Warn("scan job ended with error", zap.String("status", job.Status), zap.Error(err))
	} else {
		log.Info("scan job completed", zap.String("status", job.Status))
	}
	return res, err
}

func (s *Server) pruneJobsLocked(now time.Time) {
	for id, job := range s.jobs {
		if job.Status != "running" && now.Sub(job.EndedAt) > finishedJobRetention {
			delete(s.jobs, id)
		}
	}
}

func (s *Server) jobSnapshot(id string) (map[string]interface{}, uuid.UUID, bool) {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, uuid.Nil, false
	}
	resp := map[string]interface{}{
		"id":         job.ID,
		"user_id":    job.UserID,
		"status":     job.Status,
		"started_at": job.StartedAt,
	}
	if !job.EndedAt.IsZero() {
		resp["ended_at"] = job.EndedAt
		resp["duration"] = job.EndedAt.Sub(job.StartedAt).String()
	}
	if job.Result != nil {
		resp["result"] = job.Result
	}
	if job.Error != "" {
		resp["error"] = job.Error
	}
	return resp, job.UserID, true
}

func (s *Server) handleJobStatus(c echo.Context) error {
	resp, _, ok := s.jobSnapshot(c.Param("id"))
	if !ok {
		return jsonError(c, http.StatusNotFound, "job not found")
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleUserJobStatus(c echo.Context) error {
	uid, err := auth.GetUserIDFromContext(c)
	if err != nil {
		return jsonError(c, http.StatusUnauthorized, "Unauthorized")
	}
	resp, owner, ok := s.jobSnapshot(c.Param("id"))
	if !ok || owner != uid {
		return jsonError(c, http.StatusNotFound, "job not found")
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleListScans(c echo.Context) error {
	uid, err := auth.GetUserIDFromContext(c)
	if err != nil {
		return jsonError(c, http.StatusUnauthorized, "Unauthorized")
	}
	runs, err := s.Store.ListScanRuns(c.Request().Context(), uid, parseLimit(c.QueryParam("limit"), 20))
	if err != nil {
		s.logger.Error("list scan runs failed", zap.Error(err))
		return jsonError(c, http.StatusInternalServerError, "Failed to fetch scans")
	}
	return c.JSON(http.StatusOK, runs)
}

func (s *Server) handleGetScan(c echo.Context) error {
	uid, err := auth.GetUserIDFromContext(c)
	if err != nil {
		return jsonError(c, http.StatusUnauthorized, "Unauthorized")
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return jsonError(c, http.StatusBadRequest, "Invalid scan ID")
	}
	run, err := s.Store.GetScanRun(c.Request().Context(), uid, id)
	if errors.Is(err, db.ErrNotFound) {
		return jsonError(c, http.StatusNotFound, "Not found")
	}
	if err != nil {
		return jsonError(c, http.StatusInternalServerError, "Failed to fetch scan")
	}
	return c.JSON(http.StatusOK, run)
}

// parseLimit accepts 1..100 and falls back to def otherwise.
func parseLimit(raw string, def int) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > 100 {
		return def
	}
	return n
}
