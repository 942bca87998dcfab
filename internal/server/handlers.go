package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/protocold/internal/domain"
	"github.com/fyrsmithlabs/protocold/internal/executor"
)

// CreateProjectRequest is the request body for POST /api/v1/projects.
type CreateProjectRequest struct {
	Name                   string         `json:"name"`
	GitURL                 string         `json:"git_url"`
	BaseBranch             string         `json:"base_branch"`
	LocalPath              string         `json:"local_path"`
	PolicyPackKey          string         `json:"policy_pack_key"`
	PolicyPackVersion      string         `json:"policy_pack_version"`
	PolicyOverrides        map[string]any `json:"policy_overrides"`
	PolicyRepoLocalEnabled bool           `json:"policy_repo_local_enabled"`
	PolicyEnforcementMode  string         `json:"policy_enforcement_mode"`
}

// CreateProtocolRequest is the request body for POST /api/v1/protocols.
type CreateProtocolRequest struct {
	ProjectID      int64          `json:"project_id"`
	ProtocolName   string         `json:"protocol_name"`
	BaseBranch     string         `json:"base_branch"`
	Description    string         `json:"description"`
	TemplateConfig map[string]any `json:"template_config"`

	// Plan immediately materializes the step graph after creation.
	Plan bool `json:"plan"`
}

// ProtocolResponse is a protocol run together with its steps.
type ProtocolResponse struct {
	Run   *domain.ProtocolRun `json:"run"`
	Steps []*domain.StepRun   `json:"steps"`
}

func (s *Server) handleCreateProject(c echo.Context) error {
	var req CreateProjectRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name field is required")
	}

	project := &domain.Project{
		Name:                   req.Name,
		GitURL:                 req.GitURL,
		BaseBranch:             req.BaseBranch,
		LocalPath:              req.LocalPath,
		PolicyPackKey:          req.PolicyPackKey,
		PolicyPackVersion:      req.PolicyPackVersion,
		PolicyOverrides:        req.PolicyOverrides,
		PolicyRepoLocalEnabled: req.PolicyRepoLocalEnabled,
		PolicyEnforcementMode:  req.PolicyEnforcementMode,
	}
	if err := s.store.CreateProject(c.Request().Context(), project); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, project)
}

func (s *Server) handleGetProject(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	project, err := s.store.GetProject(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, project)
}

func (s *Server) handleCreateProtocol(c echo.Context) error {
	ctx := c.Request().Context()
	var req CreateProtocolRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.ProtocolName == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "protocol_name field is required")
	}

	project, err := s.store.GetProject(ctx, req.ProjectID)
	if err != nil {
		return httpError(err)
	}

	run := &domain.ProtocolRun{
		ProjectID:      project.ID,
		ProtocolName:   req.ProtocolName,
		Status:         domain.ProtocolPending,
		BaseBranch:     req.BaseBranch,
		Description:    req.Description,
		TemplateConfig: req.TemplateConfig,
	}
	if run.BaseBranch == "" {
		run.BaseBranch = project.BaseBranch
	}
	if err := s.store.CreateProtocolRun(ctx, run); err != nil {
		return httpError(err)
	}

	if req.Plan {
		if err := s.disp.Plan(ctx, run.ID); err != nil {
			return httpError(err)
		}
	}
	return s.protocolJSON(c, http.StatusCreated, run.ID)
}

func (s *Server) handleGetProtocol(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	return s.protocolJSON(c, http.StatusOK, id)
}

func (s *Server) handlePlanProtocol(c echo.Context) error {
	return s.protocolAction(c, s.disp.Plan)
}

func (s *Server) handleStartProtocol(c echo.Context) error {
	return s.protocolAction(c, s.disp.Start)
}

func (s *Server) handlePauseProtocol(c echo.Context) error {
	return s.protocolAction(c, s.disp.Pause)
}

func (s *Server) handleResumeProtocol(c echo.Context) error {
	return s.protocolAction(c, s.disp.Resume)
}

func (s *Server) handleCancelProtocol(c echo.Context) error {
	return s.protocolAction(c, s.disp.Cancel)
}

func (s *Server) handleListFeedback(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	recs, err := s.store.ListFeedbackRecords(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, recs)
}

func (s *Server) handleRetryStep(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := s.disp.RetryStep(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusAccepted)
}

// handleStepResult is the callback workers use to report a finished step.
func (s *Server) handleStepResult(c echo.Context) error {
	var output executor.StepOutput
	if err := c.Bind(&output); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if output.StepRunID == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "step_run_id field is required")
	}
	if err := s.disp.OnStepResult(c.Request().Context(), output, 0); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusAccepted)
}

// CIWebhookRequest is the request body for POST /api/v1/webhooks/ci.
// Signature verification is left to the deployment's ingress.
type CIWebhookRequest struct {
	ProtocolRunID int64  `json:"protocol_run_id"`
	CheckName     string `json:"check_name"`
	Conclusion    string `json:"conclusion"`
}

// handleCIWebhook re-enters the dispatcher when an external CI check
// concludes. A successful check nudges the run forward; anything else is
// recorded for the recovery sweep to judge.
func (s *Server) handleCIWebhook(c echo.Context) error {
	ctx := c.Request().Context()
	var req CIWebhookRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.ProtocolRunID == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "protocol_run_id field is required")
	}
	if _, err := s.store.GetProtocolRun(ctx, req.ProtocolRunID); err != nil {
		return httpError(err)
	}

	s.logger.Info(ctx, "ci webhook received",
		zap.Int64("run_id", req.ProtocolRunID),
		zap.String("check", req.CheckName),
		zap.String("conclusion", req.Conclusion))

	if req.Conclusion == "success" {
		if _, err := s.disp.EnqueueNext(ctx, req.ProtocolRunID, 0); err != nil {
			return httpError(err)
		}
		if _, err := s.disp.CheckAndCompleteProtocol(ctx, req.ProtocolRunID); err != nil {
			return httpError(err)
		}
	}
	return c.NoContent(http.StatusAccepted)
}

func (s *Server) protocolAction(c echo.Context, action func(ctx context.Context, runID int64) error) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := action(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return s.protocolJSON(c, http.StatusOK, id)
}

func (s *Server) protocolJSON(c echo.Context, status int, runID int64) error {
	ctx := c.Request().Context()
	run, err := s.store.GetProtocolRun(ctx, runID)
	if err != nil {
		return httpError(err)
	}
	steps, err := s.store.ListStepRuns(ctx, runID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(status, ProtocolResponse{Run: run, Steps: steps})
}

func pathID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// httpError maps domain errors onto HTTP status codes. Retryable
// failures come back 503 so reporting workers try again instead of
// dropping a result.
func httpError(err error) error {
	var verr *domain.ValidationError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case domain.IsConflict(err):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.As(err, &verr):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case domain.Retryable(err):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return err
}
