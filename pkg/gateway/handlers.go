package gateway

import (
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sameehj/gencad/pkg/errinfo"
	"github.com/sameehj/gencad/pkg/pipeline"
	"github.com/sameehj/gencad/pkg/safety"
	"github.com/sameehj/gencad/pkg/version"
)

type errorResponse struct {
	Error string `json:"error"`
}

type generateRequest struct {
	Prompt string `json:"prompt"`
}

type errorBody struct {
	Kind    errinfo.Kind `json:"kind"`
	Message string       `json:"message"`
	Detail  []string     `json:"detail,omitempty"`
}

type generateResponse struct {
	RunID      string            `json:"runId,omitempty"`
	Outcome    string            `json:"outcome"`
	Error      *errorBody        `json:"error,omitempty"`
	Verdict    *safety.Verdict   `json:"verdict,omitempty"`
	ScriptPath string            `json:"scriptPath,omitempty"`
	PID        int               `json:"pid,omitempty"`
	Statuses   []pipeline.Status `json:"statuses"`
}

type validateRequest struct {
	Script string `json:"script"`
}

type healthResponse struct {
	Status   string       `json:"status"`
	Busy     bool         `json:"busy"`
	InFlight int          `json:"inFlight"`
	Uptime   string       `json:"uptime"`
	Version  version.Info `json:"version"`
}

func (s *Server) handleHealth(c *gin.Context) {
	busy := false
	if s.controller != nil {
		busy = s.controller.Busy()
	}
	c.JSON(http.StatusOK, healthResponse{
		Status:   "ok",
		Busy:     busy,
		InFlight: len(s.ListSessions()),
		Uptime:   time.Since(s.started).Round(time.Second).String(),
		Version:  version.Get(),
	})
}

// handleGenerate runs one pipeline synchronously and returns its status log.
func (s *Server) handleGenerate(c *gin.Context) {
	if s.controller == nil {
		c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "generation is not configured"})
		return
	}
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	log := pipeline.NewStatusLog()
	res, err := s.controller.Run(c.Request.Context(), req.Prompt, log.Append)
	if errors.Is(err, pipeline.ErrBusy) {
		c.JSON(http.StatusConflict, errorResponse{Error: err.Error()})
		return
	}
	if errors.Is(err, pipeline.ErrClosed) {
		c.JSON(http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	}

	out := generateResponse{
		Outcome:  pipeline.Outcome(err),
		Statuses: log.Entries(),
	}
	if res != nil {
		out.RunID = res.RunID
		out.Verdict = res.Verdict
		if res.Artifact != nil {
			out.ScriptPath = res.Artifact.Path
		}
		if res.Process != nil {
			out.PID = res.Process.PID
		}
	}
	if err != nil {
		out.Error = toErrorBody(err)
	}
	s.logInfo("generate_finished", "request_id", c.GetString("request_id"), "run_id", out.RunID, "outcome", out.Outcome)
	c.JSON(statusFor(errinfo.KindOf(err)), out)
}

// handleValidate screens a script without running the pipeline.
func (s *Server) handleValidate(c *gin.Context) {
	var req validateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.validator.Validate(req.Script))
}

func (s *Server) handleRules(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"denied": s.validator.Rules()})
}

func (s *Server) handleAudit(c *gin.Context) {
	events := []safety.AuditEvent{}
	if s.audit != nil {
		events = s.audit.Events()
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func toErrorBody(err error) *errorBody {
	var e *errinfo.Error
	if errors.As(err, &e) {
		msg := e.Message
		if e.Err != nil {
			msg += ": " + e.Err.Error()
		}
		return &errorBody{Kind: e.Kind, Message: msg, Detail: e.Detail}
	}
	return &errorBody{Kind: errinfo.KindUnexpectedFailure, Message: err.Error()}
}

func statusFor(kind errinfo.Kind) int {
	if kind == errinfo.KindEmptyPrompt || slices.Contains(errinfo.ValidationKinds(), kind) {
		return http.StatusUnprocessableEntity
	}
	switch kind {
	case "":
		return http.StatusOK
	case errinfo.KindTransportFailure, errinfo.KindServiceError, errinfo.KindMalformedResponse:
		return http.StatusBadGateway
	case errinfo.KindEngineNotFound, errinfo.KindEngineProbeFailed, errinfo.KindEngineProbeTimeout, errinfo.KindLaunchFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
