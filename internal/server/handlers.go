package server

import (
	"context"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
)

// RunRequest is the QA run payload: one document URL and the questions to
// answer against it.
type RunRequest struct {
	Documents string   `json:"documents"`
	Questions []string `json:"questions"`
}

// RunResponse carries one answer per question, in request order.
type RunResponse struct {
	Answers []string `json:"answers"`
}

// Runner executes one QA request end to end.
type Runner interface {
	Run(ctx context.Context, documentURL string, questions []string) ([]string, error)
}

// QAHandler exposes the run endpoint.
type QAHandler struct {
	Runner Runner
	Logger *log.Logger
}

func (h *QAHandler) Register(g *echo.Group) {
	g.POST("/run", h.handleRun)
}

func (h *QAHandler) handleRun(c echo.Context) error {
	var req RunRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Documents == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "documents is required")
	}
	if len(req.Questions) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "questions is required")
	}

	h.Logger.Printf("run: %s with %d questions", req.Documents, len(req.Questions))
	answers, err := h.Runner.Run(c.Request().Context(), req.Documents, req.Questions)
	if err != nil {
		h.Logger.Printf("run failed: %v", err)
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, RunResponse{Answers: answers})
}
