// Package run serves the reports of past reconciliation runs.
package run

import (
	"context"
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/labstack/echo/v4"

	runrepo "github.com/Ramsey-B/clover/internal/repositories/run"
	"github.com/Ramsey-B/clover/pkg/reconcile"
)

const maxLimit = 200

// Reader is satisfied by the run repository.
type Reader interface {
	List(ctx context.Context, destination string, limit int) ([]runrepo.Summary, error)
	Get(ctx context.Context, runID string) (*reconcile.Report, error)
}

type Handler struct {
	runs Reader
}

func NewHandler(runs Reader) *Handler {
	return &Handler{runs: runs}
}

// Register registers run routes
func (h *Handler) Register(g *echo.Group) {
	g.GET("", h.ListRuns)
	g.GET("/:id", h.GetRun)
}

// ListRuns returns the newest runs first. ?destination= filters, ?limit= caps.
func (h *Handler) ListRuns(c echo.Context) error {
	ctx := c.Request().Context()

	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return httperror.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = min(n, maxLimit)
	}

	runs, err := h.runs.List(ctx, c.QueryParam("destination"), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, runs)
}

// GetRun returns the full report of one run.
func (h *Handler) GetRun(c echo.Context) error {
	report, err := h.runs.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}
