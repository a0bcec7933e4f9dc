// Package entity serves canonical state and its audit history.
package entity

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/clover/pkg/journal"
	"github.com/Ramsey-B/clover/pkg/models"
)

// StateReader loads current canonical state by key.
type StateReader interface {
	Current(ctx context.Context, keys []string) (map[string]models.CanonicalState, error)
}

// Handler serves one destination.
type Handler struct {
	states  StateReader
	journal *journal.Journal
}

func NewHandler(states StateReader, j *journal.Journal) *Handler {
	return &Handler{states: states, journal: j}
}

// Register registers entity routes
func (h *Handler) Register(g *echo.Group) {
	g.GET("/:key", h.GetEntity)
	g.GET("/:key/history", h.GetHistory)
	g.GET("/:key/history/as-of", h.GetAsOf)
}

// HistoryResponse lists every accepted transition of one entity.
type HistoryResponse struct {
	Key     string                `json:"key"`
	Entries []models.HistoryEntry `json:"entries"`
}

// GetEntity returns the current canonical state.
func (h *Handler) GetEntity(c echo.Context) error {
	ctx := c.Request().Context()
	key := c.Param("key")

	states, err := h.states.Current(ctx, []string{key})
	if err != nil {
		return err
	}
	state, ok := states[key]
	if !ok {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "entity %s not found", key)
	}
	return c.JSON(http.StatusOK, state)
}

// GetHistory returns the entity's history in revision order.
func (h *Handler) GetHistory(c echo.Context) error {
	ctx := c.Request().Context()
	key := c.Param("key")

	entries, err := h.journal.History(ctx, key)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "no history for %s", key)
	}
	return c.JSON(http.StatusOK, HistoryResponse{Key: key, Entries: entries})
}

// GetAsOf returns the history entry in force at ?at=. ?basis= selects
// recorded (default) or effective time.
func (h *Handler) GetAsOf(c echo.Context) error {
	ctx := c.Request().Context()
	key := c.Param("key")

	raw := strings.TrimSpace(c.QueryParam("at"))
	if raw == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "at is required")
	}
	at, ok := models.ParseTimestamp(raw)
	if !ok {
		return httperror.NewHTTPErrorf(http.StatusBadRequest, "at %q is not a valid timestamp", raw)
	}

	basis := journal.Basis(c.QueryParam("basis"))
	switch basis {
	case "":
		basis = journal.BasisRecorded
	case journal.BasisRecorded, journal.BasisEffective:
	default:
		return httperror.NewHTTPErrorf(http.StatusBadRequest, "basis must be %s or %s", journal.BasisRecorded, journal.BasisEffective)
	}

	entry, err := h.journal.AsOf(ctx, key, at, basis)
	if errors.Is(err, journal.ErrNoState) {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "%s had no recorded state at %s", key, raw)
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, entry)
}
