// Package api serves the read endpoints and the live update channel.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rewired-gh/casewatch/internal/broker"
	"github.com/rewired-gh/casewatch/internal/clock"
	"github.com/rewired-gh/casewatch/internal/models"
)

// Reader is the read side of the price repository.
type Reader interface {
	CurrentSnapshot(ctx context.Context) (map[string]models.PricePoint, error)
	HistorySnapshot(ctx context.Context) (map[string][]models.PricePoint, error)
	LastSweep(ctx context.Context) (*models.SweepSummary, error)
	NearestObservationTo(ctx context.Context, item string, target, now time.Time) (models.PricePoint, bool, error)
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type LastUpdatedResponse struct {
	LastUpdated *time.Time `json:"lastUpdated"`
	Updated     int        `json:"updated"`
	Skipped     int        `json:"skipped"`
}

type NearestResponse struct {
	Item string `json:"item"`
	models.PricePoint
}

type Handler struct {
	store  Reader
	broker *broker.Broker
	clock  clock.Clock
}

func NewHandler(store Reader, b *broker.Broker, clk clock.Clock) *Handler {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Handler{store: store, broker: b, clock: clk}
}

func (h *Handler) Health(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

// Cases returns the latest price of every item.
//
// GET /api/cases
func (h *Handler) Cases(c *gin.Context) {
	current, err := h.store.CurrentSnapshot(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, current)
}

// PricesHistory returns every observation grouped by item.
//
// GET /api/prices-history
func (h *Handler) PricesHistory(c *gin.Context) {
	history, err := h.store.HistorySnapshot(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, history)
}

// LastUpdated reports the completion time of the last full sweep.
//
// GET /api/last-updated
func (h *Handler) LastUpdated(c *gin.Context) {
	sum, err := h.store.LastSweep(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	var resp LastUpdatedResponse
	if sum != nil {
		at := sum.CompletedAt.UTC()
		resp = LastUpdatedResponse{LastUpdated: &at, Updated: sum.Updated, Skipped: sum.Skipped}
	}
	c.JSON(http.StatusOK, resp)
}

// Nearest returns the item's observation closest to hoursAgo hours before now.
//
// GET /api/nearest?item=Recoil%20Case&hoursAgo=24
func (h *Handler) Nearest(c *gin.Context) {
	item := c.Query("item")
	if item == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "item is required"})
		return
	}
	hoursAgo, err := strconv.ParseFloat(c.DefaultQuery("hoursAgo", "24"), 64)
	if err != nil || hoursAgo < 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "hoursAgo must be a non-negative number"})
		return
	}

	now := h.clock.Now()
	target := now.Add(-time.Duration(hoursAgo * float64(time.Hour)))
	p, ok, err := h.store.NearestObservationTo(c.Request.Context(), item, target, now)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "no observation for " + item})
		return
	}
	c.JSON(http.StatusOK, NearestResponse{Item: item, PricePoint: p})
}
