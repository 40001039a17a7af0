package securitylog

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

// Handler serves the security log to administrators.
type Handler struct {
	service Service
}

// NewHandler creates a security log handler.
func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// listResponse is the JSON body of the event listing.
type listResponse struct {
	Events  []Event `json:"events"`
	Total   int     `json:"total"`
	Page    int     `json:"page"`
	PerPage int     `json:"perPage"`
}

// ListEvents returns a page of events (GET /api/security/events?type=&page=).
func (h *Handler) ListEvents(c echo.Context) error {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	if page < 1 {
		page = 1
	}

	list, total, err := h.service.ListEvents(c.Request().Context(), c.QueryParam("type"), page)
	if err != nil {
		return err
	}
	if list == nil {
		list = []Event{}
	}

	return c.JSON(http.StatusOK, listResponse{Events: list, Total: total, Page: page, PerPage: perPage})
}

// Stats returns the last day's counts (GET /api/security/stats).
func (h *Handler) Stats(c echo.Context) error {
	stats, err := h.service.GetStats(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stats)
}
