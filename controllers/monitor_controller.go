package controllers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	apperrors "order-monitor/errors"
	"order-monitor/services"
)

// MonitorController exposes the monitor's snapshot and commands over HTTP.
type MonitorController struct {
	monitor services.MonitorService
}

func NewMonitorController(monitor services.MonitorService) *MonitorController {
	return &MonitorController{monitor: monitor}
}

// NetworkRequest is the body of PUT /network.
type NetworkRequest struct {
	Available *bool `json:"available" binding:"required"`
}

// Health handles GET /health. A disconnected monitor still answers 200 so
// orchestration does not restart it; the status field says DEGRADED.
func (mc *MonitorController) Health(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, mc.monitor.Health())
}

// Snapshot handles GET /snapshot.
func (mc *MonitorController) Snapshot(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, mc.monitor.Snapshot())
}

// ListOrders handles GET /orders.
func (mc *MonitorController) ListOrders(ctx *gin.Context) {
	s := mc.monitor.Snapshot()
	ctx.JSON(http.StatusOK, gin.H{
		"orders":    s.Orders,
		"stats":     s.Stats,
		"version":   s.Version,
		"connected": s.Connected,
	})
}

// GetOrder handles GET /orders/:id.
func (mc *MonitorController) GetOrder(ctx *gin.Context) {
	id, ok := orderID(ctx)
	if !ok {
		return
	}
	o, found := mc.monitor.Snapshot().Order(id)
	if !found {
		_ = ctx.Error(apperrors.New(http.StatusNotFound, "Order not found", nil))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"order": o})
}

// GetOrderCustomer handles GET /orders/:id/customer.
func (mc *MonitorController) GetOrderCustomer(ctx *gin.Context) {
	id, ok := orderID(ctx)
	if !ok {
		return
	}
	m, found := mc.monitor.Snapshot().ResolveCustomer(id)
	if !found {
		_ = ctx.Error(apperrors.New(http.StatusNotFound, "No customer resolved for order", nil))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"customer": m.Customer, "strategy": m.Strategy})
}

// Reconnect handles POST /reconnect.
func (mc *MonitorController) Reconnect(ctx *gin.Context) {
	if err := mc.monitor.Reconnect(ctx.Request.Context()); err != nil {
		_ = ctx.Error(err)
		return
	}
	ctx.JSON(http.StatusAccepted, gin.H{"message": "Reconnecting"})
}

// ClearOrders handles POST /orders/clear.
func (mc *MonitorController) ClearOrders(ctx *gin.Context) {
	if err := mc.monitor.ClearOrders(ctx.Request.Context()); err != nil {
		_ = ctx.Error(err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"message": "Orders cleared"})
}

// SetNetwork handles PUT /network.
func (mc *MonitorController) SetNetwork(ctx *gin.Context) {
	var req NetworkRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		_ = ctx.Error(apperrors.New(http.StatusBadRequest, "Invalid request", err))
		return
	}
	if err := mc.monitor.SetNetworkAvailable(ctx.Request.Context(), *req.Available); err != nil {
		_ = ctx.Error(err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"available": *req.Available})
}

func orderID(ctx *gin.Context) (int, bool) {
	id, err := strconv.Atoi(ctx.Param("id"))
	if err != nil || id <= 0 {
		_ = ctx.Error(apperrors.New(http.StatusBadRequest, "Order id must be a positive integer", err))
		return 0, false
	}
	return id, true
}
