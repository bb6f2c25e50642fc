package routes

import (
	"github.com/gin-gonic/gin"

	"order-monitor/controllers"
)

// RegisterMonitorRoutes mounts the read endpoints and the commands. The
// reconnect command sits behind limit.
func RegisterMonitorRoutes(r *gin.Engine, mc *controllers.MonitorController, limit gin.HandlerFunc) {
	r.GET("/health", mc.Health)
	r.GET("/snapshot", mc.Snapshot)

	orders := r.Group("/orders")
	orders.GET("", mc.ListOrders)
	orders.GET("/:id", mc.GetOrder)
	orders.GET("/:id/customer", mc.GetOrderCustomer)
	orders.POST("/clear", mc.ClearOrders)

	if limit != nil {
		r.POST("/reconnect", limit, mc.Reconnect)
	} else {
		r.POST("/reconnect", mc.Reconnect)
	}
	r.PUT("/network", mc.SetNetwork)
}
