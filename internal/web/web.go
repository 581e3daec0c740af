package web

import (
	"github.com/gin-gonic/gin"

	"acfleet/auth"
	"acfleet/internal/notify"
	"acfleet/internal/web/api"
	"acfleet/internal/web/middleware"
)

type WebServer struct {
	router *gin.Engine
}

// NewWebServer builds the HTTP surface: auth, device and routine APIs plus
// the websocket push gateway.
func NewWebServer(authModule *auth.AuthModule, hub *notify.Hub, deviceDeps api.DeviceDeps, routineDeps api.RoutineDeps) *WebServer {
	router := gin.Default()

	mw := middleware.NewMiddlewareManager(authModule)

	api.RegisterAuthRoutes(router, authModule)
	api.RegisterDeviceRoutes(router, mw, deviceDeps)
	api.RegisterRoutineRoutes(router, mw, routineDeps)

	router.GET("/ws", func(c *gin.Context) {
		hub.ServeHTTP(c.Writer, c.Request)
	})

	return &WebServer{router: router}
}

func (ws *WebServer) Start(addr string) error {
	return ws.router.Run(addr)
}
