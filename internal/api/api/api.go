package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/wb-go/wbf/ginext"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"guestlist/cmd/middleware"
	"guestlist/internal/service"
)

type Routers struct {
	Service service.Service
	// AdminAccounts guards /v1/admin with basic auth. Empty disables the admin routes.
	AdminAccounts map[string]string
	CORSOrigins   []string
	Mode          string
	ServiceName   string
}

func NewRouters(r *Routers) *ginext.Engine {
	mode := r.Mode
	if mode == "" {
		mode = "release"
	}
	app := ginext.New(mode)

	serviceName := r.ServiceName
	if serviceName == "" {
		serviceName = "guestlist"
	}
	traced := otelgin.Middleware(serviceName)
	app.Use(func(c *ginext.Context) { traced(c) })
	app.Use(middleware.LoggingMiddleware())
	app.Use(corsMiddleware(r.CORSOrigins))

	app.GET("/health", r.Service.Health)

	apiGroup := app.Group("/v1")
	apiGroup.POST("/rsvp", r.Service.SubmitRSVP)
	apiGroup.GET("/rsvp/:phone", r.Service.GetRSVP)

	if len(r.AdminAccounts) > 0 {
		basic := gin.BasicAuth(gin.Accounts(r.AdminAccounts))
		admin := apiGroup.Group("/admin", func(c *ginext.Context) { basic(c) })
		admin.GET("/stats", r.Service.Stats)
		admin.GET("/rsvps", r.Service.ListRSVPs)
		admin.POST("/rsvps/:phone/unconfirm", r.Service.Unconfirm)
		admin.POST("/waitlist/promote", r.Service.PromoteNext)
		admin.DELETE("/guests/:phone", r.Service.DeleteGuest)
	}

	return app
}

func corsMiddleware(origins []string) func(*ginext.Context) {
	var h gin.HandlerFunc
	if len(origins) == 0 {
		h = cors.Default()
	} else {
		cfg := cors.DefaultConfig()
		cfg.AllowOrigins = origins
		cfg.AddAllowHeaders("Authorization")
		h = cors.New(cfg)
	}
	return func(c *ginext.Context) { h(c) }
}
