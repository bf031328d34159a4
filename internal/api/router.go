package api

import (
	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/sergeschumacher/hermes/internal/api/controllers"
	"github.com/sergeschumacher/hermes/internal/app"
)

func RegisterRoutes(e *echo.Echo, app *app.Context) {

	// Middleware: Request Logger
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c *echo.Context, v middleware.RequestLoggerValues) error {
			app.Logger.Info("%s %s | %d | %s", v.Method, v.URI, v.Status, v.Latency)
			return nil
		},
	}))

	jobsCtrl := &controllers.JobsController{App: app}

	// Job submission contract: raw NZB bytes in, receipt out
	e.POST("/api/jobs", jobsCtrl.Submit)
	e.GET("/api/jobs", jobsCtrl.List)
	e.GET("/api/jobs/:id", jobsCtrl.Get)
	e.DELETE("/api/jobs/:id", jobsCtrl.Cancel)
}
