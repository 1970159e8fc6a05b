package bootstrap

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	app "github.com/mohammadpnp/suggestion-import/internal/application/suggestion"
	httpecho "github.com/mohammadpnp/suggestion-import/internal/interfaces/http/echo"
)

type HTTPDeps struct {
	StartImport     app.StartImport
	GetImportJob    app.GetImportJob
	FindSuggestions app.FindSuggestions
	Metrics         http.Handler
}

func NewHTTPServer(deps HTTPDeps) *echo.Echo {
	server := echo.New()
	server.HideBanner = true
	server.HidePort = true

	server.Use(middleware.Recover())
	server.Use(middleware.RequestID())
	server.Use(middleware.BodyLimit("1M"))

	importHandler := httpecho.NewImportHandler(deps.StartImport, deps.GetImportJob)
	suggestionHandler := httpecho.NewSuggestionHandler(deps.FindSuggestions)
	httpecho.RegisterRoutes(server, importHandler, suggestionHandler)
	if deps.Metrics != nil {
		httpecho.RegisterMetrics(server, deps.Metrics)
	}

	server.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	return server
}
