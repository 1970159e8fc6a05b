package echo

import (
	"net/http"

	e "github.com/labstack/echo/v4"
)

func RegisterRoutes(server *e.Echo, importHandler *ImportHandler, suggestionHandler *SuggestionHandler) {
	server.POST("/api/v1/imports/match-suggestions", importHandler.ImportSuggestions)
	server.GET("/api/v1/imports/:id", importHandler.GetImportJob)
	server.GET("/api/v1/groups/:groupId/participants/:participantId/match-suggestions", suggestionHandler.FindSuggestions)
}

func RegisterMetrics(server *e.Echo, handler http.Handler) {
	server.GET("/metrics", e.WrapHandler(handler))
}
