package echo

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	app "github.com/mohammadpnp/suggestion-import/internal/application/suggestion"
	domain "github.com/mohammadpnp/suggestion-import/internal/domain/suggestion"
)

type SuggestionHandler struct {
	useCase app.FindSuggestions
}

func NewSuggestionHandler(useCase app.FindSuggestions) *SuggestionHandler {
	return &SuggestionHandler{useCase: useCase}
}

func (h *SuggestionHandler) FindSuggestions(c echo.Context) error {
	out, err := h.useCase.Execute(c.Request().Context(), app.FindSuggestionsInput{
		GroupID:       c.Param("groupId"),
		ParticipantID: c.Param("participantId"),
	})
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidGroupID), errors.Is(err, app.ErrInvalidParticipantID):
			return c.JSON(http.StatusBadRequest, apiResponse{Error: &errorBody{
				Code:    "invalid_request",
				Message: "groupId and participantId are required",
			}})
		case errors.Is(err, domain.ErrUnavailable):
			return unavailable(c)
		}

		return c.JSON(http.StatusInternalServerError, apiResponse{Error: &errorBody{
			Code:    "internal_error",
			Message: "failed to find match suggestions",
		}})
	}

	return c.JSON(http.StatusOK, apiResponse{Data: out})
}
