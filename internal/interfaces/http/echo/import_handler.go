package echo

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	app "github.com/mohammadpnp/suggestion-import/internal/application/suggestion"
	domain "github.com/mohammadpnp/suggestion-import/internal/domain/suggestion"
)

type ImportHandler struct {
	startImport  app.StartImport
	getImportJob app.GetImportJob
}

type importSuggestionsRequest struct {
	SourcePath string `json:"source_path"`
	GroupID    string `json:"group_id"`
	BatchSize  int    `json:"batch_size"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiResponse struct {
	Data  any        `json:"data,omitempty"`
	Error *errorBody `json:"error,omitempty"`
}

func NewImportHandler(startImport app.StartImport, getImportJob app.GetImportJob) *ImportHandler {
	return &ImportHandler{startImport: startImport, getImportJob: getImportJob}
}

func (h *ImportHandler) ImportSuggestions(c echo.Context) error {
	var req importSuggestionsRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, apiResponse{Error: &errorBody{
			Code:    "bad_request",
			Message: "invalid request body",
		}})
	}

	out, err := h.startImport.Execute(c.Request().Context(), app.StartImportInput{
		SourcePath: req.SourcePath,
		GroupID:    req.GroupID,
		BatchSize:  req.BatchSize,
	})
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidImportSource):
			return c.JSON(http.StatusBadRequest, apiResponse{Error: &errorBody{
				Code:    "invalid_source",
				Message: "source_path must be a readable .parquet file",
			}})
		case errors.Is(err, app.ErrInvalidGroupID):
			return c.JSON(http.StatusBadRequest, apiResponse{Error: &errorBody{
				Code:    "invalid_group_id",
				Message: "group_id is required",
			}})
		case errors.Is(err, app.ErrDuplicateImport):
			return c.JSON(http.StatusConflict, apiResponse{Error: &errorBody{
				Code:    "duplicate_import",
				Message: "import job was already submitted",
			}})
		case errors.Is(err, domain.ErrUnavailable):
			return unavailable(c)
		}
		return c.JSON(http.StatusInternalServerError, apiResponse{Error: &errorBody{
			Code:    "internal_error",
			Message: "failed to submit import job",
		}})
	}

	return c.JSON(http.StatusAccepted, apiResponse{Data: out})
}

func (h *ImportHandler) GetImportJob(c echo.Context) error {
	out, err := h.getImportJob.Execute(c.Request().Context(), app.GetImportJobInput{
		ID: c.Param("id"),
	})
	if err != nil {
		if errors.Is(err, app.ErrInvalidJobID) {
			return c.JSON(http.StatusBadRequest, apiResponse{Error: &errorBody{
				Code:    "invalid_job_id",
				Message: "id must be a valid UUID",
			}})
		}
		if errors.Is(err, app.ErrImportJobNotFound) {
			return c.JSON(http.StatusNotFound, apiResponse{Error: &errorBody{
				Code:    "not_found",
				Message: "import job not found",
			}})
		}

		return c.JSON(http.StatusInternalServerError, apiResponse{Error: &errorBody{
			Code:    "internal_error",
			Message: "failed to get import job",
		}})
	}

	return c.JSON(http.StatusOK, apiResponse{Data: out})
}

func unavailable(c echo.Context) error {
	return c.JSON(http.StatusServiceUnavailable, apiResponse{Error: &errorBody{
		Code:    "unavailable",
		Message: "service is shutting down",
	}})
}
