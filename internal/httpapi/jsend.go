package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// JSend statuses.
const (
	statusSuccess = "success"
	statusFail    = "fail"
	statusError   = "error"
)

type jsendResponse struct {
	Status  string `json:"status"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
}

func success(c echo.Context, data any) error {
	return c.JSON(http.StatusOK, jsendResponse{Status: statusSuccess, Data: data})
}

// fail reports a problem with the request itself.
func fail(c echo.Context, code int, message string, data any) error {
	return c.JSON(code, jsendResponse{Status: statusFail, Message: message, Data: data})
}

func failValidation(c echo.Context, fieldErrors map[string]string) error {
	return fail(c, http.StatusBadRequest, "Validation failed", map[string]any{
		"validation_errors": fieldErrors,
	})
}

func failNotFound(c echo.Context, message string) error {
	return fail(c, http.StatusNotFound, message, nil)
}

// serverError reports a failure on our side. Codes below 500 are coerced to 500.
func serverError(c echo.Context, code int, message string) error {
	if code < http.StatusInternalServerError {
		code = http.StatusInternalServerError
	}
	return c.JSON(code, jsendResponse{Status: statusError, Message: message, Code: code})
}

func internalError(c echo.Context, message string) error {
	return serverError(c, http.StatusInternalServerError, message)
}

func unavailable(c echo.Context, message string) error {
	return serverError(c, http.StatusServiceUnavailable, message)
}
