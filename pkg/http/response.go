package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

// SuccessResponse writes a 200 response with the given body. The body is
// expected to carry its own `ok:true` field.
func SuccessResponse(c echo.Context, body interface{}) error {
	return c.JSON(http.StatusOK, body)
}

// ErrorResponse writes the `{ok:false, error:{code,message}}` envelope.
func ErrorResponse(c echo.Context, status int, code, message string) error {
	return c.JSON(status, ErrorResponseBody{
		OK:    false,
		Error: ErrorBody{Code: code, Message: message},
	})
}

// BadRequestResponse writes the first validation failure as a 400 error.
func BadRequestResponse(c echo.Context, verr interface{}) error {
	if errs, ok := verr.([]ValidationError); ok && len(errs) > 0 {
		return ErrorResponse(c, http.StatusBadRequest, errs[0].Code, errs[0].Message)
	}
	return ErrorResponse(c, http.StatusBadRequest, "ERR_BAD_REQUEST", "invalid request")
}

// AppErrorResponse writes an application error response.
func AppErrorResponse(c echo.Context, err error) error {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return ErrorResponse(c, appErr.Status, appErr.Code, appErr.Message)
	}
	return ErrorResponse(c, http.StatusInternalServerError, "ERR_INTERNAL", "something went wrong")
}

// NoContentResponse writes no content response.
func NoContentResponse(c echo.Context) error {
	return c.NoContent(http.StatusNoContent)
}
