package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/darkroomhq/darkroom-backend/internal/platform/apierr"

	types "github.com/darkroomhq/darkroom-backend/internal/domain"
	pkgerrors "github.com/darkroomhq/darkroom-backend/internal/pkg/errors"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error   APIError `json:"error"`
	Details any      `json:"details,omitempty"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

// RespondFieldErrors returns a 400 with per-field reasons under details.
func RespondFieldErrors(c *gin.Context, fields map[string]string) {
	c.JSON(http.StatusBadRequest, ErrorEnvelope{
		Error: APIError{
			Message: "payload validation failed",
			Code:    "validation",
		},
		Details: fields,
	})
}

// RespondMapped translates domain and platform errors onto the envelope.
// apierr.Error carries its own status and code; sentinels and state
// machine rejections map to stable codes; everything else is a 500.
// Production responses never echo internal 5xx messages.
func RespondMapped(c *gin.Context, production bool, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"

	var apiErr *apierr.Error
	var transitionErr *types.TransitionError
	var missingErr *types.MissingFieldsError

	switch {
	case errors.As(err, &apiErr):
		if apiErr.Status != 0 {
			status = apiErr.Status
		}
		if apiErr.Code != "" {
			code = apiErr.Code
		}
	case errors.As(err, &transitionErr):
		status = http.StatusConflict
		code = "invalid_transition"
	case errors.As(err, &missingErr):
		status = http.StatusConflict
		code = "missing_fields"
	case errors.Is(err, pkgerrors.ErrNotFound):
		status = http.StatusNotFound
		code = "not_found"
	case errors.Is(err, pkgerrors.ErrConflict):
		status = http.StatusConflict
		code = "conflict"
	case errors.Is(err, pkgerrors.ErrInvalidArgument):
		status = http.StatusBadRequest
		code = "invalid_argument"
	}

	if production && status >= http.StatusInternalServerError {
		err = errors.New("internal error")
	}
	RespondError(c, status, code, err)
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}
