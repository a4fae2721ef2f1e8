// Package types holds the HTTP response helpers shared by the handlers.
package types

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lgulliver/strongbox/internal/apperr"
	pkgtypes "github.com/lgulliver/strongbox/pkg/types"
	"github.com/rs/zerolog/log"
)

// StatusClientClosedRequest is logged when the client went away mid-request
const StatusClientClosedRequest = 499

// SuccessResponse is returned by operations that have nothing else to say
type SuccessResponse struct {
	Message string `json:"message"`
}

// WriteError maps err onto the error body and aborts the request.
// Paused rejections also carry status "paused" so clients can tell them
// apart from validation failures without parsing the message.
func WriteError(c *gin.Context, err error) {
	if errors.Is(err, context.Canceled) {
		c.AbortWithStatus(StatusClientClosedRequest)
		return
	}

	status := apperr.HTTPStatus(err)
	body := pkgtypes.ErrorResponse{
		Error: err.Error(),
		Code:  apperr.Code(err),
	}
	if errors.Is(err, apperr.ErrPaused) {
		body.Status = pkgtypes.StatusPaused
	}

	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
		// internal details stay in the log
		body.Error = "internal error"
	} else {
		log.Debug().Err(err).Str("code", body.Code).Str("path", c.Request.URL.Path).Msg("request rejected")
	}

	c.AbortWithStatusJSON(status, body)
}

// BadRequest writes a validation error for malformed input
func BadRequest(c *gin.Context, err error) {
	WriteError(c, apperr.Validation("%v", err))
}
