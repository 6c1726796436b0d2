package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dyike/stockdesk/internal/errs"
)

type errorBody struct {
	Kind    errs.Kind `json:"kind"`
	Message string    `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind errs.Kind) int {
	switch kind {
	case errs.KindValidation:
		return http.StatusBadRequest
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindDeadline:
		return http.StatusGatewayTimeout
	case errs.KindVendorFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func Ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, data)
}

func Error(c *gin.Context, err error) {
	kind := errs.KindOf(err)
	msg := err.Error()
	var e *errs.Error
	if errors.As(err, &e) {
		msg = e.Message
	}
	c.AbortWithStatusJSON(StatusFor(kind), errorResponse{Error: errorBody{Kind: kind, Message: msg}})
}
