package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/valter-silva-au/duealert/internal/core"
)

// Response is the envelope every endpoint answers with.
type Response struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

const codeOK = "OK"

func success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{Code: codeOK, Message: "success", Data: data})
}

func failed(c *gin.Context, err error) {
	status, code := statusFor(err)
	c.JSON(status, Response{Code: code, Message: err.Error()})
}

func invalid(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, Response{Code: string(core.CodeInvalidInput), Message: msg})
}

// statusFor maps engine errors onto HTTP statuses.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, core.ErrDisposed), errors.Is(err, core.ErrQueueClosed):
		return http.StatusServiceUnavailable, "UNAVAILABLE"
	case errors.Is(err, core.ErrNoReplayer):
		return http.StatusConflict, "NO_REPLAYER"
	}
	switch code := core.CodeOf(err); code {
	case core.CodeInvalidInput:
		return http.StatusBadRequest, string(code)
	case core.CodeReplay, core.CodeSource, core.CodeDelivery:
		return http.StatusBadGateway, string(code)
	case core.CodeStorage:
		return http.StatusInternalServerError, string(code)
	}
	return http.StatusInternalServerError, "INTERNAL"
}
