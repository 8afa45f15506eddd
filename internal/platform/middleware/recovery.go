package middleware

import (
	"errors"
	"net/http"
	"runtime/debug"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// panicResponse is the body sent to the desk client when a handler panics.
type panicResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// Recovery answers a handler panic with a 500 JSON body carrying the request
// id that the logged stack is filed under. http.ErrAbortHandler is re-raised.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				if e, ok := r.(error); ok && errors.Is(e, http.ErrAbortHandler) {
					panic(r)
				}

				rid, _ := c.Get("request_id").(string)
				if rid == "" {
					rid = c.Request().Header.Get(RequestIDHeader)
				}
				logger.Error().
					Str("request_id", rid).
					Str("method", c.Request().Method).
					Str("route", c.Path()).
					Interface("panic", r).
					Bytes("stack", debug.Stack()).
					Msg("handler panicked")

				if c.Response().Committed {
					err = nil
					return
				}
				if rid != "" {
					c.Response().Header().Set(RequestIDHeader, rid)
				}
				err = c.JSON(http.StatusInternalServerError, panicResponse{
					Error:     "internal server error",
					RequestID: rid,
				})
			}()
			return next(c)
		}
	}
}
