package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/render"

	"github.com/notnil/multivesc/motor"
)

// ErrResponse is the JSON body of every failed request.
type ErrResponse struct {
	Err            error `json:"-"`
	HTTPStatusCode int   `json:"-"`

	StatusText string `json:"status"`
	ErrorText  string `json:"error,omitempty"`
}

func (e *ErrResponse) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.HTTPStatusCode)
	return nil
}

var ErrNotFound = &ErrResponse{HTTPStatusCode: http.StatusNotFound, StatusText: "Resource not found."}

func ErrInvalidRequest(err error) render.Renderer {
	return &ErrResponse{
		Err:            err,
		HTTPStatusCode: http.StatusBadRequest,
		StatusText:     "Invalid request.",
		ErrorText:      err.Error(),
	}
}

// ErrRejected maps a motor rejection to a status code.
func ErrRejected(err error) render.Renderer {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, motor.ErrModeMismatch), errors.Is(err, motor.ErrDisabled):
		code = http.StatusConflict
	case errors.Is(err, motor.ErrUnbound):
		code = http.StatusServiceUnavailable
	}
	return &ErrResponse{
		Err:            err,
		HTTPStatusCode: code,
		StatusText:     "Command rejected.",
		ErrorText:      err.Error(),
	}
}
