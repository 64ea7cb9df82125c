package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
)

const (
	StatusOK    = "OK"
	StatusError = "Error"
)

// Response is the envelope of every non-scrape answer.
type Response struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// OK is a successful envelope.
func OK() Response {
	return Response{Status: StatusOK}
}

// Error is a failed envelope carrying msg.
func Error(msg string) Response {
	return Response{Status: StatusError, Error: msg}
}

// ValidationError lists every failed field in one message.
func ValidationError(errs validator.ValidationErrors) Response {
	var msgs []string
	for _, err := range errs {
		switch err.ActualTag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("field %s is a required field", err.Field()))
		case "url":
			msgs = append(msgs, fmt.Sprintf("field %s is not a valid URL", err.Field()))
		case "min":
			msgs = append(msgs, fmt.Sprintf("field %s must have at least %s items", err.Field(), err.Param()))
		case "gt":
			msgs = append(msgs, fmt.Sprintf("field %s must be greater than %s", err.Field(), err.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("field %s is not valid", err.Field()))
		}
	}
	return Response{Status: StatusError, Error: strings.Join(msgs, ", ")}
}

func respondError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	render.Status(r, status)
	render.JSON(w, r, Error(msg))
}
