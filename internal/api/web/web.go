// Package web holds the request decoding, validation and response helpers
// shared by the HTTP handlers and the socket dispatcher.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/Vasu1712/gatherhub/internal/auth"
	"github.com/Vasu1712/gatherhub/internal/gathering"
	"github.com/Vasu1712/gatherhub/internal/policy"
	"github.com/Vasu1712/gatherhub/internal/storage"
)

var validate = newValidator()

// ErrBodyTooLarge is returned by Decode when the body exceeds the limit set
// with http.MaxBytesReader.
var ErrBodyTooLarge = errors.New("request body too large")

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate runs the struct's validate tags and reports the first failure as
// a *gathering.ValidationError.
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fields validator.ValidationErrors
	if !errors.As(err, &fields) || len(fields) == 0 {
		return &gathering.ValidationError{Message: err.Error()}
	}
	fe := fields[0]
	switch fe.Tag() {
	case "required":
		return &gathering.ValidationError{Field: fe.Field(), Message: "Missing " + fe.Field()}
	case "oneof":
		return &gathering.ValidationError{Field: fe.Field(), Message: fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())}
	case "max":
		return &gathering.ValidationError{Field: fe.Field(), Message: fmt.Sprintf("%s must be at most %s long", fe.Field(), fe.Param())}
	default:
		return &gathering.ValidationError{Field: fe.Field(), Message: "Invalid " + fe.Field()}
	}
}

// Decode reads a JSON body into v and validates it.
func Decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("%w: limit is %d bytes", ErrBodyTooLarge, tooLarge.Limit)
		}
		return &gathering.ValidationError{Message: "Invalid JSON format"}
	}
	return Validate(v)
}

// JSON writes v with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// ErrorBody is the JSON shape of every HTTP error.
type ErrorBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// StatusOf maps service errors to HTTP status codes.
func StatusOf(err error) int {
	var denied *policy.DeniedError
	var bad *gathering.ValidationError
	switch {
	case errors.As(err, &denied):
		return http.StatusForbidden
	case errors.As(err, &bad):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrBodyTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// Error writes err as a JSON error. Internal errors are logged and hidden.
func Error(w http.ResponseWriter, log zerolog.Logger, err error) {
	status := StatusOf(err)
	body := ErrorBody{Error: gathering.Reason(err)}
	var bad *gathering.ValidationError
	if errors.As(err, &bad) {
		body.Field = bad.Field
	}
	if errors.Is(err, auth.ErrUnauthorized) {
		body.Error = "Authentication credentials were not provided or are invalid."
	}
	if errors.Is(err, ErrBodyTooLarge) {
		body.Error = "Request body too large"
	}
	if body.Error == "" {
		log.Error().Err(err).Msg("request failed")
		body.Error = http.StatusText(status)
	}
	JSON(w, status, body)
}
