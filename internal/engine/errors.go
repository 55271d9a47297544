package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"tareas/internal/backend"
	"tareas/internal/engine/auth"
)

var (
	ErrUnauthenticated   = errors.New("authentication required")
	ErrUnauthorized      = errors.New("not authorized")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrTransient         = errors.New("backend unavailable")
)

// ValidationError is a rejected input that the user can fix and resubmit.
// Diagnostic carries the backend's response body when there is one.
type ValidationError struct {
	Field      string
	Message    string
	Diagnostic string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ErrorKind groups errors by how the caller should react.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindValidation
	KindUnauthenticated
	KindUnauthorized
	KindTransient
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindUnauthorized:
		return "unauthorized"
	case KindTransient:
		return "transient"
	default:
		return "none"
	}
}

// Classify maps any error to the kind that decides the reaction: redirect to
// login, redirect to the task list, inline field message, or a generic retry
// message. Unknown errors are transient.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var ve *ValidationError
	if errors.As(err, &ve) || errors.Is(err, ErrInvalidTransition) {
		return KindValidation
	}
	if errors.Is(err, ErrUnauthenticated) {
		return KindUnauthenticated
	}
	var fe auth.ForbiddenError
	if errors.Is(err, ErrUnauthorized) || errors.As(err, &fe) {
		return KindUnauthorized
	}
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusUnauthorized:
			return KindUnauthenticated
		case http.StatusForbidden:
			return KindUnauthorized
		case http.StatusBadRequest, http.StatusUnprocessableEntity:
			return KindValidation
		}
	}
	return KindTransient
}

// Message is the text shown inline for err.
func Message(err error) string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Message
	}
	if errors.Is(err, ErrInvalidTransition) {
		return "La tarea ya está finalizada."
	}
	switch Classify(err) {
	case KindNone:
		return ""
	case KindUnauthenticated:
		return "Debes iniciar sesión."
	case KindUnauthorized:
		return "No tienes permisos para esta acción."
	case KindValidation:
		return "El servidor rechazó los datos enviados."
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return "El servidor no respondió a tiempo. Intenta nuevamente."
	}
	return "No se pudo completar la operación. Intenta nuevamente."
}

// rejected turns a backend 400 into a ValidationError carrying the body.
func rejected(err error, message string) error {
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusBadRequest || apiErr.StatusCode == http.StatusUnprocessableEntity) {
		return &ValidationError{Message: message, Diagnostic: apiErr.Body}
	}
	return err
}
