package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"annod/lib/engine"
	"annod/lib/pool"
)

// --------------------------------------------------------------------------
// Error Taxonomy
// --------------------------------------------------------------------------

// Error is the request-boundary error representation: a stable name, a
// message, and the HTTP status it maps to. Handlers return plain errors;
// toError classifies them.
type Error struct {
	Status  int    `json:"-"`
	Name    string `json:"name"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Name + ": " + e.Message
}

func newError(status int, name, message string) *Error {
	return &Error{Status: status, Name: name, Message: message}
}

// errMissingArgument is returned when a required request parameter is absent.
func errMissingArgument(name string) *Error {
	return newError(http.StatusBadRequest, "MissingArgument", "missing required argument: "+name)
}

// errNotAcceptable is returned when negotiation finds no format overlap.
func errNotAcceptable() *Error {
	return newError(http.StatusNotAcceptable, "NotAcceptable", "no matching content type on offer")
}

// toError classifies any error from the pool or engine into the taxonomy.
func toError(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	switch {
	case errors.Is(err, pool.ErrNotFound):
		return newError(http.StatusNotFound, "NotFound", err.Error())
	case errors.Is(err, pool.ErrForbidden):
		return newError(http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, pool.ErrConflict):
		return newError(http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return newError(http.StatusServiceUnavailable, "Cancelled", err.Error())
	}
	if kind, ok := engine.KindOf(err); ok {
		switch kind {
		case engine.KindLoad:
			return newError(http.StatusInternalServerError, "LoadError", err.Error())
		case engine.KindSyntax:
			return newError(http.StatusBadRequest, "SyntaxError", err.Error())
		case engine.KindExecution:
			return newError(http.StatusUnprocessableEntity, "ExecutionError", err.Error())
		case engine.KindRange:
			return newError(http.StatusRequestedRangeNotSatisfiable, "RangeError", err.Error())
		case engine.KindConversion:
			return newError(http.StatusUnsupportedMediaType, "UnsupportedConversion", err.Error())
		case engine.KindNotFound:
			return newError(http.StatusNotFound, "NotFound", err.Error())
		case engine.KindConflict:
			return newError(http.StatusConflict, "Conflict", err.Error())
		}
	}
	return newError(http.StatusInternalServerError, "InternalError", err.Error())
}

// writeError emits the structured error body. The machine-readable shape is
// always JSON; clients that asked for something else still get a parseable
// diagnostic.
func writeError(w http.ResponseWriter, err error) {
	apiErr := toError(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.Status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"@type":   "ApiError",
		"name":    apiErr.Name,
		"message": apiErr.Message,
	})
}
