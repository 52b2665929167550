// Package httpx standardizes JSON responses and request parsing across the
// services' REST surfaces.
package httpx

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/quickbite/delivery-microservices/common/apperr"
)

// ErrorBody is the JSON error envelope: { code, message }.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// WriteError maps an error's kind to an HTTP status and writes the envelope.
func WriteError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	WriteJSON(w, StatusOf(kind), ErrorBody{
		Code:    kind.String(),
		Message: apperr.MessageOf(err),
	})
}

// StatusOf maps error kinds to HTTP status codes per the platform's error
// taxonomy.
func StatusOf(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation, apperr.KindInvalidState:
		return http.StatusBadRequest
	case apperr.KindUnauthenticated:
		return http.StatusUnauthorized
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindInsufficientStock:
		return http.StatusUnprocessableEntity
	case apperr.KindUnavailable:
		return http.StatusServiceUnavailable
	case apperr.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Decode unmarshals the request body into v, surfacing malformed input as a
// validation error.
func Decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Wrap(apperr.KindValidation, "malformed request body", err)
	}
	return nil
}

// Pagination bounds for history listings.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Page is a parsed pagination request.
type Page struct {
	Number int
	Size   int
}

// Offset returns the row offset for SQL queries.
func (p Page) Offset() int { return p.Number * p.Size }

// ParsePage reads "page" and "size" query parameters. Negative values are
// rejected; sizes above MaxPageSize are clamped.
func ParsePage(r *http.Request) (Page, error) {
	p := Page{Number: 0, Size: DefaultPageSize}

	if raw := r.URL.Query().Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return Page{}, apperr.New(apperr.KindValidation, "invalid page parameter")
		}
		p.Number = n
	}
	if raw := r.URL.Query().Get("size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return Page{}, apperr.New(apperr.KindValidation, "invalid size parameter")
		}
		if n > MaxPageSize {
			n = MaxPageSize
		}
		p.Size = n
	}
	return p, nil
}
