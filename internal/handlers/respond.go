// Package handlers exposes the services over HTTP.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-inoperability/internal/access"
	"github.com/ukydev/fleet-inoperability/internal/apperr"
	"github.com/ukydev/fleet-inoperability/internal/listing"
	"github.com/ukydev/fleet-inoperability/internal/middleware"
)

const maxBodyBytes = 1 << 20

// Envelope is the body of every API response.
type Envelope struct {
	Success bool          `json:"success"`
	Data    interface{}   `json:"data,omitempty"`
	Meta    *listing.Meta `json:"meta,omitempty"`
	Message string        `json:"message,omitempty"`
	Error   apperr.Kind   `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, body Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func ok(w http.ResponseWriter, code int, data interface{}) {
	writeJSON(w, code, Envelope{Success: true, Data: data})
}

func okMessage(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusOK, Envelope{Success: true, Message: message})
}

func page[T any](w http.ResponseWriter, p listing.Page[T]) {
	writeJSON(w, http.StatusOK, Envelope{Success: true, Data: p.Items, Meta: &p.Meta})
}

func fail(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, Envelope{Success: false, Message: message})
}

// statusFor maps a failure kind to its HTTP status.
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindInvalidState, apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindInvalidPhase, apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindIneligible:
		return http.StatusUnprocessableEntity
	case apperr.KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err. Tagged failures keep their message and, for
// conflicts, the conflicting record as data; anything else is logged and
// hidden behind a 500.
func writeError(w http.ResponseWriter, r *http.Request, log logrus.FieldLogger, err error) {
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		middleware.Logger(r.Context(), log).WithError(err).Error("request failed")
		fail(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, statusFor(ae.Kind), Envelope{
		Success: false,
		Data:    ae.Details,
		Message: ae.Message,
		Error:   ae.Kind,
	})
}

// decode reads a JSON body into v, rejecting unknown fields.
func decode(r *http.Request, v interface{}) error {
	return decodeBody(r, v, false)
}

// decodeOptional is decode for endpoints whose body may be empty.
func decodeOptional(r *http.Request, v interface{}) error {
	return decodeBody(r, v, true)
}

func decodeBody(r *http.Request, v interface{}, optional bool) error {
	if r.Body == nil || r.Body == http.NoBody {
		if optional {
			return nil
		}
		return apperr.Validation("request body is required")
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	err := dec.Decode(v)
	switch {
	case err == nil:
		return nil
	case optional && errors.Is(err, io.EOF):
		return nil
	default:
		return apperr.Validation("invalid JSON body: %v", err)
	}
}

// caller returns the authenticated caller or writes 401.
func caller(w http.ResponseWriter, r *http.Request) (access.Caller, bool) {
	c, found := middleware.CallerFromContext(r.Context())
	if !found {
		fail(w, http.StatusUnauthorized, "User context not found")
	}
	return c, found
}

func pathID(r *http.Request) string {
	return r.PathValue("id")
}

func deleted(kind, id string) string {
	return fmt.Sprintf("%s %s deleted", kind, id)
}
