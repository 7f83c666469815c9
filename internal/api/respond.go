package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/hackgods/consultation-escrow/internal/reason"
)

var validate = validator.New()

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// statusFor maps an error kind to the HTTP status the caller sees.
func statusFor(kind reason.Kind) int {
	switch kind {
	case reason.KindValidation:
		return http.StatusUnprocessableEntity
	case reason.KindConflict:
		return http.StatusConflict
	case reason.KindResource:
		return http.StatusPaymentRequired
	case reason.KindTransient:
		return http.StatusServiceUnavailable
	case reason.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeDomainError writes the stable reason code of err. Internal errors
// never leak their message.
func writeDomainError(w http.ResponseWriter, err error, bookingID string) {
	kind := reason.KindOf(err)
	status := statusFor(kind)

	resp := ErrorResponse{Error: string(reason.CodeOf(err)), BookingID: bookingID}
	if status == http.StatusInternalServerError {
		resp.Details = "internal error"
	} else {
		resp.Details = err.Error()
	}
	if kind == reason.KindTransient {
		w.Header().Set("Retry-After", "1")
	}

	writeJSON(w, status, resp)
}

// decodeAndValidate reads a JSON body into dst and runs struct validation.
// It writes the 400 response itself and reports false on failure.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}

	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fieldMessage(fe))
			}
			writeError(w, http.StatusBadRequest, "validation_failed", strings.Join(msgs, "; "))
			return false
		}
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return false
	}
	return true
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "uuid":
		return fe.Field() + " must be a valid UUID"
	default:
		return fe.Field() + " is invalid"
	}
}
