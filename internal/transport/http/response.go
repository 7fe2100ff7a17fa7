package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/iamasit07/mydrop-auth/internal/domain"
)

const maxBodyBytes = 1 << 20

type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeJSONError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, ErrorResponse{Error: message}, status)
}

func writePNG(w http.ResponseWriter, png []byte) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

// generic errors never say which part of a credential was wrong
var unauthorizedErrors = []error{
	domain.ErrInvalidCredentials,
	domain.ErrInvalidToken,
	domain.ErrSignatureVerificationFailed,
}

var statusByError = []struct {
	err    error
	status int
}{
	{domain.ErrInvalidOrExpiredFlow, http.StatusBadRequest},
	{domain.ErrCeremonyMismatch, http.StatusBadRequest},
	{domain.ErrNotFound, http.StatusNotFound},
	{domain.ErrForbidden, http.StatusForbidden},
	{domain.ErrQRLoginDisabled, http.StatusForbidden},
	{domain.ErrNotApproved, http.StatusConflict},
	{domain.ErrUsernameTaken, http.StatusConflict},
	{domain.ErrInvalidInput, http.StatusBadRequest},
	{domain.ErrMissingParameter, http.StatusBadRequest},
	{domain.ErrMissingDeviceID, http.StatusBadRequest},
	{domain.ErrAliasTooLong, http.StatusBadRequest},
	{domain.ErrNothingToUpdate, http.StatusBadRequest},
	{domain.ErrTOTPNotEnabled, http.StatusBadRequest},
	{domain.ErrWeakPassword, http.StatusBadRequest},
}

// writeError maps a service error onto a status code. Unknown errors are
// logged and answered with a generic 500.
func writeError(w http.ResponseWriter, logger *zap.Logger, event string, err error) {
	for _, target := range unauthorizedErrors {
		if errors.Is(err, target) {
			writeJSONError(w, target.Error(), http.StatusUnauthorized)
			return
		}
	}
	for _, m := range statusByError {
		if errors.Is(err, m.err) {
			writeJSONError(w, err.Error(), m.status)
			return
		}
	}
	logger.Error(event, zap.Error(err))
	writeJSONError(w, "internal server error", http.StatusInternalServerError)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: request body is not valid json", domain.ErrInvalidInput)
	}
	return nil
}

// flexBool accepts true, 1, "1" and "true" as true, anything else as false.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	switch strings.ToLower(s) {
	case "true", "1":
		*b = true
	default:
		*b = false
	}
	return nil
}

// optionalBool distinguishes an absent field from false.
type optionalBool struct {
	Set   bool
	Value bool
}

func (o *optionalBool) UnmarshalJSON(data []byte) error {
	var b flexBool
	if err := b.UnmarshalJSON(data); err != nil {
		return err
	}
	if strings.TrimSpace(string(data)) == "null" {
		return nil
	}
	o.Set = true
	o.Value = bool(b)
	return nil
}

func (o optionalBool) Ptr() *bool {
	if !o.Set {
		return nil
	}
	v := o.Value
	return &v
}
