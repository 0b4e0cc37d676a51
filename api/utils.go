package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const (
	maxErrorMessageLength = 500
	maxRequestBodySize    = 1 << 20
)

var (
	connectionStringPattern = regexp.MustCompile(`(?:redis|http|https)://[^\s"']+`)
	credentialPattern       = regexp.MustCompile(`(?i)(password|secret|token)[:=]\s*["']?[^"'\s]+["']?`)

	validate = validator.New()
)

// sanitizeErrorMessage removes connection strings and credentials from
// messages sent to clients.
func sanitizeErrorMessage(message string) string {
	message = connectionStringPattern.ReplaceAllString(message, "[URL]")
	message = credentialPattern.ReplaceAllString(message, "$1=[REDACTED]")
	if len(message) > maxErrorMessageLength {
		message = message[:maxErrorMessageLength-3] + "..."
	}
	return message
}

// writeError writes an error response to the client and logs it with proper sanitization
func writeError(w http.ResponseWriter, statusCode int, message string, err error, logger *zap.SugaredLogger) {
	if logger != nil {
		if err != nil {
			logger.Errorw(message,
				"error", err.Error(),
				"status_code", statusCode)
		} else {
			logger.Errorw(message,
				"status_code", statusCode)
		}
	}
	http.Error(w, sanitizeErrorMessage(message), statusCode)
}

// respondJSON writes a JSON response with proper error handling
func (a *API) respondJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		a.logger.Errorw("Failed to encode JSON response",
			"error", err,
			"data_type", fmt.Sprintf("%T", data))
	}
}

// decodeJSONBody decodes and validates a JSON request body. An empty body
// decodes to the zero value.
func (a *API) decodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("invalid request: %s", validationMessage(err))
	}
	return nil
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
