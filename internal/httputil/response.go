package httputil

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"sync/atomic"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	apperrors "github.com/psicoconnect/server-go/internal/errors"
)

var exposeCauses atomic.Bool

// ExposeErrorCauses controls whether the underlying cause of an error is
// written to the "error" field. Enabled outside production only.
func ExposeErrorCauses(enabled bool) {
	exposeCauses.Store(enabled)
}

func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes the success envelope. Keys from body are merged next
// to "success".
func WriteSuccess(w http.ResponseWriter, status int, body map[string]any) {
	envelope := make(map[string]any, len(body)+1)
	for k, v := range body {
		envelope[k] = v
	}
	envelope["success"] = true
	WriteJSON(w, status, envelope)
}

// ErrorResponse is the standard error response format
type ErrorResponse struct {
	Success bool                `json:"success"`
	Message string              `json:"message"`
	Code    apperrors.ErrorCode `json:"code"`
	Details any                 `json:"details,omitempty"`
	Error   string              `json:"error,omitempty"`
}

// WriteError writes any error as an HTTP response with appropriate status code.
// Store-level errors are normalized into the application taxonomy first.
func WriteError(w http.ResponseWriter, err error) {
	appErr := Normalize(err)
	status := StatusFromCode(appErr.Code)

	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("code", string(appErr.Code)).Msg("request failed")
	}

	response := ErrorResponse{
		Success: false,
		Message: appErr.Message,
		Code:    appErr.Code,
		Details: appErr.Details,
	}
	if exposeCauses.Load() {
		if cause := errors.Unwrap(appErr); cause != nil {
			response.Error = cause.Error()
		} else if !apperrors.IsAppError(err) {
			response.Error = err.Error()
		}
	}

	WriteJSON(w, status, response)
}

var (
	duplicateKeyDetail = regexp.MustCompile(`^Key \(([a-z_]+)\)=`)

	constraintFields = map[string]string{
		"users_email_key":      "email",
		"users_license_id_key": "licenseId",
	}
)

// Normalize maps an arbitrary error onto an AppError.
func Normalize(err error) *apperrors.AppError {
	if appErr, ok := apperrors.AsAppError(err); ok {
		return appErr
	}

	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.NotFound("Resource").WithCause(err)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505": // unique_violation
			return apperrors.DuplicateField(duplicateField(pqErr)).WithCause(err)
		case "22P02", "23503": // invalid_text_representation, foreign_key_violation
			return apperrors.NotFound("Resource").WithCause(err)
		case "23502", "23514", "22001": // not_null, check, string_data_right_truncation
			return apperrors.ValidationError("Invalid data").WithCause(err)
		}
		return apperrors.Database(err)
	}

	return apperrors.Internal("Internal server error").WithCause(err)
}

func duplicateField(pqErr *pq.Error) string {
	if field, ok := constraintFields[pqErr.Constraint]; ok {
		return field
	}
	if m := duplicateKeyDetail.FindStringSubmatch(pqErr.Detail); m != nil {
		return m[1]
	}
	return "field"
}

// StatusFromCode maps ErrorCode to HTTP status code
func StatusFromCode(code apperrors.ErrorCode) int {
	switch code {
	// 400 Bad Request
	case apperrors.ErrCodeValidation,
		apperrors.ErrCodeInvalidInput,
		apperrors.ErrCodeDuplicateField:
		return http.StatusBadRequest

	// 401 Unauthorized
	case apperrors.ErrCodeUnauthorized,
		apperrors.ErrCodeNoToken,
		apperrors.ErrCodeInvalidToken,
		apperrors.ErrCodeUserNotFound,
		apperrors.ErrCodeAccountDisabled,
		apperrors.ErrCodeInvalidCredentials,
		apperrors.ErrCodeRoleMismatch:
		return http.StatusUnauthorized

	// 403 Forbidden
	case apperrors.ErrCodeForbidden:
		return http.StatusForbidden

	// 404 Not Found
	case apperrors.ErrCodeNotFound:
		return http.StatusNotFound

	// 429 Too Many Requests
	case apperrors.ErrCodeRateLimitExceeded:
		return http.StatusTooManyRequests

	default:
		return http.StatusInternalServerError
	}
}
