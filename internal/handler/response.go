package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	apperrors "github.com/psicoconnect/server-go/internal/errors"
	"github.com/psicoconnect/server-go/internal/httputil"
	"github.com/psicoconnect/server-go/internal/middleware"
	"github.com/psicoconnect/server-go/internal/model"
	"github.com/psicoconnect/server-go/internal/service"
)

func writeSuccess(w http.ResponseWriter, status int, body map[string]any) {
	httputil.WriteSuccess(w, status, body)
}

func writeError(w http.ResponseWriter, err error) {
	httputil.WriteError(w, err)
}

// decodeJSON reads a JSON object into dst. An empty body leaves dst untouched.
func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return apperrors.ValidationError("Invalid JSON body").WithCause(err)
	}
	return nil
}

// parseLimit reads the "limit" query parameter, falling back to def when it
// is absent or not a number.
func parseLimit(r *http.Request, def int) int {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return service.ClampLimit(limit, def)
}

// currentUser returns the user placed in the context by the auth middleware.
// Routes using it are always mounted behind that middleware.
func currentUser(r *http.Request) *model.User {
	return middleware.GetUser(r.Context())
}
