package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/psicoconnect/server-go/internal/audit"
	"github.com/psicoconnect/server-go/internal/config"
	apperrors "github.com/psicoconnect/server-go/internal/errors"
	"github.com/psicoconnect/server-go/internal/middleware"
	"github.com/psicoconnect/server-go/internal/model"
	"github.com/psicoconnect/server-go/internal/service"
)

type UserHandler struct {
	userService *service.UserService
	authGuard   func(http.Handler) http.Handler
}

func NewUserHandler(userService *service.UserService, authGuard func(http.Handler) http.Handler) *UserHandler {
	return &UserHandler{
		userService: userService,
		authGuard:   authGuard,
	}
}

func (h *UserHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/specialties", h.Specialties)

	r.Group(func(r chi.Router) {
		r.Use(h.authGuard)

		r.Get("/psychologists", h.ListPsychologists)
		r.With(middleware.Authorize(model.RolePsychologist)).Get("/patients", h.ListPatients)
		r.Get("/profile", h.GetProfile)
		r.Put("/profile", h.UpdateProfile)
		r.Delete("/account", h.DeactivateAccount)
		r.Get("/{id}", h.GetUser)
	})

	return r
}

func (h *UserHandler) ListPsychologists(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	users, err := h.userService.ListPsychologists(r.Context(), q.Get("specialty"), q.Get("search"), parseLimit(r, config.DefaultUserListLimit))
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]any{
		"count": len(users),
		"data":  users,
	})
}

func (h *UserHandler) ListPatients(w http.ResponseWriter, r *http.Request) {
	patients, err := h.userService.ListPatients(r.Context(), r.URL.Query().Get("search"), parseLimit(r, config.DefaultUserListLimit))
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]any{
		"count": len(patients),
		"data":  patients,
	})
}

func (h *UserHandler) Specialties(w http.ResponseWriter, r *http.Request) {
	specialties, err := h.userService.Specialties(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]any{
		"count": len(specialties),
		"data":  specialties,
	})
}

func (h *UserHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	user, err := h.userService.GetByID(r.Context(), currentUser(r).ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"data": user})
}

// profileRequest lists every field a profile update may touch. Anything else
// in the body, such as email, password or role, is dropped by the decoder.
type profileRequest struct {
	Name             *string                 `json:"name"`
	Phone            *string                 `json:"phone"`
	Description      *string                 `json:"description"`
	Specialties      []string                `json:"specialties"`
	Experience       *string                 `json:"experience"`
	Availability     *string                 `json:"availability"`
	BirthDate        *string                 `json:"birthDate"`
	EmergencyContact *model.EmergencyContact `json:"emergencyContact"`
}

func (req profileRequest) toUpdate() (model.ProfileUpdate, error) {
	update := model.ProfileUpdate{
		Name:             req.Name,
		Phone:            req.Phone,
		Description:      req.Description,
		Specialties:      req.Specialties,
		Experience:       req.Experience,
		Availability:     req.Availability,
		EmergencyContact: req.EmergencyContact,
	}
	if req.BirthDate != nil && *req.BirthDate != "" {
		birthDate, err := parseDate(*req.BirthDate)
		if err != nil {
			return update, apperrors.InvalidInput("birthDate", "expected a date such as 1990-05-21")
		}
		update.BirthDate = &birthDate
	}
	return update, nil
}

func parseDate(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, value)
}

func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	update, err := req.toUpdate()
	if err != nil {
		writeError(w, err)
		return
	}

	user, err := h.userService.UpdateProfile(r.Context(), currentUser(r).ID, update)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]any{
		"message": "Profile updated successfully",
		"data":    user,
	})
}

func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.userService.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"data": user})
}

func (h *UserHandler) DeactivateAccount(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	if err := h.userService.Deactivate(r.Context(), user.ID); err != nil {
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:   audit.EventAccountDeactivate,
		UserID: user.ID,
		Email:  user.Email,
	})
	writeSuccess(w, http.StatusOK, map[string]any{"message": "Account deactivated successfully"})
}
