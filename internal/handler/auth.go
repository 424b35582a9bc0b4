package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/psicoconnect/server-go/internal/audit"
	apperrors "github.com/psicoconnect/server-go/internal/errors"
	"github.com/psicoconnect/server-go/internal/service"
)

type AuthHandler struct {
	authService *service.AuthService
	authGuard   func(http.Handler) http.Handler
	loginGuard  func(http.Handler) http.Handler
}

// NewAuthHandler wires the auth routes. authGuard protects the routes that
// need a session; loginGuard throttles the credential endpoints.
func NewAuthHandler(
	authService *service.AuthService,
	authGuard func(http.Handler) http.Handler,
	loginGuard func(http.Handler) http.Handler,
) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		authGuard:   authGuard,
		loginGuard:  loginGuard,
	}
}

func (h *AuthHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(h.loginGuard)
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.authGuard)
		r.Get("/me", h.Me)
		r.Put("/update-password", h.UpdatePassword)
	})

	return r
}

type registerRequest struct {
	Name        string   `json:"name"`
	Email       string   `json:"email"`
	Password    string   `json:"password"`
	Role        string   `json:"role"`
	Phone       *string  `json:"phone"`
	LicenseID   *string  `json:"licenseId"`
	Specialties []string `json:"specialties"`
	Description *string  `json:"description"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	user, token, err := h.authService.Register(r.Context(), service.RegisterInput{
		Name:        req.Name,
		Email:       req.Email,
		Password:    req.Password,
		Role:        req.Role,
		Phone:       req.Phone,
		LicenseID:   req.LicenseID,
		Specialties: req.Specialties,
		Description: req.Description,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:    audit.EventRegister,
		UserID:  user.ID,
		Email:   user.Email,
		Details: map[string]any{"role": string(user.Role)},
	})

	writeSuccess(w, http.StatusCreated, map[string]any{
		"message": "User registered successfully",
		"data": map[string]any{
			"user":  user,
			"token": token,
		},
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	user, token, err := h.authService.Login(r.Context(), service.LoginInput{
		Email:    req.Email,
		Password: req.Password,
		Role:     req.Role,
	})
	if err != nil {
		switch code := apperrors.GetCode(err); code {
		case apperrors.ErrCodeInvalidCredentials, apperrors.ErrCodeRoleMismatch, apperrors.ErrCodeAccountDisabled:
			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventLoginFailure,
				Email:   req.Email,
				Details: map[string]any{"code": string(code)},
			})
		}
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:   audit.EventLoginSuccess,
		UserID: user.ID,
		Email:  user.Email,
	})

	writeSuccess(w, http.StatusOK, map[string]any{
		"message": "Login successful",
		"data": map[string]any{
			"user":  user,
			"token": token,
		},
	})
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, map[string]any{"data": currentUser(r)})
}

type updatePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (h *AuthHandler) UpdatePassword(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	var req updatePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	if err := h.authService.UpdatePassword(r.Context(), user.ID, req.CurrentPassword, req.NewPassword); err != nil {
		if apperrors.GetCode(err) == apperrors.ErrCodeUnauthorized {
			audit.LogFromRequest(r, audit.Event{Type: audit.EventPasswordFailure, UserID: user.ID})
		}
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{Type: audit.EventPasswordChange, UserID: user.ID})
	writeSuccess(w, http.StatusOK, map[string]any{"message": "Password updated successfully"})
}
