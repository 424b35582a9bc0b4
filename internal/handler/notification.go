package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/psicoconnect/server-go/internal/config"
	apperrors "github.com/psicoconnect/server-go/internal/errors"
	"github.com/psicoconnect/server-go/internal/service"
)

type NotificationHandler struct {
	notificationService *service.NotificationService
}

func NewNotificationHandler(notificationService *service.NotificationService) *NotificationHandler {
	return &NotificationHandler{notificationService: notificationService}
}

// Routes must be mounted behind the auth middleware.
func (h *NotificationHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Put("/read-all", h.MarkAllRead)
	r.Put("/{id}/read", h.MarkRead)
	r.Delete("/{id}", h.Delete)

	return r
}

type createNotificationRequest struct {
	Recipient    string  `json:"recipient"`
	RecipientID  string  `json:"recipientId"`
	Type         string  `json:"type"`
	Title        string  `json:"title"`
	Message      string  `json:"message"`
	RelatedID    string  `json:"relatedId"`
	RelatedModel string  `json:"relatedModel"`
	ActionURL    *string `json:"actionUrl"`
}

func (h *NotificationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createNotificationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	recipient := req.Recipient
	if recipient == "" {
		recipient = req.RecipientID
	}

	n, err := h.notificationService.Create(r.Context(), currentUser(r).ID, service.CreateNotificationInput{
		RecipientID:  recipient,
		Type:         req.Type,
		Title:        req.Title,
		Message:      req.Message,
		RelatedID:    req.RelatedID,
		RelatedModel: req.RelatedModel,
		ActionURL:    req.ActionURL,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusCreated, map[string]any{
		"message": "Notification sent successfully",
		"data":    n,
	})
}

func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	var read *bool
	if raw := r.URL.Query().Get("read"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, apperrors.InvalidInput("read", "expected true or false"))
			return
		}
		read = &v
	}

	list, err := h.notificationService.List(r.Context(), currentUser(r).ID, read, parseLimit(r, config.DefaultNotificationListLimit))
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]any{
		"count":       len(list.Items),
		"unreadCount": list.UnreadCount,
		"data":        list.Items,
	})
}

func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.notificationService.MarkRead(r.Context(), chi.URLParam(r, "id"), currentUser(r).ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"data": n})
}

func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	updated, err := h.notificationService.MarkAllRead(r.Context(), currentUser(r).ID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]any{
		"message": "All notifications marked as read",
		"count":   updated,
	})
}

func (h *NotificationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.notificationService.Delete(r.Context(), chi.URLParam(r, "id"), currentUser(r).ID); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"message": "Notification deleted successfully"})
}
