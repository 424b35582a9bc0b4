package service

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/psicoconnect/server-go/internal/config"
	apperrors "github.com/psicoconnect/server-go/internal/errors"
	"github.com/psicoconnect/server-go/internal/model"
	"github.com/psicoconnect/server-go/internal/repository"
	"github.com/psicoconnect/server-go/internal/util"
)

// EventNotification is the realtime event carrying a newly created
// notification to its recipient.
const EventNotification = "notification"

// RealtimePublisher pushes an event to every live connection of a user.
type RealtimePublisher interface {
	EmitToUser(ctx context.Context, userID, event string, payload any) error
}

type CreateNotificationInput struct {
	RecipientID  string
	Type         string
	Title        string
	Message      string
	RelatedID    string
	RelatedModel string
	ActionURL    *string
}

type NotificationList struct {
	Items       []model.Notification
	UnreadCount int
}

type NotificationService struct {
	notifRepo repository.NotificationRepository
	userRepo  repository.UserRepository
	publisher RealtimePublisher
}

func NewNotificationService(
	notifRepo repository.NotificationRepository,
	userRepo repository.UserRepository,
	publisher RealtimePublisher,
) *NotificationService {
	return &NotificationService{
		notifRepo: notifRepo,
		userRepo:  userRepo,
		publisher: publisher,
	}
}

// Create stores the notification and then pushes it to the recipient's live
// connections. Push failure does not fail the request; the stored record is
// still retrievable through List.
func (s *NotificationService) Create(ctx context.Context, senderID string, in CreateNotificationInput) (*model.Notification, error) {
	title := strings.TrimSpace(in.Title)
	message := strings.TrimSpace(in.Message)
	if in.RecipientID == "" || in.Type == "" || title == "" || message == "" {
		return nil, apperrors.ValidationError("Missing required fields")
	}

	notifType := model.NotificationType(in.Type)
	if !notifType.IsValid() {
		return nil, apperrors.ValidationError("Invalid notification type: " + in.Type)
	}

	var related model.RelatedEntity
	if in.RelatedID != "" || in.RelatedModel != "" {
		r, err := model.NewRelatedEntity(in.RelatedModel, in.RelatedID)
		if err != nil {
			return nil, apperrors.ValidationError(err.Error())
		}
		related = r
	}

	if !util.IsValidUUID(in.RecipientID) {
		return nil, apperrors.NotFound("Recipient")
	}
	recipient, err := s.userRepo.FindByID(ctx, in.RecipientID)
	if err != nil {
		return nil, err
	}
	if recipient == nil {
		return nil, apperrors.NotFound("Recipient")
	}

	n, err := s.notifRepo.Create(ctx, model.NewNotification{
		RecipientID: recipient.ID,
		SenderID:    senderID,
		Type:        notifType,
		Title:       title,
		Message:     message,
		Related:     related,
		ActionURL:   util.TrimmedOrNil(in.ActionURL),
	})
	if err != nil {
		return nil, err
	}

	if err := s.publisher.EmitToUser(ctx, n.RecipientID, EventNotification, n); err != nil {
		log.Warn().Err(err).Str("notificationId", n.ID).Str("recipientId", n.RecipientID).Msg("failed to push notification")
	}
	return n, nil
}

func (s *NotificationService) List(ctx context.Context, recipientID string, read *bool, limit int) (*NotificationList, error) {
	items, err := s.notifRepo.ListByRecipient(ctx, recipientID, read, ClampLimit(limit, config.DefaultNotificationListLimit))
	if err != nil {
		return nil, err
	}
	unread, err := s.notifRepo.CountUnread(ctx, recipientID)
	if err != nil {
		return nil, err
	}
	return &NotificationList{Items: items, UnreadCount: unread}, nil
}

// MarkRead answers NotFound both for a missing notification and for one owned
// by someone else, so existence is not revealed.
func (s *NotificationService) MarkRead(ctx context.Context, id, recipientID string) (*model.Notification, error) {
	if !util.IsValidUUID(id) {
		return nil, apperrors.NotFound("Notification")
	}
	n, err := s.notifRepo.MarkRead(ctx, id, recipientID)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, apperrors.NotFound("Notification")
	}
	return n, nil
}

func (s *NotificationService) MarkAllRead(ctx context.Context, recipientID string) (int64, error) {
	return s.notifRepo.MarkAllRead(ctx, recipientID)
}

func (s *NotificationService) Delete(ctx context.Context, id, recipientID string) error {
	if !util.IsValidUUID(id) {
		return apperrors.NotFound("Notification")
	}
	deleted, err := s.notifRepo.Delete(ctx, id, recipientID)
	if err != nil {
		return err
	}
	if !deleted {
		return apperrors.NotFound("Notification")
	}
	return nil
}
