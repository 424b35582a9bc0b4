package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/psicoconnect/server-go/internal/model"
)

type NotificationRepository interface {
	Create(ctx context.Context, params model.NewNotification) (*model.Notification, error)
	FindByID(ctx context.Context, id string) (*model.Notification, error)
	ListByRecipient(ctx context.Context, recipientID string, read *bool, limit int) ([]model.Notification, error)
	CountUnread(ctx context.Context, recipientID string) (int, error)
	// MarkRead returns nil when no notification with id belongs to recipientID.
	MarkRead(ctx context.Context, id, recipientID string) (*model.Notification, error)
	MarkAllRead(ctx context.Context, recipientID string) (int64, error)
	// Delete reports whether a notification owned by recipientID was removed.
	Delete(ctx context.Context, id, recipientID string) (bool, error)
	DeleteReadBefore(ctx context.Context, before time.Time) (int64, error)
}

type notificationRepo struct {
	db *sqlx.DB
}

func NewNotificationRepository(db *sqlx.DB) NotificationRepository {
	return &notificationRepo{db: db}
}

// notificationRow flattens the related variant and the joined sender columns.
type notificationRow struct {
	model.Notification
	RelatedKind  sql.NullString `db:"related_kind"`
	RelatedID    sql.NullString `db:"related_id"`
	SenderName   sql.NullString `db:"sender_name"`
	SenderAvatar *string        `db:"sender_avatar"`
	SenderRole   sql.NullString `db:"sender_role"`
}

func (row *notificationRow) toModel() (*model.Notification, error) {
	n := row.Notification
	if row.RelatedKind.Valid && row.RelatedID.Valid {
		related, err := model.NewRelatedEntity(row.RelatedKind.String, row.RelatedID.String)
		if err != nil {
			return nil, fmt.Errorf("notification %s: %w", n.ID, err)
		}
		n.Related = related
	}
	if row.SenderName.Valid {
		n.Sender = &model.SenderSummary{
			ID:     n.SenderID,
			Name:   row.SenderName.String,
			Avatar: row.SenderAvatar,
			Role:   model.Role(row.SenderRole.String),
		}
	}
	return &n, nil
}

func rowsToModels(rows []notificationRow) ([]model.Notification, error) {
	out := make([]model.Notification, 0, len(rows))
	for i := range rows {
		n, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, *n)
	}
	return out, nil
}

const notificationColumns = `
	n.id, n.recipient_id, n.sender_id, n.type, n.title, n.message, n.read,
	n.related_kind, n.related_id, n.action_url, n.created_at, n.updated_at,
	u.name AS sender_name, u.avatar AS sender_avatar, u.role AS sender_role`

func (r *notificationRepo) Create(ctx context.Context, params model.NewNotification) (*model.Notification, error) {
	var relatedKind, relatedID sql.NullString
	if params.Related != nil {
		relatedKind = sql.NullString{String: string(params.Related.Kind()), Valid: true}
		relatedID = sql.NullString{String: params.Related.EntityID(), Valid: true}
	}

	var id string
	err := r.db.GetContext(ctx, &id, `
		INSERT INTO notifications (recipient_id, sender_id, type, title, message, related_kind, related_id, action_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, params.RecipientID, params.SenderID, params.Type, params.Title, params.Message,
		relatedKind, relatedID, params.ActionURL)
	if err != nil {
		return nil, err
	}

	n, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, fmt.Errorf("notification %s vanished after insert", id)
	}
	return n, nil
}

func (r *notificationRepo) FindByID(ctx context.Context, id string) (*model.Notification, error) {
	var row notificationRow
	err := r.db.GetContext(ctx, &row, `
		SELECT `+notificationColumns+`
		FROM notifications n
		LEFT JOIN users u ON u.id = n.sender_id
		WHERE n.id = $1
	`, id)
	found, err := HandleNotFound(&row, err)
	if err != nil || found == nil {
		return nil, err
	}
	return found.toModel()
}

func (r *notificationRepo) ListByRecipient(ctx context.Context, recipientID string, read *bool, limit int) ([]model.Notification, error) {
	var rows []notificationRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+notificationColumns+`
		FROM notifications n
		LEFT JOIN users u ON u.id = n.sender_id
		WHERE n.recipient_id = $1 AND ($2::boolean IS NULL OR n.read = $2)
		ORDER BY n.created_at DESC
		LIMIT $3
	`, recipientID, read, limit)
	if err != nil {
		return nil, err
	}
	return rowsToModels(rows)
}

func (r *notificationRepo) CountUnread(ctx context.Context, recipientID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM notifications WHERE recipient_id = $1 AND read = FALSE
	`, recipientID)
	return count, err
}

func (r *notificationRepo) MarkRead(ctx context.Context, id, recipientID string) (*model.Notification, error) {
	var row notificationRow
	err := r.db.GetContext(ctx, &row, `
		WITH n AS (
			UPDATE notifications SET read = TRUE, updated_at = $3
			WHERE id = $1 AND recipient_id = $2
			RETURNING *
		)
		SELECT `+notificationColumns+`
		FROM n
		LEFT JOIN users u ON u.id = n.sender_id
	`, id, recipientID, time.Now())
	found, err := HandleNotFound(&row, err)
	if err != nil || found == nil {
		return nil, err
	}
	return found.toModel()
}

func (r *notificationRepo) MarkAllRead(ctx context.Context, recipientID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE notifications SET read = TRUE, updated_at = $2
		WHERE recipient_id = $1 AND read = FALSE
	`, recipientID, time.Now())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *notificationRepo) Delete(ctx context.Context, id, recipientID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM notifications WHERE id = $1 AND recipient_id = $2
	`, id, recipientID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// DeleteReadBefore prunes read notifications last updated before the cutoff.
// Marking a notification read touches updated_at, so a recently read
// notification survives even when it was created long ago. Unread
// notifications are kept regardless of age.
func (r *notificationRepo) DeleteReadBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM notifications WHERE read = TRUE AND updated_at < $1
	`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
