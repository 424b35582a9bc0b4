package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type Notification struct {
	ID          string           `db:"id" json:"id"`
	RecipientID string           `db:"recipient_id" json:"recipientId"`
	SenderID    string           `db:"sender_id" json:"senderId"`
	Type        NotificationType `db:"type" json:"type"`
	Title       string           `db:"title" json:"title"`
	Message     string           `db:"message" json:"message"`
	Read        bool             `db:"read" json:"read"`
	ActionURL   *string          `db:"action_url" json:"actionUrl,omitempty"`
	CreatedAt   time.Time        `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time        `db:"updated_at" json:"updatedAt"`

	Related RelatedEntity  `db:"-" json:"related,omitempty"`
	Sender  *SenderSummary `db:"-" json:"sender,omitempty"`
}

// SenderSummary is embedded in notification responses in place of the bare
// sender id.
type SenderSummary struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Avatar *string `json:"avatar,omitempty"`
	Role   Role    `json:"role"`
}

type RelatedKind string

const (
	RelatedAppointment RelatedKind = "appointment"
	RelatedUser        RelatedKind = "user"
)

// RelatedEntity is the entity a notification points at. The set of
// implementations is closed: AppointmentRef and UserRef.
type RelatedEntity interface {
	Kind() RelatedKind
	EntityID() string
	related()
}

type AppointmentRef struct{ ID string }

func (AppointmentRef) Kind() RelatedKind  { return RelatedAppointment }
func (r AppointmentRef) EntityID() string { return r.ID }
func (AppointmentRef) related()           {}

func (r AppointmentRef) MarshalJSON() ([]byte, error) {
	return marshalRelated(r)
}

type UserRef struct{ ID string }

func (UserRef) Kind() RelatedKind  { return RelatedUser }
func (r UserRef) EntityID() string { return r.ID }
func (UserRef) related()           {}

func (r UserRef) MarshalJSON() ([]byte, error) {
	return marshalRelated(r)
}

func marshalRelated(r RelatedEntity) ([]byte, error) {
	return json.Marshal(struct {
		Kind RelatedKind `json:"kind"`
		ID   string      `json:"id"`
	}{r.Kind(), r.EntityID()})
}

// NewRelatedEntity builds the variant for kind. Kind matching is
// case-insensitive so "Appointment" and "appointment" are both accepted.
func NewRelatedEntity(kind, id string) (RelatedEntity, error) {
	if id == "" {
		return nil, fmt.Errorf("related entity id is required")
	}
	switch RelatedKind(strings.ToLower(strings.TrimSpace(kind))) {
	case RelatedAppointment:
		return AppointmentRef{ID: id}, nil
	case RelatedUser:
		return UserRef{ID: id}, nil
	default:
		return nil, fmt.Errorf("unknown related entity kind %q", kind)
	}
}

type NewNotification struct {
	RecipientID string
	SenderID    string
	Type        NotificationType
	Title       string
	Message     string
	Related     RelatedEntity
	ActionURL   *string
}
