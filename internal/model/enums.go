package model

import "strings"

type Role string

const (
	RolePatient      Role = "patient"
	RolePsychologist Role = "psychologist"
)

func (r Role) IsValid() bool {
	switch r {
	case RolePatient, RolePsychologist:
		return true
	}
	return false
}

// AccountState replaces a boolean active flag so further states can be added
// without changing what "active" means.
type AccountState string

const (
	AccountStateActive      AccountState = "active"
	AccountStateDeactivated AccountState = "deactivated"
)

func (s AccountState) IsActive() bool {
	return s == AccountStateActive
}

type NotificationType string

const (
	NotificationAppointmentRequest   NotificationType = "appointment_request"
	NotificationAppointmentConfirmed NotificationType = "appointment_confirmed"
	NotificationAppointmentCancelled NotificationType = "appointment_cancelled"
	NotificationMessage              NotificationType = "message"
	NotificationProfileView          NotificationType = "profile_view"
	NotificationGeneral              NotificationType = "general"
)

func (t NotificationType) IsValid() bool {
	switch t {
	case NotificationAppointmentRequest, NotificationAppointmentConfirmed,
		NotificationAppointmentCancelled, NotificationMessage,
		NotificationProfileView, NotificationGeneral:
		return true
	}
	return false
}

// ParseRole accepts the canonical role names case-insensitively, plus the
// Portuguese names older clients still send.
func ParseRole(s string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "patient", "paciente":
		return RolePatient, true
	case "psychologist", "psicologo", "psicólogo":
		return RolePsychologist, true
	}
	return "", false
}
