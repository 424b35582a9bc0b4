package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/lib/pq"
)

type User struct {
	ID               string            `db:"id" json:"id"`
	Name             string            `db:"name" json:"name"`
	Email            string            `db:"email" json:"email"`
	PasswordHash     string            `db:"password_hash" json:"-"`
	Role             Role              `db:"role" json:"role"`
	Phone            *string           `db:"phone" json:"phone,omitempty"`
	Avatar           *string           `db:"avatar" json:"avatar,omitempty"`
	LicenseID        *string           `db:"license_id" json:"licenseId,omitempty"`
	Specialties      pq.StringArray    `db:"specialties" json:"specialties"`
	Description      *string           `db:"description" json:"description,omitempty"`
	Experience       *string           `db:"experience" json:"experience,omitempty"`
	Availability     *string           `db:"availability" json:"availability,omitempty"`
	Verified         bool              `db:"verified" json:"verified"`
	BirthDate        *time.Time        `db:"birth_date" json:"birthDate,omitempty"`
	EmergencyContact *EmergencyContact `db:"emergency_contact" json:"emergencyContact,omitempty"`
	AccountState     AccountState      `db:"account_state" json:"accountState"`
	LastLoginAt      *time.Time        `db:"last_login_at" json:"lastLoginAt,omitempty"`
	CreatedAt        time.Time         `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time         `db:"updated_at" json:"updatedAt"`
}

func (u *User) IsActive() bool {
	return u.AccountState.IsActive()
}

const MaxDescriptionLength = 1000

// PatientSummary is the reduced projection returned by the patient listing.
type PatientSummary struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Email     string    `db:"email" json:"email"`
	Phone     *string   `db:"phone" json:"phone,omitempty"`
	Avatar    *string   `db:"avatar" json:"avatar,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// EmergencyContact is stored as a JSONB document.
type EmergencyContact struct {
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
}

func (e EmergencyContact) Value() (driver.Value, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (e *EmergencyContact) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*e = EmergencyContact{}
		return nil
	case []byte:
		return json.Unmarshal(v, e)
	case string:
		return json.Unmarshal([]byte(v), e)
	default:
		return errors.New("emergency_contact: unsupported scan type")
	}
}

// ProfileUpdate holds the only user fields a profile update may change.
// Nil means "leave unchanged".
type ProfileUpdate struct {
	Name             *string
	Phone            *string
	Description      *string
	Specialties      []string
	Experience       *string
	Availability     *string
	BirthDate        *time.Time
	EmergencyContact *EmergencyContact
}

func (p ProfileUpdate) IsEmpty() bool {
	return p.Name == nil && p.Phone == nil && p.Description == nil &&
		p.Specialties == nil && p.Experience == nil && p.Availability == nil &&
		p.BirthDate == nil && p.EmergencyContact == nil
}

// UserFilter narrows user listings.
type UserFilter struct {
	Role      Role
	Specialty string
	Search    string
	Limit     int
}

type CreateUserParams struct {
	Name         string
	Email        string
	PasswordHash string
	Role         Role
	Phone        *string
	LicenseID    *string
	Specialties  []string
	Description  *string
}
