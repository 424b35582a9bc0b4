package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/psicoconnect/server-go/internal/model"
)

type UserRepository interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	FindByLicenseID(ctx context.Context, licenseID string) (*model.User, error)
	Create(ctx context.Context, params model.CreateUserParams) (*model.User, error)
	UpdateProfile(ctx context.Context, id string, update model.ProfileUpdate) (*model.User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
	SetAccountState(ctx context.Context, id string, state model.AccountState) error
	ListPsychologists(ctx context.Context, filter model.UserFilter) ([]model.User, error)
	ListPatients(ctx context.Context, filter model.UserFilter) ([]model.PatientSummary, error)
	DistinctSpecialties(ctx context.Context) ([]string, error)
}

type userRepo struct {
	db *sqlx.DB
}

func NewUserRepository(db *sqlx.DB) UserRepository {
	return &userRepo{db: db}
}

func (r *userRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	var user model.User
	err := r.db.GetContext(ctx, &user, `SELECT * FROM users WHERE id = $1`, id)
	return HandleNotFound(&user, err)
}

func (r *userRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	err := r.db.GetContext(ctx, &user, `SELECT * FROM users WHERE email = $1`, email)
	return HandleNotFound(&user, err)
}

func (r *userRepo) FindByLicenseID(ctx context.Context, licenseID string) (*model.User, error) {
	var user model.User
	err := r.db.GetContext(ctx, &user, `SELECT * FROM users WHERE license_id = $1`, licenseID)
	return HandleNotFound(&user, err)
}

func (r *userRepo) Create(ctx context.Context, params model.CreateUserParams) (*model.User, error) {
	specialties := params.Specialties
	if specialties == nil {
		specialties = []string{}
	}

	var user model.User
	err := r.db.GetContext(ctx, &user, `
		INSERT INTO users (name, email, password_hash, role, phone, license_id, specialties, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING *
	`, params.Name, params.Email, params.PasswordHash, params.Role, params.Phone,
		params.LicenseID, pq.StringArray(specialties), params.Description)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepo) UpdateProfile(ctx context.Context, id string, update model.ProfileUpdate) (*model.User, error) {
	var user model.User
	err := r.db.GetContext(ctx, &user, `
		UPDATE users SET
			name = COALESCE($2, name),
			phone = COALESCE($3, phone),
			description = COALESCE($4, description),
			specialties = COALESCE($5, specialties),
			experience = COALESCE($6, experience),
			availability = COALESCE($7, availability),
			birth_date = COALESCE($8, birth_date),
			emergency_contact = COALESCE($9, emergency_contact),
			updated_at = $10
		WHERE id = $1
		RETURNING *
	`, id, update.Name, update.Phone, update.Description, pq.StringArray(update.Specialties),
		update.Experience, update.Availability, update.BirthDate, update.EmergencyContact, time.Now())
	return HandleNotFound(&user, err)
}

func (r *userRepo) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1
	`, id, passwordHash, time.Now())
	return err
}

func (r *userRepo) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE users SET last_login_at = $2 WHERE id = $1`, id, at)
	return err
}

func (r *userRepo) SetAccountState(ctx context.Context, id string, state model.AccountState) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users SET account_state = $2, updated_at = $3 WHERE id = $1
	`, id, state, time.Now())
	return err
}

func (r *userRepo) ListPsychologists(ctx context.Context, filter model.UserFilter) ([]model.User, error) {
	where, args := activeRoleWhere(model.RolePsychologist)

	if filter.Specialty != "" {
		args = append(args, filter.Specialty)
		where = append(where, fmt.Sprintf("$%d = ANY(specialties)", len(args)))
	}
	if filter.Search != "" {
		args = append(args, containsPattern(filter.Search))
		n := len(args)
		where = append(where, fmt.Sprintf("(name ILIKE $%d OR description ILIKE $%d)", n, n))
	}
	args = append(args, filter.Limit)

	query := fmt.Sprintf(`
		SELECT * FROM users
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d
	`, strings.Join(where, " AND "), len(args))

	users := []model.User{}
	if err := r.db.SelectContext(ctx, &users, query, args...); err != nil {
		return nil, err
	}
	return users, nil
}

func (r *userRepo) ListPatients(ctx context.Context, filter model.UserFilter) ([]model.PatientSummary, error) {
	where, args := activeRoleWhere(model.RolePatient)

	if filter.Search != "" {
		args = append(args, containsPattern(filter.Search))
		where = append(where, fmt.Sprintf("name ILIKE $%d", len(args)))
	}
	args = append(args, filter.Limit)

	query := fmt.Sprintf(`
		SELECT id, name, email, phone, avatar, created_at FROM users
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d
	`, strings.Join(where, " AND "), len(args))

	patients := []model.PatientSummary{}
	if err := r.db.SelectContext(ctx, &patients, query, args...); err != nil {
		return nil, err
	}
	return patients, nil
}

func (r *userRepo) DistinctSpecialties(ctx context.Context) ([]string, error) {
	specialties := []string{}
	err := r.db.SelectContext(ctx, &specialties, `
		SELECT DISTINCT s FROM users, unnest(specialties) AS s
		WHERE role = $1 AND account_state = $2 AND btrim(s) <> ''
		ORDER BY s
	`, model.RolePsychologist, model.AccountStateActive)
	if err != nil {
		return nil, err
	}
	return specialties, nil
}

func activeRoleWhere(role model.Role) ([]string, []any) {
	return []string{"role = $1", "account_state = $2"}, []any{role, model.AccountStateActive}
}
