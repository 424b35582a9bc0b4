package handler

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/psicoconnect/server-go/internal/model"
)

// memUserRepo is an in-memory UserRepository. Unique violations come back as
// the same *pq.Error Postgres would raise.
type memUserRepo struct {
	mu    sync.Mutex
	users map[string]*model.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: make(map[string]*model.User)}
}

func (m *memUserRepo) copyOf(u *model.User) *model.User {
	c := *u
	c.Specialties = slices.Clone(u.Specialties)
	return &c
}

func (m *memUserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		return m.copyOf(u), nil
	}
	return nil, nil
}

func (m *memUserRepo) FindByEmail(_ context.Context, email string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return m.copyOf(u), nil
		}
	}
	return nil, nil
}

func (m *memUserRepo) FindByLicenseID(_ context.Context, licenseID string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.LicenseID != nil && *u.LicenseID == licenseID {
			return m.copyOf(u), nil
		}
	}
	return nil, nil
}

func (m *memUserRepo) Create(_ context.Context, p model.CreateUserParams) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == p.Email {
			return nil, &pq.Error{Code: "23505", Constraint: "users_email_key"}
		}
		if p.LicenseID != nil && u.LicenseID != nil && *u.LicenseID == *p.LicenseID {
			return nil, &pq.Error{Code: "23505", Constraint: "users_license_id_key"}
		}
	}

	now := time.Now().UTC()
	u := &model.User{
		ID:           uuid.NewString(),
		Name:         p.Name,
		Email:        p.Email,
		PasswordHash: p.PasswordHash,
		Role:         p.Role,
		Phone:        p.Phone,
		LicenseID:    p.LicenseID,
		Specialties:  pq.StringArray(p.Specialties),
		Description:  p.Description,
		AccountState: model.AccountStateActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if u.Specialties == nil {
		u.Specialties = pq.StringArray{}
	}
	m.users[u.ID] = u
	return m.copyOf(u), nil
}

func (m *memUserRepo) UpdateProfile(_ context.Context, id string, p model.ProfileUpdate) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	if p.Name != nil {
		u.Name = *p.Name
	}
	if p.Phone != nil {
		u.Phone = p.Phone
	}
	if p.Description != nil {
		u.Description = p.Description
	}
	if p.Specialties != nil {
		u.Specialties = pq.StringArray(p.Specialties)
	}
	if p.Experience != nil {
		u.Experience = p.Experience
	}
	if p.Availability != nil {
		u.Availability = p.Availability
	}
	if p.BirthDate != nil {
		u.BirthDate = p.BirthDate
	}
	if p.EmergencyContact != nil {
		u.EmergencyContact = p.EmergencyContact
	}
	u.UpdatedAt = time.Now().UTC()
	return m.copyOf(u), nil
}

func (m *memUserRepo) UpdatePassword(_ context.Context, id, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		u.PasswordHash = passwordHash
	}
	return nil
}

func (m *memUserRepo) UpdateLastLogin(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		u.LastLoginAt = &at
	}
	return nil
}

func (m *memUserRepo) SetAccountState(_ context.Context, id string, state model.AccountState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		u.AccountState = state
	}
	return nil
}

func (m *memUserRepo) ListPsychologists(_ context.Context, f model.UserFilter) ([]model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.User{}
	for _, u := range m.users {
		if u.Role != model.RolePsychologist || !u.IsActive() {
			continue
		}
		if f.Specialty != "" && !slices.Contains(u.Specialties, f.Specialty) {
			continue
		}
		if f.Search != "" && !strings.Contains(strings.ToLower(u.Name), strings.ToLower(f.Search)) {
			continue
		}
		out = append(out, *m.copyOf(u))
	}
	return limited(out, f.Limit), nil
}

func (m *memUserRepo) ListPatients(_ context.Context, f model.UserFilter) ([]model.PatientSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.PatientSummary{}
	for _, u := range m.users {
		if u.Role != model.RolePatient || !u.IsActive() {
			continue
		}
		if f.Search != "" && !strings.Contains(strings.ToLower(u.Name), strings.ToLower(f.Search)) {
			continue
		}
		out = append(out, model.PatientSummary{
			ID:        u.ID,
			Name:      u.Name,
			Email:     u.Email,
			Phone:     u.Phone,
			Avatar:    u.Avatar,
			CreatedAt: u.CreatedAt,
		})
	}
	return limited(out, f.Limit), nil
}

func (m *memUserRepo) DistinctSpecialties(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []string{}
	for _, u := range m.users {
		if u.Role != model.RolePsychologist || !u.IsActive() {
			continue
		}
		for _, s := range u.Specialties {
			if s != "" && !slices.Contains(out, s) {
				out = append(out, s)
			}
		}
	}
	slices.Sort(out)
	return out, nil
}

func limited[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

type memNotificationRepo struct {
	mu    sync.Mutex
	items []*model.Notification
}

func newMemNotificationRepo() *memNotificationRepo {
	return &memNotificationRepo{}
}

func (m *memNotificationRepo) Create(_ context.Context, p model.NewNotification) (*model.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	n := &model.Notification{
		ID:          uuid.NewString(),
		RecipientID: p.RecipientID,
		SenderID:    p.SenderID,
		Type:        p.Type,
		Title:       p.Title,
		Message:     p.Message,
		ActionURL:   p.ActionURL,
		Related:     p.Related,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.items = append(m.items, n)
	c := *n
	return &c, nil
}

func (m *memNotificationRepo) FindByID(_ context.Context, id string) (*model.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range m.items {
		if n.ID == id {
			c := *n
			return &c, nil
		}
	}
	return nil, nil
}

func (m *memNotificationRepo) ListByRecipient(_ context.Context, recipientID string, read *bool, limit int) ([]model.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Notification{}
	for i := len(m.items) - 1; i >= 0; i-- {
		n := m.items[i]
		if n.RecipientID != recipientID || (read != nil && n.Read != *read) {
			continue
		}
		out = append(out, *n)
	}
	return limited(out, limit), nil
}

func (m *memNotificationRepo) CountUnread(_ context.Context, recipientID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, n := range m.items {
		if n.RecipientID == recipientID && !n.Read {
			count++
		}
	}
	return count, nil
}

func (m *memNotificationRepo) MarkRead(_ context.Context, id, recipientID string) (*model.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range m.items {
		if n.ID == id && n.RecipientID == recipientID {
			n.Read = true
			c := *n
			return &c, nil
		}
	}
	return nil, nil
}

func (m *memNotificationRepo) MarkAllRead(_ context.Context, recipientID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for _, n := range m.items {
		if n.RecipientID == recipientID && !n.Read {
			n.Read = true
			count++
		}
	}
	return count, nil
}

func (m *memNotificationRepo) Delete(_ context.Context, id, recipientID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, n := range m.items {
		if n.ID == id && n.RecipientID == recipientID {
			m.items = slices.Delete(m.items, i, i+1)
			return true, nil
		}
	}
	return false, nil
}

func (m *memNotificationRepo) DeleteReadBefore(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	m.items = slices.DeleteFunc(m.items, func(n *model.Notification) bool {
		if n.Read && n.UpdatedAt.Before(before) {
			count++
			return true
		}
		return false
	})
	return count, nil
}
