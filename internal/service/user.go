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

type UserService struct {
	userRepo repository.UserRepository
}

func NewUserService(userRepo repository.UserRepository) *UserService {
	return &UserService{userRepo: userRepo}
}

func (s *UserService) ListPsychologists(ctx context.Context, specialty, search string, limit int) ([]model.User, error) {
	return s.userRepo.ListPsychologists(ctx, model.UserFilter{
		Role:      model.RolePsychologist,
		Specialty: strings.TrimSpace(specialty),
		Search:    strings.TrimSpace(search),
		Limit:     ClampLimit(limit, config.DefaultUserListLimit),
	})
}

func (s *UserService) ListPatients(ctx context.Context, search string, limit int) ([]model.PatientSummary, error) {
	return s.userRepo.ListPatients(ctx, model.UserFilter{
		Role:   model.RolePatient,
		Search: strings.TrimSpace(search),
		Limit:  ClampLimit(limit, config.DefaultUserListLimit),
	})
}

func (s *UserService) Specialties(ctx context.Context) ([]string, error) {
	return s.userRepo.DistinctSpecialties(ctx)
}

// GetByID treats a malformed id the same as a missing user.
func (s *UserService) GetByID(ctx context.Context, id string) (*model.User, error) {
	if !util.IsValidUUID(id) {
		return nil, apperrors.NotFound("User")
	}
	user, err := s.userRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperrors.NotFound("User")
	}
	return user, nil
}

// UpdateProfile applies only the fields present in update. Identity and
// credential fields are not part of ProfileUpdate and cannot change here.
func (s *UserService) UpdateProfile(ctx context.Context, userID string, update model.ProfileUpdate) (*model.User, error) {
	if update.Name != nil {
		name := strings.TrimSpace(*update.Name)
		if name == "" {
			return nil, apperrors.ValidationError("Name cannot be empty")
		}
		update.Name = &name
	}
	if err := validateDescription(update.Description); err != nil {
		return nil, err
	}
	update.Specialties = util.CleanStrings(update.Specialties)

	if update.IsEmpty() {
		return s.GetByID(ctx, userID)
	}

	user, err := s.userRepo.UpdateProfile(ctx, userID, update)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperrors.NotFound("User")
	}
	return user, nil
}

func (s *UserService) Deactivate(ctx context.Context, userID string) error {
	if err := s.userRepo.SetAccountState(ctx, userID, model.AccountStateDeactivated); err != nil {
		return err
	}
	log.Info().Str("userId", userID).Msg("account deactivated")
	return nil
}

// ClampLimit falls back to def for non-positive values and caps at the
// maximum page size.
func ClampLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	if limit > config.MaxListLimit {
		return config.MaxListLimit
	}
	return limit
}
