package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/psicoconnect/server-go/internal/errors"
	"github.com/psicoconnect/server-go/internal/model"
	"github.com/psicoconnect/server-go/internal/repository"
	"github.com/psicoconnect/server-go/internal/util"
)

type TokenIssuer interface {
	Issue(userID string) (string, error)
}

type RegisterInput struct {
	Name        string
	Email       string
	Password    string
	Role        string
	Phone       *string
	LicenseID   *string
	Specialties []string
	Description *string
}

type LoginInput struct {
	Email    string
	Password string
	// Role is optional; when set it must match the stored role.
	Role string
}

type AuthService struct {
	userRepo repository.UserRepository
	hasher   *PasswordHasher
	tokens   TokenIssuer
	now      func() time.Time
}

func NewAuthService(userRepo repository.UserRepository, hasher *PasswordHasher, tokens TokenIssuer) *AuthService {
	return &AuthService{
		userRepo: userRepo,
		hasher:   hasher,
		tokens:   tokens,
		now:      time.Now,
	}
}

// Register creates an account and returns it with a fresh session token.
// Uniqueness is checked before the insert; the unique indexes catch a
// concurrent registration that slips between the check and the insert.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*model.User, string, error) {
	name := strings.TrimSpace(in.Name)
	email := util.NormalizeEmail(in.Email)
	if name == "" || email == "" || in.Password == "" || strings.TrimSpace(in.Role) == "" {
		return nil, "", apperrors.ValidationError("Please provide all required fields")
	}

	role, ok := model.ParseRole(in.Role)
	if !ok {
		return nil, "", apperrors.ValidationError(fmt.Sprintf("Invalid role: %s", in.Role))
	}
	if !util.IsValidEmail(email) {
		return nil, "", apperrors.ValidationError("Please provide a valid email")
	}
	if err := validatePassword(in.Password); err != nil {
		return nil, "", err
	}
	if err := validateDescription(in.Description); err != nil {
		return nil, "", err
	}

	licenseID := util.TrimmedOrNil(in.LicenseID)
	if role == model.RolePsychologist && licenseID == nil {
		return nil, "", apperrors.ValidationError("License ID is required for psychologists")
	}
	if role == model.RolePatient {
		licenseID = nil
	}

	existing, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, "", err
	}
	if existing != nil {
		return nil, "", apperrors.DuplicateField("email")
	}

	if licenseID != nil {
		existing, err := s.userRepo.FindByLicenseID(ctx, *licenseID)
		if err != nil {
			return nil, "", err
		}
		if existing != nil {
			return nil, "", apperrors.DuplicateField("licenseId")
		}
	}

	hash, err := s.hasher.Hash(ctx, in.Password)
	if err != nil {
		return nil, "", err
	}

	user, err := s.userRepo.Create(ctx, model.CreateUserParams{
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		Phone:        util.TrimmedOrNil(in.Phone),
		LicenseID:    licenseID,
		Specialties:  util.CleanStrings(in.Specialties),
		Description:  in.Description,
	})
	if err != nil {
		return nil, "", err
	}

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, "", err
	}

	log.Info().Str("userId", user.ID).Str("role", string(user.Role)).Msg("user registered")
	return user, token, nil
}

// Login authenticates by email and password. Unknown email and wrong
// password fail with the same error.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*model.User, string, error) {
	email := util.NormalizeEmail(in.Email)
	if email == "" || in.Password == "" {
		return nil, "", apperrors.ValidationError("Please provide email and password")
	}

	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, "", err
	}
	if user == nil {
		return nil, "", apperrors.InvalidCredentials()
	}

	if in.Role != "" {
		claimed, ok := model.ParseRole(in.Role)
		if !ok || claimed != user.Role {
			return nil, "", apperrors.RoleMismatch(string(user.Role))
		}
	}

	match, err := s.hasher.Compare(ctx, user.PasswordHash, in.Password)
	if err != nil {
		return nil, "", err
	}
	if !match {
		return nil, "", apperrors.InvalidCredentials()
	}

	if !user.IsActive() {
		return nil, "", apperrors.AccountDisabled()
	}

	now := s.now()
	if err := s.userRepo.UpdateLastLogin(ctx, user.ID, now); err != nil {
		return nil, "", err
	}
	user.LastLoginAt = &now

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

func (s *AuthService) UpdatePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	if currentPassword == "" || newPassword == "" {
		return apperrors.ValidationError("Please provide the current and the new password")
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return apperrors.UserNotFound()
	}

	match, err := s.hasher.Compare(ctx, user.PasswordHash, currentPassword)
	if err != nil {
		return err
	}
	if !match {
		return apperrors.Unauthorized("Current password is incorrect")
	}

	hash, err := s.hasher.Hash(ctx, newPassword)
	if err != nil {
		return err
	}
	return s.userRepo.UpdatePassword(ctx, user.ID, hash)
}

func validateDescription(description *string) error {
	if description != nil && len([]rune(*description)) > model.MaxDescriptionLength {
		return apperrors.ValidationError(fmt.Sprintf("Description must be at most %d characters", model.MaxDescriptionLength))
	}
	return nil
}
