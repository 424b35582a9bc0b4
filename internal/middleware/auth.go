package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	apperrors "github.com/psicoconnect/server-go/internal/errors"
	"github.com/psicoconnect/server-go/internal/model"
	"github.com/psicoconnect/server-go/internal/util"
)

type contextKey string

const UserContextKey contextKey = "user"

func GetUser(ctx context.Context) *model.User {
	if user, ok := ctx.Value(UserContextKey).(*model.User); ok {
		return user
	}
	return nil
}

func WithUser(ctx context.Context, user *model.User) context.Context {
	return context.WithValue(ctx, UserContextKey, user)
}

type TokenVerifier interface {
	Verify(token string) (string, error)
}

type UserFinder interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

type AuthMiddleware struct {
	tokens   TokenVerifier
	userRepo UserFinder
}

func NewAuthMiddleware(tokens TokenVerifier, userRepo UserFinder) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens, userRepo: userRepo}
}

// Authenticate resolves the Authorization header to an active user.
func (m *AuthMiddleware) Authenticate(ctx context.Context, authHeader string) (*model.User, error) {
	token := bearerToken(authHeader)
	if token == "" {
		return nil, apperrors.NoToken()
	}

	userID, err := m.tokens.Verify(token)
	if err != nil {
		return nil, apperrors.InvalidToken().WithCause(err)
	}
	if !util.IsValidUUID(userID) {
		return nil, apperrors.UserNotFound()
	}

	user, err := m.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if user == nil {
		return nil, apperrors.UserNotFound()
	}
	if !user.IsActive() {
		return nil, apperrors.AccountDisabled()
	}
	return user, nil
}

func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := m.Authenticate(r.Context(), r.Header.Get("Authorization"))
		if err != nil {
			if code := apperrors.GetCode(err); code != apperrors.ErrCodeNoToken && code != apperrors.ErrCodeDatabase {
				log.Warn().Str("code", string(code)).Str("path", r.URL.Path).Msg("auth middleware: rejected request")
			}
			writeError(w, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

// Authorize must run after AuthMiddleware. It rejects users whose role is not
// one of roles.
func Authorize(roles ...model.Role) func(http.Handler) http.Handler {
	names := make([]string, len(roles))
	for i, role := range roles {
		names[i] = string(role)
	}
	message := fmt.Sprintf("Role is not allowed to access this resource; requires %s", strings.Join(names, " or "))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := GetUser(r.Context())
			if user == nil {
				writeError(w, apperrors.NoToken())
				return
			}
			for _, role := range roles {
				if user.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, apperrors.Forbidden(message))
		})
	}
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
