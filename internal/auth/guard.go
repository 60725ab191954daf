package auth

import (
	"context"
	"net/http"

	"tarpaulin/internal/apierr"
	"tarpaulin/internal/models"
)

// UserSource resolves identity-provider subjects to stored users. The
// subject claim, not the internal id, is the join key.
type UserSource interface {
	GetUserBySubject(ctx context.Context, subject string) (models.User, error)
}

// Guard layers role and identity checks over token verification. Verifier
// failures pass through unchanged as unauthorized; insufficient role or
// identity is forbidden.
type Guard struct {
	verifier *Verifier
	users    UserSource
}

// NewGuard wires a Guard from its two dependencies.
func NewGuard(verifier *Verifier, users UserSource) *Guard {
	return &Guard{verifier: verifier, users: users}
}

// Verifier exposes the underlying token verifier.
func (g *Guard) Verifier() *Verifier {
	return g.verifier
}

// Authenticate verifies the request token and resolves its subject to a
// stored user. A verified subject with no stored record is forbidden: the
// caller is authenticated but is not a principal of this system.
func (g *Guard) Authenticate(r *http.Request) (models.User, error) {
	claims, err := g.verifier.VerifyRequest(r)
	if err != nil {
		return models.User{}, err
	}
	user, err := g.users.GetUserBySubject(r.Context(), claims.Subject)
	if err != nil {
		if apierr.IsNotFound(err) {
			return models.User{}, apierr.Forbidden("subject is not a registered user")
		}
		return models.User{}, err
	}
	return user, nil
}

// RequireAdmin succeeds only for callers whose stored role is admin.
func (g *Guard) RequireAdmin(r *http.Request) (models.User, error) {
	user, err := g.Authenticate(r)
	if err != nil {
		return models.User{}, err
	}
	if !user.IsAdmin() {
		return models.User{}, apierr.Forbidden("admin role required")
	}
	return user, nil
}

// RequireAdminOrSelf succeeds for admins and for the user whose id matches
// the target.
func (g *Guard) RequireAdminOrSelf(r *http.Request, targetUserID string) (models.User, error) {
	user, err := g.Authenticate(r)
	if err != nil {
		return models.User{}, err
	}
	if user.IsAdmin() || user.ID == targetUserID {
		return user, nil
	}
	return models.User{}, apierr.Forbidden("you don't have permission on this resource")
}

// RequireSelf succeeds only for the user whose id matches the target.
// Avatar endpoints use this: not even admins touch another user's avatar.
func (g *Guard) RequireSelf(r *http.Request, targetUserID string) (models.User, error) {
	user, err := g.Authenticate(r)
	if err != nil {
		return models.User{}, err
	}
	if user.ID != targetUserID {
		return models.User{}, apierr.Forbidden("you don't have permission on this resource")
	}
	return user, nil
}
