package server

import (
	"context"
	"errors"
	"strings"

	"bilimshare/internal/middleware"
	"bilimshare/internal/models"
	"bilimshare/internal/repository"
	"bilimshare/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// Fiber locals set by the auth middleware.
const (
	localUserID = "userID"
	localUser   = "user"
	localCaller = "caller"
)

var errNoToken = errors.New("no token")

// bearerToken reads the session token from the Authorization header. Browsers
// cannot set headers on WebSocket upgrades, so /api/ws also accepts ?token=.
func bearerToken(c *fiber.Ctx) string {
	if parts := strings.SplitN(c.Get(fiber.HeaderAuthorization), " ", 2); len(parts) == 2 &&
		strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	if strings.HasPrefix(c.Path(), "/api/ws") {
		return c.Query("token")
	}
	return ""
}

// parseToken validates signature, issuer, audience and expiry and returns
// the subject.
func (s *Server) parseToken(raw string) (string, error) {
	token, err := jwt.Parse(raw, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(s.config.JWTSecret), nil
	},
		jwt.WithIssuer(service.TokenIssuer),
		jwt.WithAudience(service.TokenAudience),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		return "", models.NewUnauthorizedError("Invalid or expired token")
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", models.NewUnauthorizedError("Invalid subject claim")
	}
	return sub, nil
}

// authenticate resolves the request's token into a user. It returns
// errNoToken when the request carries none.
func (s *Server) authenticate(c *fiber.Ctx) (*models.User, error) {
	raw := bearerToken(c)
	if raw == "" {
		return nil, errNoToken
	}
	userID, err := s.parseToken(raw)
	if err != nil {
		return nil, err
	}

	user, err := s.userRepo.GetByID(c.UserContext(), userID)
	if repository.IsNotFound(err) {
		return nil, models.NewUnauthorizedError("Account no longer exists")
	}
	if err != nil {
		return nil, repository.ToAppError(err)
	}
	return user, nil
}

func setCaller(c *fiber.Ctx, user *models.User) {
	c.Locals(localUserID, user.ID)
	c.Locals(localUser, user)
	c.Locals(localCaller, &service.Caller{ID: user.ID, Role: user.Role})
	// Sync to UserContext for logging and downstream services
	c.SetUserContext(context.WithValue(c.UserContext(), middleware.UserIDKey, user.ID))
}

// callerFrom returns the signed-in caller, or nil for anonymous requests.
func callerFrom(c *fiber.Ctx) *service.Caller {
	caller, _ := c.Locals(localCaller).(*service.Caller)
	return caller
}

func userFrom(c *fiber.Ctx) *models.User {
	user, _ := c.Locals(localUser).(*models.User)
	return user
}

// AuthRequired rejects requests without a valid session token. The user is
// re-read on every request so role changes apply immediately.
func (s *Server) AuthRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		user, err := s.authenticate(c)
		if errors.Is(err, errNoToken) {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Authorization required"))
		}
		if err != nil {
			return respondError(c, err)
		}
		setCaller(c, user)
		return c.Next()
	}
}

// OptionalAuth identifies the caller when a valid token is present. Missing
// or invalid tokens leave the request anonymous.
func (s *Server) OptionalAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if user, err := s.authenticate(c); err == nil {
			setCaller(c, user)
		}
		return c.Next()
	}
}

// AdminRequired must run after AuthRequired.
func (s *Server) AdminRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		caller := callerFrom(c)
		if caller == nil || caller.Role != models.RoleAdmin {
			return models.RespondWithError(c, fiber.StatusForbidden,
				models.NewForbiddenError("Admin access required"))
		}
		return c.Next()
	}
}
