package service

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"bilimshare/internal/models"
	"bilimshare/internal/repository"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Token claims shared by the issuer and the server middleware.
const (
	TokenIssuer   = "bilimshare-api"
	TokenAudience = "bilimshare-client"
)

const (
	MsgAllFieldsRequired = "Email және пароль қажет"
	MsgInvalidEmail      = "Email форматы қате"
	MsgShortPassword     = "Пароль кемінде 6 таңбадан тұруы керек"
	MsgUserExists        = "Бұл email тіркелген"
	MsgInvalidLogin      = "Email немесе пароль қате"
	minPasswordLength    = 6
)

// Session is returned by signup and login.
type Session struct {
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	ExpiresIn   int64        `json:"expires_in"`
	User        *models.User `json:"user"`
}

// SignupInput registers an account. Name defaults to the local part of Email.
type SignupInput struct {
	Email    string
	Password string
	Name     string
}

// LoginInput authenticates an account.
type LoginInput struct {
	Email    string
	Password string
}

// AuthService registers accounts and issues session tokens.
type AuthService struct {
	users  repository.UserRepository
	secret []byte
	ttl    time.Duration
	cost   int
	now    func() time.Time
}

// NewAuthService creates an AuthService signing HS256 tokens with secret.
func NewAuthService(users repository.UserRepository, secret string, ttl time.Duration) *AuthService {
	return &AuthService{
		users:  users,
		secret: []byte(secret),
		ttl:    ttl,
		cost:   bcrypt.DefaultCost,
		now:    time.Now,
	}
}

// Signup creates a student account and opens a session for it.
func (s *AuthService) Signup(ctx context.Context, in SignupInput) (*Session, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" || in.Password == "" {
		return nil, models.NewValidationError(MsgAllFieldsRequired)
	}
	// Display names and comments parse too; only a bare address is accepted.
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return nil, models.NewValidationError(MsgInvalidEmail)
	}
	if len([]rune(in.Password)) < minPasswordLength {
		return nil, models.NewValidationError(MsgShortPassword)
	}

	existing, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, repository.ToAppError(err)
	}
	if existing != nil {
		return nil, models.NewConflictError(MsgUserExists, nil)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return nil, models.NewInternalError(err)
	}

	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = email[:strings.Index(email, "@")]
	}
	user := &models.User{
		Name:         name,
		Email:        email,
		Role:         models.RoleStudent,
		PasswordHash: string(hash),
	}
	if err := s.users.Create(ctx, user); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, models.NewConflictError(MsgUserExists, err)
		}
		return nil, repository.ToAppError(err)
	}

	return s.session(user)
}

// Login checks the credentials and opens a session.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*Session, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" || in.Password == "" {
		return nil, models.NewValidationError(MsgAllFieldsRequired)
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, repository.ToAppError(err)
	}
	if user == nil {
		return nil, models.NewUnauthorizedError(MsgInvalidLogin)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(in.Password)); err != nil {
		return nil, models.NewUnauthorizedError(MsgInvalidLogin)
	}

	return s.session(user)
}

// HashPassword hashes a password with the service cost.
func (s *AuthService) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	return string(hash), err
}

func (s *AuthService) session(user *models.User) (*Session, error) {
	token, err := s.generateToken(user.ID)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return &Session{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   int64(s.ttl.Seconds()),
		User:        user,
	}, nil
}

func (s *AuthService) generateToken(userID string) (string, error) {
	if len(s.secret) == 0 {
		return "", fmt.Errorf("JWT secret not configured")
	}

	now := s.now()
	claims := jwt.MapClaims{
		"sub": userID,
		"iss": TokenIssuer,
		"aud": TokenAudience,
		"exp": now.Add(s.ttl).Unix(),
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"jti": fmt.Sprintf("%d-%s", now.Unix(), uuid.NewString()[:8]),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}
