package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 8

var (
	ErrUserExists      = errors.New("user already exists")
	ErrInvalidCreds    = errors.New("invalid credentials")
	ErrInvalidEmail    = errors.New("invalid email address")
	ErrPasswordTooWeak = fmt.Errorf("password must be at least %d characters", minPasswordLength)
)

// Service owns application accounts. A user's email is what links them to
// the CRM owner whose deals they receive alerts for.
type Service struct {
	db *pgxpool.Pool
}

func NewService(db *pgxpool.Pool) *Service {
	return &Service{db: db}
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// validateSignup normalizes the email and enforces the password policy.
func validateSignup(req SignupRequest) (SignupRequest, error) {
	req.Email = normalizeEmail(req.Email)
	addr, err := mail.ParseAddress(req.Email)
	if err != nil || addr.Address != req.Email {
		return req, ErrInvalidEmail
	}
	if len(req.Password) < minPasswordLength {
		return req, ErrPasswordTooWeak
	}
	return req, nil
}

func (s *Service) Signup(ctx context.Context, req SignupRequest) (*AuthResponse, error) {
	req, err := validateSignup(req)
	if err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	var user User
	err = s.db.QueryRow(ctx, `
		INSERT INTO users (email, password_hash)
		VALUES ($1, $2)
		ON CONFLICT (email) DO NOTHING
		RETURNING id, email, created_at
	`, req.Email, string(hash)).Scan(&user.ID, &user.Email, &user.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserExists
	}
	if err != nil {
		return nil, fmt.Errorf("creating user: %w", err)
	}

	return s.session(user)
}

func (s *Service) Login(ctx context.Context, req LoginRequest) (*AuthResponse, error) {
	var user User
	err := s.db.QueryRow(ctx,
		"SELECT id, email, password_hash, created_at, last_login FROM users WHERE email = $1",
		normalizeEmail(req.Email),
	).Scan(&user.ID, &user.Email, &user.PasswordHash, &user.CreatedAt, &user.LastLogin)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrInvalidCreds
	}
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCreds
	}
	user.PasswordHash = ""

	if _, err := s.db.Exec(ctx, "UPDATE users SET last_login = NOW() WHERE id = $1", user.ID); err != nil {
		zap.L().Warn("could not record login", zap.String("user_id", user.ID.String()), zap.Error(err))
	}

	return s.session(user)
}

func (s *Service) session(user User) (*AuthResponse, error) {
	token, err := IssueToken(user.ID)
	if err != nil {
		return nil, err
	}
	return &AuthResponse{Token: token, User: user}, nil
}
