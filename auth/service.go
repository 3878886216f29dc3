package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidCredentials signals wrong username or password.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrWeakPassword signals password doesn't meet requirements.
	ErrWeakPassword = errors.New("auth: password must be at least 8 characters")
)

// Service handles authentication business logic.
type Service struct {
	repo        Repository
	jwtSecret   []byte
	idGenerator func() string
	now         func() time.Time
}

// LoginResult bundles the token and account returned after a successful login.
type LoginResult struct {
	Token   string
	Account Account
}

// NewService creates a new authentication service.
func NewService(repo Repository, jwtSecret string) *Service {
	return &Service{
		repo:        repo,
		jwtSecret:   []byte(jwtSecret),
		idGenerator: func() string { return uuid.NewString() },
		now:         time.Now,
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Register creates a new account and its wallet.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*Account, error) {
	if len(req.Password) < 8 {
		return nil, ErrWeakPassword
	}

	username := strings.TrimSpace(req.Username)
	if username == "" {
		return nil, fmt.Errorf("auth: username is required")
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("auth: hash password: %w", err)
	}

	account, err := s.repo.CreateAccount(ctx, CreateAccountParams{
		WalletID:     s.idGenerator(),
		Username:     username,
		PasswordHash: string(passwordHash),
	})
	if err != nil {
		return nil, err
	}

	return &account, nil
}

// Login authenticates an account and returns a JWT token.
func (s *Service) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	account, err := s.repo.GetByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}

	err = bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(req.Password))
	if err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}

	token, err := s.generateToken(account.WalletID)
	if err != nil {
		return LoginResult{}, fmt.Errorf("auth: generate token: %w", err)
	}

	return LoginResult{
		Token:   token,
		Account: account,
	}, nil
}

// GetByWallet retrieves account information by wallet id.
func (s *Service) GetByWallet(ctx context.Context, walletID string) (*Account, error) {
	account, err := s.repo.GetByWallet(ctx, walletID)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// ResolveWallet validates a JWT token and returns the caller's wallet id.
func (s *Service) ResolveWallet(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return "", fmt.Errorf("auth: parse token: %w", err)
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		walletID, ok := claims["wallet_id"].(string)
		if !ok || walletID == "" {
			return "", fmt.Errorf("auth: invalid wallet_id in token")
		}
		return walletID, nil
	}

	return "", fmt.Errorf("auth: invalid token")
}

// generateToken creates a JWT token bound to the wallet.
func (s *Service) generateToken(walletID string) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"wallet_id": walletID,
		"exp":       now.Add(24 * time.Hour).Unix(),
		"iat":       now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}
