package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/conectazap/conectazap/internal/storage"
	"github.com/conectazap/conectazap/internal/storage/model"
)

var ErrInvalidCredentials = errors.New("credenciais inválidas")

// Service autentica operadores e emite JWTs para a API da plataforma.
type Service struct {
	users    storage.UserRepository
	secret   string
	expHours int
}

func NewService(users storage.UserRepository, secret string, expHours int) *Service {
	if expHours <= 0 {
		expHours = 24
	}
	return &Service{users: users, secret: secret, expHours: expHours}
}

type LoginOutput struct {
	Token     string     `json:"token"`
	ExpiresAt time.Time  `json:"expiresAt"`
	User      model.User `json:"user"`
}

func (s *Service) Login(ctx context.Context, email, password string) (LoginOutput, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return LoginOutput{}, ErrInvalidCredentials
		}
		return LoginOutput{}, fmt.Errorf("auth: buscar usuário: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return LoginOutput{}, ErrInvalidCredentials
	}

	expiresAt := time.Now().Add(time.Duration(s.expHours) * time.Hour)
	claims := jwt.MapClaims{
		"sub":  user.ID,
		"role": user.Role,
		"exp":  expiresAt.Unix(),
		"iat":  time.Now().Unix(),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.secret))
	if err != nil {
		return LoginOutput{}, fmt.Errorf("auth: assinar token: %w", err)
	}

	return LoginOutput{Token: token, ExpiresAt: expiresAt, User: user}, nil
}

type RegisterInput struct {
	Email    string
	Password string
	Role     string
}

func (s *Service) Register(ctx context.Context, input RegisterInput) (model.User, error) {
	if input.Email == "" || len(input.Password) < 8 {
		return model.User{}, ErrInvalidCredentials
	}
	if input.Role == "" {
		input.Role = "operator"
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return model.User{}, fmt.Errorf("auth: gerar hash: %w", err)
	}

	return s.users.Create(ctx, model.User{
		Email:        input.Email,
		PasswordHash: string(hash),
		Role:         input.Role,
	})
}
