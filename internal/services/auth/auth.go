// Package auth содержит регистрацию и вход пользователя.
//
// Регистрация сразу выдаёт подписку, вход отмечает время последнего входа,
// от которого считается неактивность пользователя.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/magabrotheeeer/vpn-provisioner/internal/errs"
	"github.com/magabrotheeeer/vpn-provisioner/internal/lib/jwt"
	"github.com/magabrotheeeer/vpn-provisioner/internal/lib/password"
	"github.com/magabrotheeeer/vpn-provisioner/internal/lib/sl"
	"github.com/magabrotheeeer/vpn-provisioner/internal/models"
)

// UserRepository описывает контракт для работы с пользователями в базе данных.
type UserRepository interface {
	// CreateUser сохраняет нового пользователя. Занятый email - errs.ErrAlreadyExists.
	CreateUser(ctx context.Context, email, passwordHash string) (*models.User, error)

	// GetUserByEmail возвращает пользователя по email или errs.ErrNotFound.
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
}

// Subscriptions - операции жизненного цикла, которые вызывает auth.
type Subscriptions interface {
	Provision(ctx context.Context, userID int64) (*models.Result, error)
	Touch(ctx context.Context, userID int64) (*models.Result, error)
}

// Service отвечает за регистрацию, вход и проверку JWT.
type Service struct {
	users    UserRepository
	subs     Subscriptions
	jwtMaker jwt.Maker
	log      *slog.Logger
}

// NewService создает новый экземпляр Service.
func NewService(users UserRepository, subs Subscriptions, jwtMaker jwt.Maker, log *slog.Logger) *Service {
	return &Service{
		users:    users,
		subs:     subs,
		jwtMaker: jwtMaker,
		log:      log,
	}
}

// Session - токен и подписка, которые получает клиент после регистрации или входа.
type Session struct {
	Token        string
	Subscription *models.Result
}

// Register создаёт пользователя и выдаёт ему подписку.
//
// Если выдать подписку не удалось, пользователь остаётся зарегистрированным
// и ошибка возвращается. Подписка будет выдана при следующем входе.
func (s *Service) Register(ctx context.Context, email, rawPassword string) (*Session, error) {
	const op = "auth.Register"
	hashed, err := password.GetHash(rawPassword)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	user, err := s.users.CreateUser(ctx, email, hashed)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	res, err := s.subs.Provision(ctx, user.ID)
	if err != nil {
		s.log.Error("user registered without subscription", sl.UserID(user.ID), sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	token, err := s.jwtMaker.GenerateToken(user.ID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Session{Token: token, Subscription: res}, nil
}

// Login проверяет пароль, отмечает вход и генерирует JWT.
// Пользователю без подписки она выдаётся здесь же.
func (s *Service) Login(ctx context.Context, email, rawPassword string) (*Session, error) {
	const op = "auth.Login"
	user, err := s.users.GetUserByEmail(ctx, email)
	if errors.Is(err, errs.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", op, errs.ErrInvalidCredentials)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := password.CompareHash(user.PasswordHash, rawPassword); err != nil {
		return nil, fmt.Errorf("%s: %w", op, errs.ErrInvalidCredentials)
	}

	res, err := s.subs.Touch(ctx, user.ID)
	if errors.Is(err, errs.ErrNotFound) {
		s.log.Info("user without subscription, provisioning on login", sl.UserID(user.ID))
		if _, err = s.subs.Provision(ctx, user.ID); err == nil {
			res, err = s.subs.Touch(ctx, user.ID)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	token, err := s.jwtMaker.GenerateToken(user.ID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Session{Token: token, Subscription: res}, nil
}

// ValidateToken проверяет JWT и возвращает идентификатор пользователя.
func (s *Service) ValidateToken(token string) (int64, error) {
	const op = "auth.ValidateToken"
	claims, err := s.jwtMaker.ParseToken(token)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	id, err := claims.UserID()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return id, nil
}
