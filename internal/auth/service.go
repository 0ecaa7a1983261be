package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"ticketflow/internal/metrics"
	"ticketflow/internal/model"
)

const minPasswordLength = 6

type UserRepository interface {
	CreateUser(ctx context.Context, user model.User) (model.User, error)
	GetUser(ctx context.Context, id string) (model.User, error)
	GetUserByEmail(ctx context.Context, email string) (model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	UpdateUser(ctx context.Context, user model.User) (model.User, error)
	DeleteUser(ctx context.Context, id string) error
}

type ServiceDeps struct {
	Users       UserRepository
	Hasher      PasswordHasher
	TokenConfig TokenConfig
	Logger      zerolog.Logger
	Now         func() time.Time
}

type Service struct {
	users  UserRepository
	hasher PasswordHasher
	tokens TokenConfig
	log    zerolog.Logger
	now    func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

func NewService(deps ServiceDeps) *Service {
	hasher := deps.Hasher
	if hasher == nil {
		hasher = BcryptHasher{}
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		users:  deps.Users,
		hasher: hasher,
		tokens: deps.TokenConfig,
		log:    deps.Logger.With().Str("component", "auth").Logger(),
		now:    now,
	}
}

type RegisterInput struct {
	Name     string
	Email    string
	Password string
}

type CreateUserInput struct {
	Name     string
	Email    string
	Password string
	Role     model.Role
}

// UpdateUserInput carries optional changes; nil fields are left untouched.
type UpdateUserInput struct {
	Name     *string
	Email    *string
	Password *string
	Role     *model.Role
	Active   *bool
}

// Authenticate never tells the caller which check failed.
func (s *Service) Authenticate(ctx context.Context, email, password string) (model.User, error) {
	user, err := s.users.GetUserByEmail(ctx, model.NormalizeEmail(email))
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			s.log.Error().Err(err).Msg("user lookup failed during authentication")
		}
		// Burn a comparison so unknown emails cost as much as known ones.
		_ = s.hasher.Compare(s.placeholderHash(), password)
		return model.User{}, model.ErrInvalidCredentials
	}
	if err := s.hasher.Compare(user.PasswordHash, password); err != nil {
		return model.User{}, model.ErrInvalidCredentials
	}
	if !user.Active {
		s.log.Info().Str("user_id", user.ID).Msg("login rejected for deactivated user")
		return model.User{}, model.ErrInvalidCredentials
	}
	return user, nil
}

func (s *Service) IssueToken(user model.User) (string, error) {
	return CreateToken(user, s.tokens)
}

func (s *Service) ValidateToken(token string) (*Claims, error) {
	return VerifyToken(token, s.tokens)
}

func (s *Service) Login(ctx context.Context, email, password string) (string, model.User, error) {
	user, err := s.Authenticate(ctx, email, password)
	if err != nil {
		metrics.AuthAttemptsTotal.WithLabelValues("failure").Inc()
		return "", model.User{}, err
	}
	token, err := s.IssueToken(user)
	if err != nil {
		return "", model.User{}, fmt.Errorf("issue token: %w", err)
	}
	metrics.AuthAttemptsTotal.WithLabelValues("success").Inc()
	return token, user, nil
}

// Register is self-service sign-up; the role is always cliente.
func (s *Service) Register(ctx context.Context, in RegisterInput) (model.User, error) {
	return s.CreateUser(ctx, CreateUserInput{
		Name:     in.Name,
		Email:    in.Email,
		Password: in.Password,
		Role:     model.RoleClient,
	})
}

// CreateUser backs the administrator-only user creation route.
func (s *Service) CreateUser(ctx context.Context, in CreateUserInput) (model.User, error) {
	name := strings.TrimSpace(in.Name)
	email := model.NormalizeEmail(in.Email)
	if name == "" || email == "" || len(in.Password) < minPasswordLength {
		return model.User{}, model.ErrInvalidInput
	}
	role := in.Role
	if role == "" {
		role = model.RoleClient
	}
	if !role.Valid() {
		return model.User{}, model.ErrInvalidInput
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return model.User{}, fmt.Errorf("hash password: %w", err)
	}

	now := s.now().UTC()
	created, err := s.users.CreateUser(ctx, model.User{
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return model.User{}, err
	}
	created.PasswordHash = ""
	s.log.Info().Str("user_id", created.ID).Str("role", string(created.Role)).Msg("user created")
	return created, nil
}

// Me resolves the authoritative principal behind a token. A principal that
// was deactivated or removed after the token was issued is rejected.
func (s *Service) Me(ctx context.Context, claims *Claims) (model.User, error) {
	if claims == nil || claims.Subject == "" {
		return model.User{}, model.ErrInvalidToken
	}
	user, err := s.users.GetUser(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.User{}, model.ErrInvalidToken
		}
		return model.User{}, err
	}
	if !user.Active {
		return model.User{}, model.ErrInvalidToken
	}
	user.PasswordHash = ""
	return user, nil
}

func (s *Service) GetUser(ctx context.Context, id string) (model.User, error) {
	user, err := s.users.GetUser(ctx, id)
	if err != nil {
		return model.User{}, err
	}
	user.PasswordHash = ""
	return user, nil
}

func (s *Service) ListUsers(ctx context.Context) ([]model.User, error) {
	users, err := s.users.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	for i := range users {
		users[i].PasswordHash = ""
	}
	return users, nil
}

func (s *Service) UpdateUser(ctx context.Context, id string, in UpdateUserInput) (model.User, error) {
	user, err := s.users.GetUser(ctx, id)
	if err != nil {
		return model.User{}, err
	}

	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return model.User{}, model.ErrInvalidInput
		}
		user.Name = name
	}
	if in.Email != nil {
		email := model.NormalizeEmail(*in.Email)
		if email == "" {
			return model.User{}, model.ErrInvalidInput
		}
		user.Email = email
	}
	if in.Password != nil {
		if len(*in.Password) < minPasswordLength {
			return model.User{}, model.ErrInvalidInput
		}
		hash, err := s.hasher.Hash(*in.Password)
		if err != nil {
			return model.User{}, fmt.Errorf("hash password: %w", err)
		}
		user.PasswordHash = hash
	}
	if in.Role != nil {
		if !in.Role.Valid() {
			return model.User{}, model.ErrInvalidInput
		}
		user.Role = *in.Role
	}
	if in.Active != nil {
		user.Active = *in.Active
	}
	user.UpdatedAt = s.now().UTC()

	updated, err := s.users.UpdateUser(ctx, user)
	if err != nil {
		return model.User{}, err
	}
	updated.PasswordHash = ""
	return updated, nil
}

func (s *Service) Deactivate(ctx context.Context, id string) (model.User, error) {
	inactive := false
	return s.UpdateUser(ctx, id, UpdateUserInput{Active: &inactive})
}

func (s *Service) DeleteUser(ctx context.Context, id string) error {
	return s.users.DeleteUser(ctx, id)
}

func (s *Service) placeholderHash() string {
	s.dummyOnce.Do(func() {
		hash, err := s.hasher.Hash("placeholder-password")
		if err != nil {
			s.log.Error().Err(err).Msg("could not prepare placeholder hash")
			return
		}
		s.dummyHash = hash
	})
	return s.dummyHash
}
