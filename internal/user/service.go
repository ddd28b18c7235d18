// README: User service: registration and administrative role/active mutations.
package user

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"taxidispatch/internal/types"
)

var (
	ErrNotFound       = errors.New("user not found")
	ErrDuplicatePhone = errors.New("phone already registered")
	ErrBadRequest     = errors.New("bad request")
)

// Store is the persistence contract; satisfied by the Postgres store and the
// in-memory store.
type Store interface {
	Create(ctx context.Context, u *User) error
	Get(ctx context.Context, id types.ID) (*User, error)
	GetByPhone(ctx context.Context, phone string) (*User, error)
	Update(ctx context.Context, u *User) error
}

type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

type RegisterCommand struct {
	Phone          string
	Name           string
	Role           types.Role
	PremiumCapable bool
}

func (s *Service) Register(ctx context.Context, cmd RegisterCommand) (*User, error) {
	if cmd.Phone == "" || cmd.Name == "" {
		return nil, ErrBadRequest
	}
	switch cmd.Role {
	case types.RoleCustomer, types.RoleDriver, types.RoleDispatcher, types.RoleAdmin:
	default:
		return nil, ErrBadRequest
	}
	now := time.Now().UTC()
	u := &User{
		ID:             types.ID(uuid.NewString()),
		Phone:          cmd.Phone,
		Name:           cmd.Name,
		Role:           cmd.Role,
		Active:         true,
		PremiumCapable: cmd.PremiumCapable,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*User, error) {
	return s.store.Get(ctx, id)
}

// EnsureCustomer finds a customer by phone or registers a minimal record.
// Dispatcher-entered phone orders go through here for callers who have never
// used the app.
func (s *Service) EnsureCustomer(ctx context.Context, phone, name string) (*User, error) {
	if phone == "" {
		return nil, ErrBadRequest
	}
	u, err := s.store.GetByPhone(ctx, phone)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if name == "" {
		name = phone
	}
	return s.Register(ctx, RegisterCommand{Phone: phone, Name: name, Role: types.RoleCustomer})
}

// SetRole is an administrative override, not a core operation.
func (s *Service) SetRole(ctx context.Context, id types.ID, role types.Role) error {
	switch role {
	case types.RoleCustomer, types.RoleDriver, types.RoleDispatcher, types.RoleAdmin:
	default:
		return ErrBadRequest
	}
	u, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	u.Role = role
	u.UpdatedAt = time.Now().UTC()
	return s.store.Update(ctx, u)
}

func (s *Service) SetActive(ctx context.Context, id types.ID, active bool) error {
	u, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	u.Active = active
	u.UpdatedAt = time.Now().UTC()
	return s.store.Update(ctx, u)
}

func (s *Service) SetPremiumCapable(ctx context.Context, id types.ID, capable bool) error {
	u, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	u.PremiumCapable = capable
	u.UpdatedAt = time.Now().UTC()
	return s.store.Update(ctx, u)
}

// IsActiveDriver reports whether id is a registered, active user with the
// driver role. The geo index uses this to reject location reports from
// anything else.
func (s *Service) IsActiveDriver(ctx context.Context, id types.ID) (bool, error) {
	u, err := s.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return u.Active && u.Role == types.RoleDriver, nil
}

// IsPremiumCapable backs the default premium eligibility predicate.
func (s *Service) IsPremiumCapable(ctx context.Context, id types.ID) (bool, error) {
	u, err := s.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return u.Active && u.Role == types.RoleDriver && u.PremiumCapable, nil
}
