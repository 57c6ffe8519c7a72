package users

import "context"

// Directory is the lookup surface consumed by other modules.
type Directory interface {
	GetByID(ctx context.Context, id int64) (User, error)
}

// Service wraps the repository behind the Directory interface.
type Service struct {
	repo *Repository
}

// NewService constructs a Service.
func NewService(repo *Repository) *Service {
	return &Service{repo: repo}
}

var _ Directory = (*Service)(nil)

// GetByID fetches a user by ID.
func (s *Service) GetByID(ctx context.Context, id int64) (User, error) {
	return s.repo.GetByID(ctx, id)
}
