package catalog

import (
	"context"
	"errors"
)

// ErrDuplicateCode is returned when a drug with the same catalog code
// already exists. The attempted insert performs no mutation.
var ErrDuplicateCode = errors.New("catalog code already exists")

// ErrNotFound is returned when no drug matches the requested code.
var ErrNotFound = errors.New("drug not found")

type DrugRepository interface {
	Create(ctx context.Context, d *Drug) error
	GetByCode(ctx context.Context, code string) (*Drug, error)
	// Search matches generic name, brand name, code, or drug class,
	// case-insensitive substring.
	Search(ctx context.Context, query string, activeOnly bool) ([]*Drug, error)
	List(ctx context.Context, limit, offset int) ([]*Drug, int, error)
	Update(ctx context.Context, d *Drug) error
}
