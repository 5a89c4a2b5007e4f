// Package repository provides a generic GORM-backed store shared by all
// feature services.
package repository

import (
	"context"

	"github.com/omnifin/platform/pkg/db/option"
	"gorm.io/gorm"
)

// Repository is a typed store over one model. Query arguments are
// zero-value filters: only non-zero fields participate in the WHERE
// clause.
type Repository[T any] interface {
	WithTrx(tx *gorm.DB) Repository[T]
	Find(ctx context.Context, query T, opts ...option.QueryOption) ([]T, error)
	// FindOne returns (nil, nil) when no row matches.
	FindOne(ctx context.Context, query T, opts ...option.QueryOption) (*T, error)
	Create(ctx context.Context, resource *T) error
	// Update persists the full row, including zero-valued columns.
	Update(ctx context.Context, resource *T) error
	Delete(ctx context.Context, query T) error
	Count(ctx context.Context, query T) (int64, error)
}
