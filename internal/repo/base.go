// Package repo holds the gorm handle shared by the domain repositories.
package repo

import (
	"context"

	"gorm.io/gorm"
)

// Base is embedded by repositories. It may wrap the pool or an open
// transaction; callers pick which through NewBase.
type Base struct {
	db *gorm.DB
}

func NewBase(db *gorm.DB) Base {
	return Base{db: db}
}

// DB scopes the handle to ctx so cancellation reaches the driver.
func (b Base) DB(ctx context.Context) *gorm.DB {
	if ctx == nil {
		return b.db
	}
	return b.db.WithContext(ctx)
}
