package repository

import (
	"context"

	"gorm.io/gorm"
)

// Store is the gateway to all engine tables. A Store bound to a transaction
// is handed to the callback of Transaction; every method works the same
// inside and outside a transaction.
type Store struct {
	db      *gorm.DB
	isMySQL bool
}

// NewStore creates a Store on db.
func NewStore(db *gorm.DB, isMySQL bool) *Store {
	return &Store{db: db, isMySQL: isMySQL}
}

// Transaction runs fn in a database transaction. The transaction commits
// when fn returns nil and rolls back otherwise.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(txDB *gorm.DB) error {
		return fn(&Store{db: txDB, isMySQL: s.isMySQL})
	})
}

// IsMySQL reports whether the store runs on MySQL.
func (s *Store) IsMySQL() bool {
	return s.isMySQL
}

func (s *Store) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}
