package repository

import (
	"testing"

	"labspawn/internal/repository/sqlitetest"
	"labspawn/pkg/log"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	return NewRepository(log.NewNop(), sqlitetest.New(t))
}
