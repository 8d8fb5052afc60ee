package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_UnsupportedDriver(t *testing.T) {
	_, err := New(context.Background(), "mysql", "root@/idgate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver: mysql")
}

func TestNew_SQLiteSingleConnection(t *testing.T) {
	s := createFreshStore(t)

	sqlDB, err := s.db.DB()
	require.NoError(t, err)
	assert.Equal(t, 1, sqlDB.Stats().MaxOpenConnections)
	require.NoError(t, s.Health(context.Background()))
}

func TestLookupDriver(t *testing.T) {
	d, err := lookupDriver("postgres")
	require.NoError(t, err)
	assert.Zero(t, d.maxOpenConns)
	assert.Equal(t, "postgres", d.dialector("host=localhost").Name())

	d, err = lookupDriver("sqlite")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", d.dialector(":memory:").Name())
}
