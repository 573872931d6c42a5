package storage

import (
	"testing"

	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderOptionsLockPostgresOnly(t *testing.T) {
	opts, err := providerOptions(goose.DialectPostgres)
	require.NoError(t, err)
	assert.Len(t, opts, 1)

	opts, err = providerOptions(goose.DialectSQLite3)
	require.NoError(t, err)
	assert.Empty(t, opts)
}
