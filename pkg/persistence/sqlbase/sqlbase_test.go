package sqlbase

import (
	"database/sql"
	"testing"

	"github.com/dukex/operion-monitor/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialect_Placeholder(t *testing.T) {
	assert.Equal(t, "$3", Postgres.Placeholder(3))
	assert.Equal(t, "?", SQLite.Placeholder(3))
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `inv\_1\%\\x`, escapeLike(`inv_1%\x`))
}

func TestAddressesCodec(t *testing.T) {
	encoded, err := encodeAddresses(nil)
	require.NoError(t, err)
	assert.False(t, encoded.Valid)

	encoded, err = encodeAddresses([]models.Address{"a/0", "a/1"})
	require.NoError(t, err)
	assert.Equal(t, sql.NullString{String: `["a/0","a/1"]`, Valid: true}, encoded)

	decoded, err := decodeAddresses(encoded)
	require.NoError(t, err)
	assert.Equal(t, []models.Address{"a/0", "a/1"}, decoded)
}
