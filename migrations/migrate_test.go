package migrations

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNamesAreSortedSQLFiles(t *testing.T) {
	names, err := Names()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "001_init.sql", names[0])
	for i, n := range names {
		assert.True(t, strings.HasSuffix(n, ".sql"), n)
		if i > 0 {
			assert.Less(t, names[i-1], n)
		}
	}
}

func TestInitSchemaGuardsBalances(t *testing.T) {
	raw, err := migrationFiles.ReadFile("001_init.sql")
	require.NoError(t, err)
	sql := string(raw)

	for _, col := range []string{"available_principal", "frozen_principal", "available_commission", "frozen_commission"} {
		assert.Contains(t, sql, "CHECK ("+col+" >= 0)")
	}
	assert.Contains(t, sql, "orders_one_open_per_buyer")
	assert.Contains(t, sql, "withdrawals_client_ref_key")
}
