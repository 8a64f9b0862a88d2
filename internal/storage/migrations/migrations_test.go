package migrations

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitStatements(t *testing.T) {
	input := `
-- archive
CREATE TABLE a (x UInt64) ENGINE = Memory;

-- second; not a statement
CREATE TABLE b (y String DEFAULT 'a;b', z String DEFAULT 'it''s') ENGINE = Memory; -- trailing
INSERT INTO b (y) VALUES ('--kept')
`
	stmts, err := splitStatements(input)
	require.NoError(t, err)
	require.Len(t, stmts, 3)
	assert.Equal(t, "CREATE TABLE a (x UInt64) ENGINE = Memory", stmts[0])
	assert.Equal(t, "CREATE TABLE b (y String DEFAULT 'a;b', z String DEFAULT 'it''s') ENGINE = Memory", stmts[1])
	assert.Equal(t, "INSERT INTO b (y) VALUES ('--kept')", stmts[2])
}

func TestSplitStatements_UnterminatedLiteral(t *testing.T) {
	_, err := splitStatements(`SELECT 'open;`)
	assert.ErrorIs(t, err, errUnterminatedLiteral)
}

func TestDatabaseFromDSN(t *testing.T) {
	db, err := databaseFromDSN("clickhouse://default:@localhost:9000/ledger")
	require.NoError(t, err)
	assert.Equal(t, "ledger", db)

	_, err = databaseFromDSN("clickhouse://localhost:9000")
	assert.Error(t, err)

	_, err = databaseFromDSN("clickhouse://localhost:9000/ledger;drop")
	assert.Error(t, err)
}

func TestEmbeddedMigrations(t *testing.T) {
	pg, err := fs.Glob(PostgresFS, "postgres/*.sql")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"postgres/001_ledger.sql",
		"postgres/002_outbox.sql",
		"postgres/003_request_nonces.sql",
	}, pg)

	ch, err := fs.Glob(ClickhouseFS, "clickhouse/*.sql")
	require.NoError(t, err)
	assert.Equal(t, []string{"clickhouse/001_events.sql"}, ch)

	files, err := sqlFiles(ClickhouseFS, "clickhouse")
	require.NoError(t, err)
	for _, f := range files {
		stmts, err := splitStatements(f.sql)
		require.NoError(t, err, f.name)
		assert.NotEmpty(t, stmts, f.name)
	}
}
