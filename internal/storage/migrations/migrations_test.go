package migrations

import (
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func versions(ms []migration) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.Version
	}
	return out
}

func TestLoad_Ordered(t *testing.T) {
	ms, err := load(PostgresFS, "postgres")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"001_search_runs",
		"002_round_records",
		"003_variable_outcomes",
		"004_top_results",
	}, versions(ms))
	for _, m := range ms {
		assert.Contains(t, m.SQL, "CREATE TABLE IF NOT EXISTS", m.Version)
	}

	ms, err = load(ClickhouseFS, "clickhouse")
	require.NoError(t, err)
	assert.Equal(t, []string{"001_evaluation_results"}, versions(ms))
}

func TestLoad_SkipsEmptyFiles(t *testing.T) {
	fsys := fstest.MapFS{
		"pg/002_b.sql": {Data: []byte("CREATE TABLE b ();")},
		"pg/001_a.sql": {Data: []byte("CREATE TABLE a ();")},
		"pg/003_c.sql": {Data: []byte("  \n")},
		"pg/notes.txt": {Data: []byte("ignored")},
	}
	ms, err := load(fsys, "pg")
	require.NoError(t, err)
	assert.Equal(t, []string{"001_a", "002_b"}, versions(ms))
}

func TestClickhouseMigrations_Splittable(t *testing.T) {
	ms, err := load(ClickhouseFS, "clickhouse")
	require.NoError(t, err)

	for _, m := range ms {
		require.NoError(t, checkLiterals(m.SQL), m.Version)

		stmts := splitStatements(m.SQL)
		require.NotEmpty(t, stmts, m.Version)
		for _, stmt := range stmts {
			assert.False(t, strings.HasPrefix(stmt, "--"), "comment leaked into %s", m.Version)
		}
	}
}

func TestSplitStatements(t *testing.T) {
	sql := `-- header
CREATE TABLE a (x String);

-- second
CREATE TABLE b (y String)
;
`
	assert.Equal(t, []string{
		"CREATE TABLE a (x String)",
		"CREATE TABLE b (y String)",
	}, splitStatements(sql))
}

func TestCheckLiterals(t *testing.T) {
	assert.NoError(t, checkLiterals(`SELECT 'it''s'; SELECT 1;`))
	assert.Error(t, checkLiterals(`SELECT 'a;b'`))
}

func TestDatabaseFromDSN(t *testing.T) {
	db, err := databaseFromDSN("clickhouse://user:pw@localhost:9000/threshold_lab")
	require.NoError(t, err)
	assert.Equal(t, "threshold_lab", db)

	_, err = databaseFromDSN("clickhouse://localhost:9000")
	assert.Error(t, err)
}
