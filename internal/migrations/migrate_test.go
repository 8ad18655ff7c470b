package migrations

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(files, "sql")
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	ups := map[string]bool{}
	downs := map[string]bool{}

	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		default:
			t.Fatalf("unexpected migration file %s", name)
		}
	}

	assert.Equal(t, ups, downs)
}

func TestSchemaDeclaresOutboxColumns(t *testing.T) {
	raw, err := fs.ReadFile(files, "sql/000001_init.up.sql")
	require.NoError(t, err)

	schema := string(raw)
	for _, column := range []string{
		"aggregate_id", "aggregate_type", "event_type", "payload", "published ",
		"published_at", "scheduled_for", "retry_count", "next_attempt_at",
		"dead_lettered", "claimed_by", "claimed_at", "created_at",
	} {
		assert.Contains(t, schema, column)
	}
}
