package migrations

import (
	"io/fs"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fileName = regexp.MustCompile(`^\d{14}_[a-z0-9_]+\.sql$`)

func readAll(t *testing.T) map[string]string {
	t.Helper()
	names, err := fs.Glob(FS, "*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, names)

	out := make(map[string]string, len(names))
	for _, name := range names {
		b, err := FS.ReadFile(name)
		require.NoError(t, err)
		out[name] = string(b)
	}
	return out
}

func TestMigrationFiles(t *testing.T) {
	versions := map[string]string{}
	for name, sql := range readAll(t) {
		assert.Regexp(t, fileName, name)
		assert.Contains(t, sql, "-- +goose Up", name)
		assert.Contains(t, sql, "-- +goose Down", name)

		version := name[:14]
		if prev, ok := versions[version]; ok {
			t.Errorf("version %s used by %s and %s", version, prev, name)
		}
		versions[version] = name
	}
}

func TestSchemaConstraints(t *testing.T) {
	var all strings.Builder
	for _, sql := range readAll(t) {
		all.WriteString(sql)
	}
	schema := all.String()

	for _, want := range []string{
		"CREATE TABLE IF NOT EXISTS subscriptions",
		"CREATE TABLE IF NOT EXISTS subscription_phases",
		"CREATE TABLE IF NOT EXISTS subscription_items",
		"CREATE TABLE IF NOT EXISTS invoices",
		"CREATE TABLE IF NOT EXISTS customer_entitlements",
		"CREATE TABLE IF NOT EXISTS credits",
		"idx_subscriptions_tenant_customer ON subscriptions (tenant_id, customer_id)",
		"ON invoices (phase_id, cycle_start_at, closing)",
		"payment_attempts             JSONB",
		"CHECK (billing_anchor_day BETWEEN 1 AND 31)",
		"CHECK (amount_used >= 0 AND amount_used <= total_amount)",
	} {
		assert.Contains(t, schema, want)
	}
}
