package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDescribeSQL(t *testing.T) {
	cases := []struct {
		sql, op, table string
	}{
		{"SELECT id FROM schedules WHERE project_id = $1", "select", "schedules"},
		{"\n\t\tINSERT INTO outbox_events (aggregate_type) VALUES ($1)", "insert", "outbox_events"},
		{"UPDATE projects SET chain_version = $1", "update", "projects"},
		{"DELETE FROM holidays WHERE id = $1", "delete", "holidays"},
		{"BEGIN", "begin", "unknown"},
		{"", "unknown", "unknown"},
	}
	for _, c := range cases {
		op, table := describeSQL(c.sql)
		assert.Equal(t, c.op, op, c.sql)
		assert.Equal(t, c.table, table, c.sql)
	}
}
