package database

import (
	"strings"
	"testing"
)

func TestSchema_LedgerConstraints(t *testing.T) {
	for _, want := range []string{
		"CONSTRAINT transactions_gateway_reference_key UNIQUE (gateway_reference)",
		"offer_id           UUID NOT NULL UNIQUE",
		"NUMERIC(14,2)",
		"CREATE TABLE IF NOT EXISTS timeline_events",
	} {
		if !strings.Contains(Schema, want) {
			t.Errorf("schema missing %q", want)
		}
	}
}

func TestSchema_NoDestructiveStatements(t *testing.T) {
	upper := strings.ToUpper(Schema)
	for _, bad := range []string{"DROP ", "DELETE ", "UPDATE ", "TRUNCATE "} {
		if strings.Contains(upper, bad) {
			t.Errorf("schema contains %q", bad)
		}
	}
}
