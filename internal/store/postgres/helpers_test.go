package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsPgError(t *testing.T) {
	unique := &pgconn.PgError{Code: pgUniqueViolation}
	if !isPgError(fmt.Errorf("insert: %w", unique), pgUniqueViolation) {
		t.Fatalf("expected wrapped unique violation to match")
	}
	if isPgError(unique, pgForeignKeyViolation) {
		t.Fatalf("unexpected match on different code")
	}
	if isPgError(errors.New("boom"), pgUniqueViolation) {
		t.Fatalf("plain error should not match")
	}
}

func TestValidID(t *testing.T) {
	if validID("not-a-uuid") {
		t.Fatalf("expected invalid id")
	}
	if !validID("7b0f5a9e-3c1d-4b8a-9d65-1f0c2e3a4b5c") {
		t.Fatalf("expected valid id")
	}
}

func TestNullIntPtr(t *testing.T) {
	if nullIntPtr(sql.NullInt32{}) != nil {
		t.Fatalf("expected nil for invalid value")
	}
	got := nullIntPtr(sql.NullInt32{Int32: 4, Valid: true})
	if got == nil || *got != 4 {
		t.Fatalf("expected 4, got %v", got)
	}
}
