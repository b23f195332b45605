package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsUniqueViolation(t *testing.T) {
	dup := &pgconn.PgError{Code: "23505", ConstraintName: "transfer_reviews_trans_id_manager_acc_id_key"}
	if !isUniqueViolation(dup) {
		t.Fatal("expected a 23505 recognized as unique violation")
	}
	if !isUniqueViolation(fmt.Errorf("exec insert: %w", dup)) {
		t.Fatal("expected a wrapped 23505 recognized as unique violation")
	}
	if isUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Fatal("a foreign key violation must not pass as unique violation")
	}
	if isUniqueViolation(errors.New("connection refused")) {
		t.Fatal("a plain error must not pass as unique violation")
	}
}
