package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestOpen_Memory(t *testing.T) {
	stores, mem, err := Open(context.Background(), Options{Driver: "memory"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if mem == nil || stores.Telemetry != mem || stores.Config != mem {
		t.Fatal("memory driver should back both stores with one Memory")
	}
	if err := stores.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestOpen_Errors(t *testing.T) {
	if _, _, err := Open(context.Background(), Options{Driver: "sqlite"}); err == nil {
		t.Error("expected error for unknown driver")
	}
	if _, _, err := Open(context.Background(), Options{Driver: "postgres"}); err == nil {
		t.Error("expected error for empty dsn")
	}
}

func TestMigrate(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS organizations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS chiller_telemetry").WillReturnResult(sqlmock.NewResult(0, 0))

	if err := migrate(context.Background(), db, db); err != nil {
		t.Fatalf("migrate() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestMigrate_ConfigFails(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectExec("CREATE TABLE").WillReturnError(errors.New("permission denied"))

	if err := migrate(context.Background(), db, db); err == nil {
		t.Error("expected migrate error")
	}
}
