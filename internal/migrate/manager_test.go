package migrate

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestCollectSQLOrdersAndFilters(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "0002_rbac.up.sql", "create table roles ()")
	writeFile(t, dir, "0001_directory.up.sql", "create table accounts ()")
	writeFile(t, dir, "notes.txt", "ignore me")
	writeFile(t, dir, "0001_directory.down.sql", "drop table accounts")

	files, err := collectSQL(dir, ".up.sql")
	if err != nil {
		t.Fatalf("collectSQL: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 files, got %d", len(files))
	}
	if files[0].base != "0001_directory.up.sql" || files[1].base != "0002_rbac.up.sql" {
		t.Fatalf("order: %s, %s", files[0].base, files[1].base)
	}
}

func TestCollectSQLMissingDir(t *testing.T) {
	files, err := collectSQL("/nonexistent/migrations", ".up.sql")
	if err != nil || files != nil {
		t.Fatalf("missing dir should be empty, got %v, %v", files, err)
	}
}

func TestUpSkipsApplied(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "0001_directory.up.sql", "create table accounts (uuid uuid primary key)")
	writeFile(t, dir, "0002_rbac.up.sql", "create table roles (uuid uuid primary key)")

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("create table if not exists schema_migrations").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_directory.up.sql"))

	// Only the second migration runs.
	mock.ExpectBegin()
	mock.ExpectExec("create table roles").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectExec("insert into schema_migrations").
		WithArgs("0002_rbac.up.sql").
		WillReturnResult(sqlmock.NewResult(1, 1))

	m := NewManager(db, dir, "")
	if err := m.Up(context.Background()); err != nil {
		t.Fatalf("Up: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStatus(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("create table if not exists schema_migrations").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from schema_migrations order by applied_at").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).
			AddRow("0001_directory.up.sql").
			AddRow("0002_rbac.up.sql"))

	m := NewManager(db, "", "")
	applied, err := m.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if len(applied) != 2 || applied[1] != "0002_rbac.up.sql" {
		t.Fatalf("applied=%v", applied)
	}
}
