package migrate

import (
	"testing"
	"testing/fstest"

	"questline/internal/db"
)

func TestMigrateIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()

	if v, err := Version(conn); err != nil || v != 0 {
		t.Fatalf("fresh version = %d, %v", v, err)
	}
	if err := Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := Migrate(conn); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	v, err := Version(conn)
	if err != nil || v != 1 {
		t.Fatalf("version = %d, %v", v, err)
	}
	if _, err := conn.Exec(`INSERT INTO sessions(id, campaign_id, player_id, status, state_json, created_at, updated_at) VALUES ('s1','c','p','active','{}','t','t')`); err != nil {
		t.Fatalf("sessions table missing: %v", err)
	}
}

func TestLoadMigrationsRejectsBadNames(t *testing.T) {
	fsys := fstest.MapFS{
		"sql/0001_init.sql":  {Data: []byte("SELECT 1;")},
		"sql/0001_again.sql": {Data: []byte("SELECT 1;")},
	}
	if _, err := loadMigrations(fsys); err == nil {
		t.Fatal("expected duplicate version error")
	}
	fsys = fstest.MapFS{"sql/init.sql": {Data: []byte("SELECT 1;")}}
	if _, err := loadMigrations(fsys); err == nil {
		t.Fatal("expected invalid filename error")
	}
}

func TestLoadMigrationsOrdersByVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"sql/0010_later.sql": {Data: []byte("SELECT 10;")},
		"sql/0002_next.sql":  {Data: []byte("SELECT 2;")},
	}
	ms, err := loadMigrations(fsys)
	if err != nil {
		t.Fatal(err)
	}
	if len(ms) != 2 || ms[0].Version != 2 || ms[1].Version != 10 {
		t.Fatalf("migrations = %+v", ms)
	}
}
