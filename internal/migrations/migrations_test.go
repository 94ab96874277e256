package migrations_test

import (
	"context"
	"testing"

	"github.com/coupleplay/rooms/internal/database"
	"github.com/coupleplay/rooms/internal/migrations"
)

func TestMigrations(t *testing.T) {
	db, err := database.Open(context.Background(), database.MemoryPath)
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	defer db.Close()

	if err := migrations.Run(db); err != nil {
		t.Fatalf("running migrations: %v", err)
	}

	want := []string{"rooms", "players", "questions"}

	for _, table := range want {
		var name string
		err := db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found: %v", table, err)
		}
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	db, err := database.Open(context.Background(), database.MemoryPath)
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	defer db.Close()

	if err := migrations.Run(db); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := migrations.Run(db); err != nil {
		t.Fatalf("second run (should be no-op): %v", err)
	}
}

func TestOnePlayerPerRole(t *testing.T) {
	db, err := database.Open(context.Background(), database.MemoryPath)
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	defer db.Close()
	if err := migrations.Run(db); err != nil {
		t.Fatalf("running migrations: %v", err)
	}

	mustExec := func(q string, args ...any) {
		t.Helper()
		if _, err := db.Exec(q, args...); err != nil {
			t.Fatalf("%s: %v", q, err)
		}
	}
	mustExec(`INSERT INTO rooms (id, created_at, expires_at) VALUES ('r1', 'x', 'y')`)
	mustExec(`INSERT INTO players (id, room_id, name, role, created_at) VALUES ('p1', 'r1', 'Ana', 'guest', 'x')`)

	_, err = db.Exec(`INSERT INTO players (id, room_id, name, role, created_at) VALUES ('p2', 'r1', 'Leo', 'guest', 'x')`)
	if err == nil {
		t.Fatal("second guest insert succeeded, want unique violation")
	}
}
