package db

import (
	"path/filepath"
	"testing"

	"github.com/4xmen/kelasyar/internal/models"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestWALModeWithFile(t *testing.T) {
	db := newTestDB(t)

	var journalMode string
	if err := db.conn.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("Failed to query journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("Expected journal_mode 'wal', got: %s", journalMode)
	}

	var busyTimeout int
	if err := db.conn.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout); err != nil {
		t.Fatalf("Failed to query busy_timeout: %v", err)
	}
	if busyTimeout != 5000 {
		t.Errorf("Expected busy_timeout to be 5000, got: %d", busyTimeout)
	}
}

func TestInMemoryDatabase(t *testing.T) {
	db, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create in-memory database: %v", err)
	}
	defer db.Close()

	if err := db.SaveSession("abc"); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	token, err := db.LoadSession()
	if err != nil || token != "abc" {
		t.Fatalf("LoadSession = %q, %v", token, err)
	}
}

func TestSessionRoundTrip(t *testing.T) {
	db := newTestDB(t)

	token, err := db.LoadSession()
	if err != nil {
		t.Fatalf("LoadSession on empty cache: %v", err)
	}
	if token != "" {
		t.Fatalf("LoadSession = %q, want empty", token)
	}

	if err := db.SaveSession("first"); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	if err := db.SaveSession("second"); err != nil {
		t.Fatalf("SaveSession overwrite: %v", err)
	}
	if token, _ := db.LoadSession(); token != "second" {
		t.Fatalf("LoadSession = %q, want %q", token, "second")
	}

	if err := db.ClearSession(); err != nil {
		t.Fatalf("ClearSession: %v", err)
	}
	if token, _ := db.LoadSession(); token != "" {
		t.Fatalf("LoadSession after clear = %q", token)
	}
}

func TestDirectoryKeepsChildName(t *testing.T) {
	db := newTestDB(t)

	db.Remember(models.User{ID: 5, FirstName: "Maryam", LastName: "Rahimi", Role: models.RoleParent, ChildName: "Ali Rahimi"})
	// A later refresh without enrichment must not erase the child name
	db.Remember(models.User{ID: 5, FirstName: "Maryam", LastName: "Rahimi-Tehrani", Role: models.RoleParent})

	u, ok := db.User(5)
	if !ok {
		t.Fatal("expected cached user")
	}
	if u.LastName != "Rahimi-Tehrani" {
		t.Errorf("LastName = %q", u.LastName)
	}
	if u.ChildName != "Ali Rahimi" {
		t.Errorf("ChildName = %q, want kept", u.ChildName)
	}
	if u.Role != models.RoleParent {
		t.Errorf("Role = %q", u.Role)
	}

	if _, ok := db.User(99); ok {
		t.Error("unexpected user 99")
	}
}

func TestAvatarCache(t *testing.T) {
	db := newTestDB(t)

	if _, _, ok := db.LoadAvatar(3); ok {
		t.Fatal("unexpected cached avatar")
	}

	db.StoreAvatar(3, []byte{0x89, 'P', 'N', 'G'}, "image/png")
	data, contentType, ok := db.LoadAvatar(3)
	if !ok {
		t.Fatal("expected cached avatar")
	}
	if contentType != "image/png" || len(data) != 4 {
		t.Errorf("LoadAvatar = %d bytes, %q", len(data), contentType)
	}

	stats, err := db.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Avatars != 1 || stats.AvatarBytes != 4 {
		t.Errorf("Stats avatars = %d (%d bytes)", stats.Avatars, stats.AvatarBytes)
	}
	if stats.HasSession {
		t.Error("Stats.HasSession = true on empty session")
	}
}
