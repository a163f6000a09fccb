package config

import (
	"database/sql"
	"testing"
	"time"

	"github.com/opsline/deployctl/internal/models"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := NewStore(t.TempDir() + "/config.db")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestGetUnset(t *testing.T) {
	store := setupTestStore(t)

	value, err := store.Get(KeySecretKey)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if value != "" {
		t.Errorf("Expected empty value for unset key, got %q", value)
	}
}

func TestGetDefault(t *testing.T) {
	store := setupTestStore(t)

	value, err := store.Get(KeyServerPort)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if value != "4000" {
		t.Errorf("Expected default port 4000, got %q", value)
	}
}

func TestSetAndGet(t *testing.T) {
	store := setupTestStore(t)

	if err := store.Set(KeyWorkingDir, "/srv/app"); err != nil {
		t.Fatalf("Set() error: %v", err)
	}

	value, err := store.Get(KeyWorkingDir)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if value != "/srv/app" {
		t.Errorf("Expected /srv/app, got %q", value)
	}
}

func TestEnvOverridesPersisted(t *testing.T) {
	store := setupTestStore(t)

	if err := store.Set(KeyServerPort, "5000"); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	t.Setenv("SERVER_PORT", "6000")

	value, err := store.Get(KeyServerPort)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if value != "6000" {
		t.Errorf("Expected env override 6000, got %q", value)
	}
}

func TestSetUpdatesTimestamp(t *testing.T) {
	store := setupTestStore(t)

	if err := store.Set(KeyWorkingDir, "/srv/app"); err != nil {
		t.Fatalf("Set() error: %v", err)
	}

	settings, err := store.List()
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(settings) != 1 {
		t.Fatalf("Expected 1 setting, got %d", len(settings))
	}

	first := settings[0].UpdatedAt
	if time.Since(first) > time.Minute {
		t.Errorf("Expected a recent timestamp, got %v", first)
	}

	time.Sleep(10 * time.Millisecond)
	if err := store.Set(KeyWorkingDir, "/srv/other"); err != nil {
		t.Fatalf("Set() error: %v", err)
	}

	settings, err = store.List()
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if !settings[0].UpdatedAt.After(first) {
		t.Errorf("Expected updated_at to advance, got %v then %v", first, settings[0].UpdatedAt)
	}
}

func TestServerProfiles(t *testing.T) {
	store := setupTestStore(t)

	profile := &models.ServerProfile{
		Name:   "production",
		URL:    "deploy.example.com:4000",
		Secret: "s3cret",
	}
	if err := store.PutServer(profile); err != nil {
		t.Fatalf("PutServer() error: %v", err)
	}

	got, err := store.GetServer("production")
	if err != nil {
		t.Fatalf("GetServer() error: %v", err)
	}
	if got.URL != profile.URL || got.Secret != profile.Secret {
		t.Errorf("Expected %+v, got %+v", profile, got)
	}

	// Upsert replaces the endpoint for an existing name.
	profile.URL = "deploy2.example.com:4000"
	if err := store.PutServer(profile); err != nil {
		t.Fatalf("PutServer() upsert error: %v", err)
	}

	profiles, err := store.ListServers()
	if err != nil {
		t.Fatalf("ListServers() error: %v", err)
	}
	if len(profiles) != 1 {
		t.Fatalf("Expected 1 profile after upsert, got %d", len(profiles))
	}
	if profiles[0].URL != "deploy2.example.com:4000" {
		t.Errorf("Expected updated URL, got %q", profiles[0].URL)
	}

	if _, err := store.GetServer("missing"); err != sql.ErrNoRows {
		t.Errorf("Expected sql.ErrNoRows for unknown server, got %v", err)
	}
}

func TestClear(t *testing.T) {
	store := setupTestStore(t)

	if err := store.Set(KeySecretKey, "abc"); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	if err := store.PutServer(&models.ServerProfile{Name: "prod", URL: "x:1", Secret: "y"}); err != nil {
		t.Fatalf("PutServer() error: %v", err)
	}

	if err := store.Clear(); err != nil {
		t.Fatalf("Clear() error: %v", err)
	}

	settings, err := store.List()
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(settings) != 0 {
		t.Errorf("Expected no settings after clear, got %d", len(settings))
	}

	profiles, err := store.ListServers()
	if err != nil {
		t.Fatalf("ListServers() error: %v", err)
	}
	if len(profiles) != 0 {
		t.Errorf("Expected no profiles after clear, got %d", len(profiles))
	}
}

func TestDelete(t *testing.T) {
	store := setupTestStore(t)

	if err := store.Set(KeyServerPID, "1234"); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	if err := store.Delete(KeyServerPID); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}

	value, err := store.Get(KeyServerPID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if value != "" {
		t.Errorf("Expected deleted key to read empty, got %q", value)
	}
}
