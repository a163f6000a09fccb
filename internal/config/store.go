package config

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/opsline/deployctl/internal/models"
	_ "modernc.org/sqlite"
)

// Well-known setting keys.
const (
	KeyServerPort        = "server_port"
	KeySecretKey         = "secret_key"
	KeyWorkingDir        = "working_dir"
	KeyDeploymentCommand = "deployment_command"
	KeyServerURL         = "server_url"
	KeyDeploymentTimeout = "deployment_timeout"
	KeyServerPID         = "server_pid"
	KeyServerManagedBy   = "server_managed_by"
	KeyServerStartedAt   = "server_started_at"
)

// EnvOverrides maps setting keys to the environment variables that take
// precedence over any persisted value.
var EnvOverrides = map[string]string{
	KeyServerPort:        "SERVER_PORT",
	KeySecretKey:         "SECRET_KEY",
	KeyWorkingDir:        "WORKING_DIR",
	KeyDeploymentCommand: "DEPLOYMENT_COMMAND",
	KeyServerURL:         "SERVER_URL",
}

// Defaults holds schema defaults, consulted after env and persisted values.
var Defaults = map[string]string{
	KeyServerPort: "4000",
}

type Store struct {
	conn *sql.DB
}

// DefaultPath returns the config database location, honoring the DEPLOYCTL_DB
// override used by tests.
func DefaultPath() string {
	if p := os.Getenv("DEPLOYCTL_DB"); p != "" {
		return p
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "/tmp"
	}
	return filepath.Join(homeDir, ".deployctl.db")
}

func NewStore(path string) (*Store, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{conn: conn}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS servers (
		name TEXT PRIMARY KEY,
		url TEXT NOT NULL,
		secret TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	`

	_, err := s.conn.Exec(schema)
	return err
}

// Get resolves a setting: environment override first, then the persisted
// value, then the schema default. Returns "" when the key is unset everywhere.
func (s *Store) Get(key string) (string, error) {
	if env, ok := EnvOverrides[key]; ok {
		if v := os.Getenv(env); v != "" {
			return v, nil
		}
	}

	var value string
	err := s.conn.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return Defaults[key], nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func (s *Store) Set(key, value string) error {
	query := `
	INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		value = excluded.value,
		updated_at = excluded.updated_at
	`
	_, err := s.conn.Exec(query, key, value, time.Now())
	return err
}

func (s *Store) Delete(key string) error {
	_, err := s.conn.Exec(`DELETE FROM settings WHERE key = ?`, key)
	return err
}

// List returns all persisted settings ordered by key. Env overrides are not
// reflected here; List reports what is on disk.
func (s *Store) List() ([]models.Setting, error) {
	rows, err := s.conn.Query(`SELECT key, value, updated_at FROM settings ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var settings []models.Setting
	for rows.Next() {
		var st models.Setting
		if err := rows.Scan(&st.Key, &st.Value, &st.UpdatedAt); err != nil {
			return nil, err
		}
		settings = append(settings, st)
	}
	return settings, rows.Err()
}

// Clear removes all persisted settings and server profiles.
func (s *Store) Clear() error {
	if _, err := s.conn.Exec(`DELETE FROM settings`); err != nil {
		return err
	}
	_, err := s.conn.Exec(`DELETE FROM servers`)
	return err
}

func (s *Store) PutServer(profile *models.ServerProfile) error {
	query := `
	INSERT INTO servers (name, url, secret, updated_at) VALUES (?, ?, ?, ?)
	ON CONFLICT(name) DO UPDATE SET
		url = excluded.url,
		secret = excluded.secret,
		updated_at = excluded.updated_at
	`
	_, err := s.conn.Exec(query, profile.Name, profile.URL, profile.Secret, time.Now())
	return err
}

func (s *Store) GetServer(name string) (*models.ServerProfile, error) {
	var p models.ServerProfile
	err := s.conn.QueryRow(`SELECT name, url, secret, updated_at FROM servers WHERE name = ?`, name).
		Scan(&p.Name, &p.URL, &p.Secret, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) ListServers() ([]models.ServerProfile, error) {
	rows, err := s.conn.Query(`SELECT name, url, secret, updated_at FROM servers ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []models.ServerProfile
	for rows.Next() {
		var p models.ServerProfile
		if err := rows.Scan(&p.Name, &p.URL, &p.Secret, &p.UpdatedAt); err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

func (s *Store) DeleteServer(name string) error {
	_, err := s.conn.Exec(`DELETE FROM servers WHERE name = ?`, name)
	return err
}

func (s *Store) Close() error {
	return s.conn.Close()
}
