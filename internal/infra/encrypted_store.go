package infra

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// Ensure sqlcipher driver is registered.
	_ "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/robbob/launcher/internal/domain"
)

const (
	secureDBName  = "secure.db"
	schemaVersion = "1"
)

// EncryptedStore implements domain.StateStore on a SQLCipher encrypted
// SQLite database. It holds the subscription record.
type EncryptedStore struct {
	db     *sql.DB
	dbPath string
}

// NewEncryptedStore opens (or creates) the encrypted database in dataDir.
// The key is used as the SQLCipher passphrase via PRAGMA key.
func NewEncryptedStore(dataDir string, key []byte) (*EncryptedStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("%w: create data directory: %v", domain.ErrFilesystem, err)
	}

	dbPath := filepath.Join(dataDir, secureDBName)
	keyHex := hex.EncodeToString(key)

	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", dbPath, keyHex)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open encrypted database: %v", domain.ErrFilesystem, err)
	}
	// SQLite allows one writer.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: connect encrypted database: %v", domain.ErrFilesystem, err)
	}

	s := &EncryptedStore{db: db, dbPath: dbPath}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: create tables (wrong key?): %v", domain.ErrFilesystem, err)
	}
	v, err := s.SchemaVersion()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: read schema version: %v", domain.ErrFilesystem, err)
	}
	if v != schemaVersion {
		db.Close()
		return nil, fmt.Errorf("%w: %s has schema version %s, want %s", domain.ErrFilesystem, dbPath, v, schemaVersion)
	}
	return s, nil
}

func (s *EncryptedStore) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	_, err := s.db.Exec(`INSERT OR IGNORE INTO meta (key, value) VALUES ('schema_version', ?)`, schemaVersion)
	return err
}

// Get returns the value and whether key exists.
func (s *EncryptedStore) Get(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", domain.ErrFilesystem, err)
	}
	return value, true, nil
}

// Set stores a value.
func (s *EncryptedStore) Set(key, value string) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO kv (key, value, updated_at) VALUES (?, ?, ?)`,
		key, value, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrFilesystem, err)
	}
	return nil
}

// Delete removes keys in one transaction. Missing keys are ignored.
func (s *EncryptedStore) Delete(keys ...string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrFilesystem, err)
	}
	for _, k := range keys {
		if _, err := tx.Exec(`DELETE FROM kv WHERE key = ?`, k); err != nil {
			tx.Rollback()
			return fmt.Errorf("%w: %v", domain.ErrFilesystem, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrFilesystem, err)
	}
	return nil
}

// All returns every stored pair.
func (s *EncryptedStore) All() (map[string]string, error) {
	rows, err := s.db.Query(`SELECT key, value FROM kv`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrFilesystem, err)
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrFilesystem, err)
		}
		values[k] = v
	}
	return values, rows.Err()
}

// SchemaVersion returns the stored schema version.
func (s *EncryptedStore) SchemaVersion() (string, error) {
	var v string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&v)
	return v, err
}

// Path returns the database file path.
func (s *EncryptedStore) Path() string {
	return s.dbPath
}

// Close releases the database connection. Safe to call twice.
func (s *EncryptedStore) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		return err
	}
	return nil
}

// OpenSubscriptionBackend opens the encrypted store, creating the key on
// first use.
func OpenSubscriptionBackend(dataDir string) (*EncryptedStore, error) {
	key, err := EnsureKey(NewFileKeyProvider(dataDir))
	if err != nil {
		return nil, err
	}
	return NewEncryptedStore(dataDir, key)
}

// Ensure EncryptedStore implements domain.StateStore.
var _ domain.StateStore = (*EncryptedStore)(nil)
