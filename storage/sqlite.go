package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/carloslauriano/glomail/config"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStorage implementa a interface Storage para SQLite
type SQLiteStorage struct {
	*sqlStorage
	path string
}

// NewSQLiteStorage cria uma nova instância de armazenamento SQLite
func NewSQLiteStorage(cfg *config.StorageConfig) (Storage, error) {
	// Garantir que o diretório existe
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("falha ao criar diretório para SQLite: %w", err)
	}

	return &SQLiteStorage{
		sqlStorage: &sqlStorage{},
		path:       cfg.Path,
	}, nil
}

// Open abre a conexão com o banco de dados
func (s *SQLiteStorage) Open() error {
	db, err := sql.Open("sqlite3", s.path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return fmt.Errorf("falha ao abrir banco de dados SQLite: %w", err)
	}
	// SQLite serializa as escritas de qualquer forma
	db.SetMaxOpenConns(1)
	s.db = db

	if err := s.createSchema(); err != nil {
		s.db.Close()
		return fmt.Errorf("falha ao criar esquema SQLite: %w", err)
	}

	return nil
}

// Close fecha a conexão com o banco de dados
func (s *SQLiteStorage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// createSchema cria o esquema do banco de dados
func (s *SQLiteStorage) createSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		username TEXT PRIMARY KEY,
		password_hash TEXT NOT NULL,
		created DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS emails (
		id TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		recipient TEXT NOT NULL,
		sender TEXT NOT NULL,
		destination TEXT NOT NULL,
		subject TEXT NOT NULL,
		content TEXT NOT NULL,
		date TEXT NOT NULL,
		size INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS emails_owner_date ON emails (owner, date DESC, id DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}
