package storage

import (
	"database/sql"
	"fmt"

	"github.com/carloslauriano/glomail/config"
	_ "github.com/lib/pq"
)

// PostgresStorage implementa a interface Storage para PostgreSQL
type PostgresStorage struct {
	*sqlStorage
}

// NewPostgresStorage cria uma nova instância de armazenamento PostgreSQL
func NewPostgresStorage(cfg *config.StorageConfig) (Storage, error) {
	sslmode := cfg.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, sslmode,
	)

	return NewPostgresStorageDSN(connStr)
}

// NewPostgresStorageDSN cria o armazenamento a partir de uma string de conexão
func NewPostgresStorageDSN(connStr string) (Storage, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("falha ao abrir banco de dados PostgreSQL: %w", err)
	}

	return &PostgresStorage{
		sqlStorage: &sqlStorage{db: db, numbered: true},
	}, nil
}

// Open verifica a conexão e cria o esquema
func (s *PostgresStorage) Open() error {
	if err := s.db.Ping(); err != nil {
		return fmt.Errorf("falha ao conectar ao PostgreSQL: %w", err)
	}
	if err := s.createSchema(); err != nil {
		return fmt.Errorf("falha ao criar esquema PostgreSQL: %w", err)
	}
	return nil
}

// Close fecha a conexão com o banco de dados
func (s *PostgresStorage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// createSchema cria o esquema do banco de dados
func (s *PostgresStorage) createSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		username VARCHAR(255) PRIMARY KEY,
		password_hash VARCHAR(255) NOT NULL,
		created TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS emails (
		id VARCHAR(255) PRIMARY KEY,
		owner VARCHAR(255) NOT NULL,
		recipient VARCHAR(255) NOT NULL,
		sender TEXT NOT NULL,
		destination TEXT NOT NULL,
		subject TEXT NOT NULL,
		content TEXT NOT NULL,
		date VARCHAR(32) NOT NULL,
		size BIGINT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS emails_owner_date ON emails (owner, date DESC, id DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}
