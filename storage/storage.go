package storage

import (
	"errors"
	"fmt"

	"github.com/carloslauriano/glomail/config"
	"github.com/go-kit/log"
)

// ErrDuplicateUser é retornado quando o nome de usuário já está em uso
var ErrDuplicateUser = errors.New("nome de usuário já utilizado")

// ErrInvalidUsername é retornado quando o nome de usuário contém caracteres inválidos
var ErrInvalidUsername = errors.New("nome de usuário inválido")

// ErrWeakPassword é retornado quando a senha não respeita a política
var ErrWeakPassword = errors.New("senha fraca")

// ErrUnknownUser é retornado quando a conta não existe
var ErrUnknownUser = errors.New("usuário não encontrado")

// ErrBadPassword é retornado quando a senha não confere
var ErrBadPassword = errors.New("senha inválida")

// ErrInvalidDate é retornado quando a data de um email não está no formato canônico
var ErrInvalidDate = errors.New("data inválida")

// Storage é a interface para operações de armazenamento das caixas de correio
type Storage interface {
	// Métodos de inicialização
	Open() error
	Close() error

	// Métodos de conta
	CreateAccount(username, password string) error
	VerifyCredentials(username, password string) error
	AccountExists(username string) (bool, error)

	// Métodos de email
	AppendEmail(username string, email *Email) error
	AppendLost(recipient string, email *Email) error
	ListEmails(username string) ([]*Email, error)
	UsageStats(username string) (*UsageStats, error)
}

// NewStorage cria uma nova instância de armazenamento com base na configuração
func NewStorage(cfg *config.Config, logger log.Logger) (Storage, error) {
	switch cfg.Storage.Type {
	case "filesystem":
		return NewFileStorage(&cfg.Storage, logger)
	case "sqlite":
		return NewSQLiteStorage(&cfg.Storage)
	case "postgres":
		return NewPostgresStorage(&cfg.Storage)
	default:
		return nil, fmt.Errorf("tipo de armazenamento não suportado: %s", cfg.Storage.Type)
	}
}
