package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/carloslauriano/glomail/config"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

const (
	passwordFilename = "passwd"
	emailExt         = ".json"
)

// FileStorage implementa a interface Storage sobre o sistema de arquivos:
// um diretório por usuário com o hash da senha e um arquivo por email,
// mais um diretório reservado para os emails sem destinatário.
type FileStorage struct {
	root    string
	lostDir string
	logger  log.Logger
}

// NewFileStorage cria uma nova instância de armazenamento em arquivos.
// Arquivos de email ilegíveis são ignorados e reportados em logger.
func NewFileStorage(cfg *config.StorageConfig, logger log.Logger) (Storage, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("diretório de dados não configurado")
	}
	if cfg.LostDir == "" || ValidateUsername(cfg.LostDir) == nil {
		return nil, fmt.Errorf("diretório reservado inválido: %q", cfg.LostDir)
	}

	if logger == nil {
		logger = log.NewNopLogger()
	}

	return &FileStorage{
		root:    cfg.DataDir,
		lostDir: cfg.LostDir,
		logger:  logger,
	}, nil
}

// Open garante que os diretórios de dados existem
func (s *FileStorage) Open() error {
	if err := os.MkdirAll(filepath.Join(s.root, s.lostDir), 0o750); err != nil {
		return fmt.Errorf("falha ao criar diretórios de dados: %w", err)
	}
	return nil
}

// Close não tem recursos a liberar
func (s *FileStorage) Close() error {
	return nil
}

// userDir resolve o diretório de um usuário, recusando nomes que
// poderiam escapar da raiz
func (s *FileStorage) userDir(username string) (string, error) {
	if err := ValidateUsername(username); err != nil {
		return "", err
	}
	return filepath.Join(s.root, NormalizeUsername(username)), nil
}

// CreateAccount cria o diretório do usuário e grava o hash da senha.
// O os.Mkdir atômico garante uma única conta por nome, mesmo com
// registros concorrentes.
func (s *FileStorage) CreateAccount(username, password string) error {
	dir, err := s.userDir(username)
	if err != nil {
		return err
	}
	if err := ValidatePassword(password); err != nil {
		return err
	}

	hash, err := HashPassword(password)
	if err != nil {
		return err
	}

	if err := os.Mkdir(dir, 0o750); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return ErrDuplicateUser
		}
		return fmt.Errorf("falha ao criar diretório do usuário: %w", err)
	}

	if err := writeFileAtomic(dir, passwordFilename, []byte(hash)); err != nil {
		os.RemoveAll(dir)
		return fmt.Errorf("falha ao gravar senha: %w", err)
	}

	return nil
}

// VerifyCredentials autentica um usuário
func (s *FileStorage) VerifyCredentials(username, password string) error {
	dir, err := s.userDir(username)
	if err != nil {
		return ErrUnknownUser
	}

	hash, err := os.ReadFile(filepath.Join(dir, passwordFilename))
	if errors.Is(err, fs.ErrNotExist) {
		return ErrUnknownUser
	} else if err != nil {
		return fmt.Errorf("falha ao ler senha: %w", err)
	}

	return CheckPassword(string(hash), password)
}

// AccountExists indica se a conta existe
func (s *FileStorage) AccountExists(username string) (bool, error) {
	dir, err := s.userDir(username)
	if err != nil {
		return false, nil
	}

	_, err = os.Stat(filepath.Join(dir, passwordFilename))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("falha ao verificar conta: %w", err)
	}

	return true, nil
}

// AppendEmail grava um novo email na caixa do usuário
func (s *FileStorage) AppendEmail(username string, email *Email) error {
	exists, err := s.AccountExists(username)
	if err != nil {
		return err
	}
	if !exists {
		return ErrUnknownUser
	}

	dir, _ := s.userDir(username)
	return s.writeEmail(dir, username, email)
}

// AppendLost arquiva um email cujo destinatário não existe
func (s *FileStorage) AppendLost(recipient string, email *Email) error {
	return s.writeEmail(filepath.Join(s.root, s.lostDir), recipient, email)
}

func (s *FileStorage) writeEmail(dir, recipient string, email *Email) error {
	if email.Date.IsZero() {
		return ErrInvalidDate
	}
	if email.ID == "" {
		email.ID = NewEmailID(recipient, email.Date)
	}

	data, err := encodeEmail(email)
	if err != nil {
		return fmt.Errorf("falha ao codificar email: %w", err)
	}

	if err := writeFileAtomic(dir, email.ID+emailExt, data); err != nil {
		return fmt.Errorf("falha ao gravar email: %w", err)
	}

	return nil
}

// ListEmails lista os emails do usuário, do mais recente ao mais antigo
func (s *FileStorage) ListEmails(username string) ([]*Email, error) {
	dir, err := s.userDir(username)
	if err != nil {
		return nil, ErrUnknownUser
	}

	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrUnknownUser
	} else if err != nil {
		return nil, fmt.Errorf("falha ao listar emails: %w", err)
	}

	emails := make([]*Email, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !strings.HasSuffix(entry.Name(), emailExt) {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("falha ao ler email: %w", err)
		}

		email, err := decodeEmail(strings.TrimSuffix(entry.Name(), emailExt), data)
		if err != nil {
			level.Warn(s.logger).Log("msg", "skipping unreadable email", "user", username, "file", entry.Name(), "err", err)
			continue
		}
		emails = append(emails, email)
	}

	SortEmails(emails)
	return emails, nil
}

// UsageStats conta os emails e soma o tamanho de todos os arquivos do usuário
func (s *FileStorage) UsageStats(username string) (*UsageStats, error) {
	dir, err := s.userDir(username)
	if err != nil {
		return nil, ErrUnknownUser
	}

	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return nil, ErrUnknownUser
	}

	stats := &UsageStats{}
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if errors.Is(err, fs.ErrNotExist) {
			// arquivo temporário já renomeado
			return nil
		} else if err != nil {
			return err
		}

		stats.Size += info.Size()
		if strings.HasSuffix(d.Name(), emailExt) {
			stats.Count++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("falha ao calcular uso: %w", err)
	}

	return stats, nil
}

// writeFileAtomic grava em um arquivo temporário e o renomeia,
// para que leitores nunca vejam um arquivo incompleto
func writeFileAtomic(dir, name string, data []byte) error {
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), filepath.Join(dir, name))
}
