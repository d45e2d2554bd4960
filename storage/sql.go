package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/carloslauriano/glomail/protocol"
)

// lostOwner marca no banco os emails sem destinatário
const lostOwner = ""

// sqlStorage contém as operações comuns aos bancos SQL.
// As consultas usam '?' e são reescritas para '$n' quando numbered é verdadeiro.
type sqlStorage struct {
	db       *sql.DB
	numbered bool
}

func (s *sqlStorage) rebind(query string) string {
	if !s.numbered {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// CreateAccount cria uma nova conta
func (s *sqlStorage) CreateAccount(username, password string) error {
	if err := ValidateUsername(username); err != nil {
		return err
	}
	if err := ValidatePassword(password); err != nil {
		return err
	}

	hash, err := HashPassword(password)
	if err != nil {
		return err
	}

	result, err := s.db.Exec(
		s.rebind("INSERT INTO accounts (username, password_hash, created) VALUES (?, ?, ?) ON CONFLICT (username) DO NOTHING"),
		NormalizeUsername(username), hash, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("falha ao criar conta: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("falha ao criar conta: %w", err)
	}
	if n == 0 {
		return ErrDuplicateUser
	}

	return nil
}

func (s *sqlStorage) passwordHash(username string) (string, error) {
	if ValidateUsername(username) != nil {
		return "", ErrUnknownUser
	}

	var hash string
	err := s.db.QueryRow(
		s.rebind("SELECT password_hash FROM accounts WHERE username = ?"),
		NormalizeUsername(username),
	).Scan(&hash)

	if err == sql.ErrNoRows {
		return "", ErrUnknownUser
	} else if err != nil {
		return "", fmt.Errorf("falha ao obter conta: %w", err)
	}

	return hash, nil
}

// VerifyCredentials autentica um usuário
func (s *sqlStorage) VerifyCredentials(username, password string) error {
	hash, err := s.passwordHash(username)
	if err != nil {
		return err
	}

	return CheckPassword(hash, password)
}

// AccountExists indica se a conta existe
func (s *sqlStorage) AccountExists(username string) (bool, error) {
	_, err := s.passwordHash(username)
	if errors.Is(err, ErrUnknownUser) {
		return false, nil
	} else if err != nil {
		return false, err
	}

	return true, nil
}

// AppendEmail grava um novo email na caixa do usuário
func (s *sqlStorage) AppendEmail(username string, email *Email) error {
	exists, err := s.AccountExists(username)
	if err != nil {
		return err
	}
	if !exists {
		return ErrUnknownUser
	}

	return s.insertEmail(NormalizeUsername(username), username, email)
}

// AppendLost arquiva um email cujo destinatário não existe
func (s *sqlStorage) AppendLost(recipient string, email *Email) error {
	return s.insertEmail(lostOwner, recipient, email)
}

func (s *sqlStorage) insertEmail(owner, recipient string, email *Email) error {
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

	_, err = s.db.Exec(
		s.rebind(`INSERT INTO emails
		(id, owner, recipient, sender, destination, subject, content, date, size)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		email.ID, owner, sanitizeKey(recipient), email.Sender, email.Destination, email.Subject,
		email.Content, protocol.FormatDate(email.Date), len(data),
	)
	if err != nil {
		return fmt.Errorf("falha ao gravar email: %w", err)
	}

	return nil
}

// ListEmails lista os emails do usuário, do mais recente ao mais antigo
func (s *sqlStorage) ListEmails(username string) ([]*Email, error) {
	exists, err := s.AccountExists(username)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrUnknownUser
	}

	rows, err := s.db.Query(
		s.rebind(`SELECT id, sender, destination, subject, content, date FROM emails
		WHERE owner = ? ORDER BY date DESC, id DESC`),
		NormalizeUsername(username),
	)
	if err != nil {
		return nil, fmt.Errorf("falha ao listar emails: %w", err)
	}
	defer rows.Close()

	emails := []*Email{}
	for rows.Next() {
		email := &Email{}
		var date string
		if err := rows.Scan(&email.ID, &email.Sender, &email.Destination, &email.Subject, &email.Content, &date); err != nil {
			return nil, fmt.Errorf("falha ao ler dados do email: %w", err)
		}

		email.Date, err = protocol.ParseDate(date)
		if err != nil {
			return nil, fmt.Errorf("email %s: %w: %v", email.ID, ErrInvalidDate, err)
		}
		emails = append(emails, email)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("erro ao iterar sobre emails: %w", err)
	}

	SortEmails(emails)
	return emails, nil
}

// UsageStats conta os emails e soma o espaço ocupado pelo usuário
func (s *sqlStorage) UsageStats(username string) (*UsageStats, error) {
	hash, err := s.passwordHash(username)
	if err != nil {
		return nil, err
	}

	stats := &UsageStats{}
	err = s.db.QueryRow(
		s.rebind("SELECT COUNT(*), COALESCE(SUM(size), 0) FROM emails WHERE owner = ?"),
		NormalizeUsername(username),
	).Scan(&stats.Count, &stats.Size)
	if err != nil {
		return nil, fmt.Errorf("falha ao calcular uso: %w", err)
	}

	stats.Size += int64(len(hash))
	return stats, nil
}
