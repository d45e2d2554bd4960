package server

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/carloslauriano/glomail/config"
	"github.com/carloslauriano/glomail/storage"
	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-smtp"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// SMTPBackend implementa a interface smtp.Backend, aceitando apenas
// emails destinados ao domínio local
type SMTPBackend struct {
	router  *Router
	logger  log.Logger
	metrics *Metrics
}

// NewSMTPBackend cria um novo backend SMTP
func NewSMTPBackend(router *Router, logger log.Logger, metrics *Metrics) *SMTPBackend {
	if metrics == nil {
		metrics = NewDiscardMetrics()
	}

	return &SMTPBackend{
		router:  router,
		logger:  logger,
		metrics: metrics,
	}
}

// NewSession cria uma sessão para cada conexão SMTP
func (b *SMTPBackend) NewSession(c *smtp.Conn) (smtp.Session, error) {
	remote := ""
	if nc := c.Conn(); nc != nil {
		remote = nc.RemoteAddr().String()
	}

	return &SMTPSession{
		backend: b,
		logger:  log.With(b.logger, "proto", "smtp", "remote", remote),
	}, nil
}

// SMTPSession implementa a interface smtp.Session
type SMTPSession struct {
	backend *SMTPBackend
	logger  log.Logger
	from    string
	to      []string
}

// Mail inicia uma nova transação de email
func (s *SMTPSession) Mail(from string, opts *smtp.MailOptions) error {
	s.from = from
	return nil
}

// Rcpt aceita apenas destinatários do domínio local
func (s *SMTPSession) Rcpt(to string, opts *smtp.RcptOptions) error {
	if _, err := s.backend.router.Resolve(to); err != nil {
		level.Info(s.logger).Log("msg", "relay denied", "rcpt", to)
		return &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 7, 1},
			Message:      "Relay not permitted",
		}
	}

	s.to = append(s.to, strings.TrimSpace(to))
	return nil
}

// Data interpreta a mensagem e a entrega a cada destinatário
func (s *SMTPSession) Data(r io.Reader) error {
	if len(s.to) == 0 {
		return &smtp.SMTPError{
			Code:         503,
			EnhancedCode: smtp.EnhancedCode{5, 5, 1},
			Message:      "Bad sequence of commands (missing RCPT TO)",
		}
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("falha ao ler email: %w", err)
	}

	parsed, err := parseMessage(raw, s.from)
	if err != nil {
		level.Info(s.logger).Log("msg", "unparseable message", "err", err)
		return &smtp.SMTPError{
			Code:         554,
			EnhancedCode: smtp.EnhancedCode{5, 6, 0},
			Message:      "Malformed message",
		}
	}

	var unknown []string
	for _, rcpt := range s.to {
		email := *parsed
		email.Destination = rcpt

		err := s.backend.router.Deliver(&email)
		switch {
		case err == nil:
			s.backend.metrics.Deliveries.With("source", "smtp").Add(1)
		case errors.Is(err, ErrUnknownRecipient):
			unknown = append(unknown, rcpt)
		default:
			level.Error(s.logger).Log("msg", "delivery failed", "rcpt", rcpt, "err", err)
			return &smtp.SMTPError{
				Code:         451,
				EnhancedCode: smtp.EnhancedCode{4, 3, 0},
				Message:      "Temporary delivery failure",
			}
		}
	}

	level.Info(s.logger).Log("msg", "message received", "from", s.from, "rcpts", len(s.to), "unknown", len(unknown))

	if len(unknown) > 0 {
		return &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 1, 1},
			Message:      "No such user here: " + strings.Join(unknown, ", "),
		}
	}

	return nil
}

// Reset limpa o estado da sessão
func (s *SMTPSession) Reset() {
	s.from = ""
	s.to = nil
}

// Logout finaliza a sessão
func (s *SMTPSession) Logout() error {
	return nil
}

// parseMessage extrai remetente, assunto, data e a primeira parte de
// texto de uma mensagem RFC 5322
func parseMessage(raw []byte, envelopeFrom string) (*storage.Email, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("falha ao interpretar cabeçalho: %w", err)
	}
	defer mr.Close()

	email := &storage.Email{Sender: envelopeFrom}

	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		email.Sender = from[0].Address
	}
	if subject, err := mr.Header.Subject(); err == nil {
		email.Subject = subject
	}
	if date, err := mr.Header.Date(); err == nil && !date.IsZero() {
		email.Date = date.UTC()
	} else {
		email.Date = time.Now().UTC()
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return nil, fmt.Errorf("falha ao ler parte: %w", err)
		}
		if part == nil {
			continue
		}

		h, inline := part.Header.(*mail.InlineHeader)
		if !inline {
			continue
		}
		if ct, _, _ := h.ContentType(); ct != "" && !strings.HasPrefix(ct, "text/") {
			continue
		}

		body, err := io.ReadAll(part.Body)
		if err != nil {
			return nil, fmt.Errorf("falha ao ler corpo: %w", err)
		}
		email.Content = strings.ReplaceAll(string(body), "\r\n", "\n")
		break
	}

	return email, nil
}

// NewSMTPServer configura o servidor SMTP de entrada
func NewSMTPServer(cfg *config.Config, router *Router, logger log.Logger, metrics *Metrics) *smtp.Server {
	be := NewSMTPBackend(router, logger, metrics)
	s := smtp.NewServer(be)

	s.Addr = cfg.SMTP.Addr()
	s.Domain = cfg.Server.Domain
	s.ReadTimeout = 10 * time.Second
	s.WriteTimeout = 10 * time.Second
	s.MaxMessageBytes = cfg.SMTP.MaxMessageBytes
	s.MaxRecipients = 50

	return s
}

// StartSMTPServer inicia o servidor SMTP
func StartSMTPServer(s *smtp.Server, logger log.Logger) error {
	level.Info(logger).Log("msg", "listening", "proto", "smtp", "addr", s.Addr)

	if err := s.ListenAndServe(); err != nil && !errors.Is(err, smtp.ErrServerClosed) {
		return fmt.Errorf("falha no servidor SMTP: %w", err)
	}

	return nil
}
