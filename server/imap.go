package server

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	stdlog "log"
	"strings"
	"time"

	"github.com/carloslauriano/glomail/config"
	"github.com/carloslauriano/glomail/protocol"
	"github.com/carloslauriano/glomail/storage"
	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/backend"
	"github.com/emersion/go-imap/backend/backendutil"
	imapserver "github.com/emersion/go-imap/server"
	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// ErrReadOnly é retornado por todo comando IMAP que alteraria a caixa
var ErrReadOnly = errors.New("caixa somente leitura")

const inboxName = "INBOX"

// IMAPBackend implementa a interface backend.Backend expondo a caixa
// de cada conta como INBOX somente leitura
type IMAPBackend struct {
	store  storage.Storage
	domain string
	logger log.Logger
}

// NewIMAPBackend cria um novo backend IMAP
func NewIMAPBackend(store storage.Storage, domain string, logger log.Logger) *IMAPBackend {
	return &IMAPBackend{
		store:  store,
		domain: domain,
		logger: logger,
	}
}

// Login implementa a autenticação IMAP
func (b *IMAPBackend) Login(connInfo *imap.ConnInfo, username, password string) (backend.User, error) {
	if err := b.store.VerifyCredentials(username, password); err != nil {
		if errors.Is(err, storage.ErrUnknownUser) || errors.Is(err, storage.ErrBadPassword) {
			level.Info(b.logger).Log("msg", "login failed", "proto", "imap", "user", username)
			return nil, backend.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("autenticação falhou: %w", err)
	}

	return &IMAPUser{
		backend:  b,
		username: storage.NormalizeUsername(username),
	}, nil
}

// IMAPUser implementa a interface backend.User
type IMAPUser struct {
	backend  *IMAPBackend
	username string
}

// Username retorna o nome do usuário
func (u *IMAPUser) Username() string {
	return u.username
}

func (u *IMAPUser) inbox() *IMAPMailbox {
	return &IMAPMailbox{user: u}
}

// ListMailboxes lista a única caixa do usuário
func (u *IMAPUser) ListMailboxes(subscribed bool) ([]backend.Mailbox, error) {
	return []backend.Mailbox{u.inbox()}, nil
}

// GetMailbox obtém uma caixa de entrada específica
func (u *IMAPUser) GetMailbox(name string) (backend.Mailbox, error) {
	if !strings.EqualFold(name, inboxName) {
		return nil, backend.ErrNoSuchMailbox
	}

	return u.inbox(), nil
}

// CreateMailbox não é suportado
func (u *IMAPUser) CreateMailbox(name string) error {
	return ErrReadOnly
}

// DeleteMailbox não é suportado
func (u *IMAPUser) DeleteMailbox(name string) error {
	return ErrReadOnly
}

// RenameMailbox não é suportado
func (u *IMAPUser) RenameMailbox(existingName, newName string) error {
	return ErrReadOnly
}

// Logout finaliza a sessão
func (u *IMAPUser) Logout() error {
	return nil
}

// IMAPMailbox implementa a interface backend.Mailbox.
// O UID de um email é sua posição na caixa, do mais antigo ao mais
// recente; como a caixa só cresce, os UIDs nunca mudam.
type IMAPMailbox struct {
	user *IMAPUser
}

// Name retorna o nome da caixa de entrada
func (m *IMAPMailbox) Name() string {
	return inboxName
}

// Info retorna informações sobre a caixa de entrada
func (m *IMAPMailbox) Info() (*imap.MailboxInfo, error) {
	return &imap.MailboxInfo{
		Attributes: []string{imap.NoInferiorsAttr},
		Delimiter:  "/",
		Name:       inboxName,
	}, nil
}

// emails retorna a caixa em ordem cronológica crescente
func (m *IMAPMailbox) emails() ([]*storage.Email, error) {
	emails, err := m.user.backend.store.ListEmails(m.user.username)
	if err != nil {
		return nil, fmt.Errorf("falha ao listar mensagens: %w", err)
	}

	for i, j := 0, len(emails)-1; i < j; i, j = i+1, j-1 {
		emails[i], emails[j] = emails[j], emails[i]
	}

	return emails, nil
}

// Status retorna o status da caixa de entrada
func (m *IMAPMailbox) Status(items []imap.StatusItem) (*imap.MailboxStatus, error) {
	emails, err := m.emails()
	if err != nil {
		return nil, err
	}

	status := imap.NewMailboxStatus(inboxName, items)
	status.ReadOnly = true
	status.Flags = []string{}
	status.PermanentFlags = []string{}

	for _, item := range items {
		switch item {
		case imap.StatusMessages:
			status.Messages = uint32(len(emails))
		case imap.StatusRecent:
			status.Recent = 0
		case imap.StatusUnseen:
			status.Unseen = 0
		case imap.StatusUidNext:
			status.UidNext = uint32(len(emails) + 1)
		case imap.StatusUidValidity:
			status.UidValidity = 1
		}
	}

	return status, nil
}

// SetSubscribed não altera nada: a caixa é sempre inscrita
func (m *IMAPMailbox) SetSubscribed(subscribed bool) error {
	return nil
}

// Check verifica a integridade da caixa de entrada
func (m *IMAPMailbox) Check() error {
	return nil
}

// ListMessages lista as mensagens da caixa de entrada
func (m *IMAPMailbox) ListMessages(uid bool, seqSet *imap.SeqSet, items []imap.FetchItem, ch chan<- *imap.Message) error {
	defer close(ch)

	emails, err := m.emails()
	if err != nil {
		return err
	}

	for i, email := range emails {
		seqNum := uint32(i + 1)
		// UID e número de sequência coincidem numa caixa sem expunge
		if !seqSet.Contains(seqNum) {
			continue
		}

		msg, err := m.fetch(seqNum, email, items)
		if err != nil {
			return err
		}

		ch <- msg
	}

	return nil
}

func (m *IMAPMailbox) fetch(seqNum uint32, email *storage.Email, items []imap.FetchItem) (*imap.Message, error) {
	raw, err := renderEmail(email, m.user.backend.domain)
	if err != nil {
		return nil, err
	}

	msg := imap.NewMessage(seqNum, items)
	for _, item := range items {
		switch item {
		case imap.FetchEnvelope:
			hdr, _, err := readRendered(raw)
			if err != nil {
				return nil, err
			}
			if msg.Envelope, err = backendutil.FetchEnvelope(hdr); err != nil {
				return nil, err
			}
		case imap.FetchBody, imap.FetchBodyStructure:
			hdr, body, err := readRendered(raw)
			if err != nil {
				return nil, err
			}
			if msg.BodyStructure, err = backendutil.FetchBodyStructure(hdr, body, item == imap.FetchBodyStructure); err != nil {
				return nil, err
			}
		case imap.FetchFlags:
			msg.Flags = []string{}
		case imap.FetchInternalDate:
			msg.InternalDate = email.Date
		case imap.FetchRFC822Size:
			msg.Size = uint32(len(raw))
		case imap.FetchUid:
			msg.Uid = seqNum
		default:
			section, err := imap.ParseBodySectionName(item)
			if err != nil {
				break
			}

			hdr, body, err := readRendered(raw)
			if err != nil {
				return nil, err
			}

			l, _ := backendutil.FetchBodySection(hdr, body, section)
			msg.Body[section] = l
		}
	}

	return msg, nil
}

// readRendered separa cabeçalho e corpo; cada item lido consome o corpo,
// daí um leitor novo por item
func readRendered(raw []byte) (textproto.Header, *bufio.Reader, error) {
	body := bufio.NewReader(bytes.NewReader(raw))
	hdr, err := textproto.ReadHeader(body)
	if err != nil {
		return textproto.Header{}, nil, fmt.Errorf("falha ao ler cabeçalho: %w", err)
	}

	return hdr, body, nil
}

// SearchMessages pesquisa mensagens na caixa de entrada
func (m *IMAPMailbox) SearchMessages(uid bool, criteria *imap.SearchCriteria) ([]uint32, error) {
	emails, err := m.emails()
	if err != nil {
		return nil, err
	}

	var results []uint32
	for i, email := range emails {
		seqNum := uint32(i + 1)

		raw, err := renderEmail(email, m.user.backend.domain)
		if err != nil {
			return nil, err
		}

		entity, err := message.Read(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("falha ao ler mensagem: %w", err)
		}

		ok, err := backendutil.Match(entity, seqNum, seqNum, email.Date, nil, criteria)
		if err != nil || !ok {
			continue
		}

		results = append(results, seqNum)
	}

	return results, nil
}

// CreateMessage não é suportado: emails chegam pelo GLO ou pelo SMTP
func (m *IMAPMailbox) CreateMessage(flags []string, date time.Time, body imap.Literal) error {
	return ErrReadOnly
}

// UpdateMessagesFlags não é suportado
func (m *IMAPMailbox) UpdateMessagesFlags(uid bool, seqSet *imap.SeqSet, operation imap.FlagsOp, flags []string) error {
	return ErrReadOnly
}

// CopyMessages não é suportado
func (m *IMAPMailbox) CopyMessages(uid bool, seqSet *imap.SeqSet, destName string) error {
	return ErrReadOnly
}

// Expunge não é suportado
func (m *IMAPMailbox) Expunge() error {
	return ErrReadOnly
}

// renderEmail gera a representação RFC 5322 de um email
func renderEmail(email *storage.Email, domain string) ([]byte, error) {
	var h mail.Header
	h.SetDate(email.Date)
	h.SetSubject(email.Subject)
	h.SetAddressList("From", []*mail.Address{{Address: email.Sender}})
	h.SetAddressList("To", []*mail.Address{{Address: email.Destination}})
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	h.Set("Message-Id", "<"+email.ID+"@"+domain+">")
	h.Set("X-Glo-Date", protocol.FormatDate(email.Date))

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("falha ao gerar mensagem: %w", err)
	}

	content := strings.ReplaceAll(email.Content, "\r\n", "\n")
	if _, err := io.WriteString(w, strings.ReplaceAll(content, "\n", "\r\n")); err != nil {
		return nil, fmt.Errorf("falha ao gerar mensagem: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("falha ao gerar mensagem: %w", err)
	}

	return buf.Bytes(), nil
}

// NewIMAPServer configura o servidor IMAP somente leitura
func NewIMAPServer(cfg *config.Config, store storage.Storage, logger log.Logger) *imapserver.Server {
	be := NewIMAPBackend(store, cfg.Server.Domain, logger)
	s := imapserver.New(be)

	s.Addr = cfg.IMAP.Addr()
	s.AllowInsecureAuth = true
	s.ErrorLog = stdlog.New(log.NewStdlibAdapter(level.Warn(logger)), "", 0)

	return s
}

// StartIMAPServer inicia o servidor IMAP
func StartIMAPServer(s *imapserver.Server, logger log.Logger) error {
	level.Info(logger).Log("msg", "listening", "proto", "imap", "addr", s.Addr)

	if err := s.ListenAndServe(); err != nil {
		return fmt.Errorf("falha no servidor IMAP: %w", err)
	}

	return nil
}
