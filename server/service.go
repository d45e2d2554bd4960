package server

import (
	"errors"
	"strings"

	"github.com/carloslauriano/glomail/protocol"
	"github.com/carloslauriano/glomail/session"
	"github.com/carloslauriano/glomail/storage"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Respostas de erro enviadas aos clientes
const (
	msgInvalidUsername   = "Nome de usuário inválido: use apenas caracteres alfanuméricos, '.', '_' ou '-'."
	msgDuplicateUser     = "O nome de usuário já está em uso. Escolha outro nome de usuário."
	msgWeakPassword      = "A senha não é segura o suficiente: use ao menos 10 caracteres, com ao menos um dígito, uma maiúscula e uma minúscula."
	msgUnknownUser       = "Não existe conta associada a este nome de usuário."
	msgBadPassword       = "Senha inválida."
	msgNotAuthenticated  = "Autenticação necessária."
	msgInvalidChoice     = "Escolha inválida."
	msgInvalidDate       = "Data inválida: use o formato " + protocol.DateLayout + "."
	msgExternalRecipient = "O destinatário é externo. Somente envios internos são permitidos."
	msgUnknownRecipient  = "O destinatário não existe."
	msgMalformed         = "Mensagem malformada."
	msgUnexpected        = "Mensagem inesperada."
	msgInternal          = "Erro interno do servidor."
)

// Service define as operações do protocolo. Cada método recebe a
// conexão de origem e retorna exatamente uma resposta.
type Service interface {

	// Register cria uma conta e autentica a conexão.
	Register(id session.ID, req protocol.AuthRegister) protocol.Message

	// Login autentica a conexão com uma conta existente.
	Login(id session.ID, req protocol.AuthLogin) protocol.Message

	// Logout remove a autenticação da conexão. É idempotente.
	Logout(id session.ID) protocol.Message

	// ListInbox lista a caixa do usuário, do mais recente ao mais antigo.
	ListInbox(id session.ID) protocol.Message

	// ReadEmail retorna o email na posição escolhida da mesma listagem.
	ReadEmail(id session.ID, req protocol.InboxReadingChoice) protocol.Message

	// SendEmail entrega um email a um destinatário local.
	SendEmail(id session.ID, req protocol.EmailSending) protocol.Message

	// Stats retorna o número de emails e o espaço ocupado.
	Stats(id session.ID) protocol.Message
}

type service struct {
	logger log.Logger
	store  storage.Storage
	table  *session.Table
	router *Router
}

// NewService cria o despachante do protocolo sobre o armazenamento
// e a tabela de sessões
func NewService(logger log.Logger, store storage.Storage, table *session.Table, router *Router) Service {
	return &service{
		logger: logger,
		store:  store,
		table:  table,
		router: router,
	}
}

func (s *service) Register(id session.ID, req protocol.AuthRegister) protocol.Message {
	if err := s.store.CreateAccount(req.Username, req.Password); err != nil {
		return s.failure(err)
	}

	// O registro autentica a conexão imediatamente
	s.table.Bind(id, storage.NormalizeUsername(req.Username))
	return s.ok(nil)
}

func (s *service) Login(id session.ID, req protocol.AuthLogin) protocol.Message {
	if err := s.store.VerifyCredentials(req.Username, req.Password); err != nil {
		return s.failure(err)
	}

	s.table.Bind(id, storage.NormalizeUsername(req.Username))
	return s.ok(nil)
}

func (s *service) Logout(id session.ID) protocol.Message {
	s.table.Unbind(id)
	return s.ok(nil)
}

func (s *service) ListInbox(id session.ID) protocol.Message {
	username, authenticated := s.table.Lookup(id)
	if !authenticated {
		return protocol.NewError(msgNotAuthenticated)
	}

	emails, err := s.store.ListEmails(username)
	if err != nil {
		return s.failure(err)
	}

	list := protocol.EmailList{EmailList: make([]string, 0, len(emails))}
	for i, email := range emails {
		list.EmailList = append(list.EmailList, protocol.SubjectDisplay(
			i+1, email.Sender, email.Subject, protocol.FormatDate(email.Date),
		))
	}

	return s.ok(list)
}

func (s *service) ReadEmail(id session.ID, req protocol.InboxReadingChoice) protocol.Message {
	username, authenticated := s.table.Lookup(id)
	if !authenticated {
		return protocol.NewError(msgNotAuthenticated)
	}

	// Mesma ordenação que ListInbox, logo a mesma numeração
	emails, err := s.store.ListEmails(username)
	if err != nil {
		return s.failure(err)
	}

	if req.Choice < 1 || req.Choice > len(emails) {
		return protocol.NewError(msgInvalidChoice)
	}

	return s.ok(emails[req.Choice-1].ContentPayload())
}

func (s *service) SendEmail(id session.ID, req protocol.EmailSending) protocol.Message {
	username, authenticated := s.table.Lookup(id)
	if !authenticated {
		return protocol.NewError(msgNotAuthenticated)
	}

	date, err := protocol.ParseDate(req.Date)
	if err != nil {
		return protocol.NewError(msgInvalidDate)
	}

	email := &storage.Email{
		Sender:      protocol.LocalAddress(username, s.router.Domain()),
		Destination: strings.TrimSpace(req.Destination),
		Subject:     req.Subject,
		Content:     req.Content,
		Date:        date,
	}

	if err := s.router.Deliver(email); err != nil {
		return s.failure(err)
	}

	return s.ok(nil)
}

func (s *service) Stats(id session.ID) protocol.Message {
	username, authenticated := s.table.Lookup(id)
	if !authenticated {
		return protocol.NewError(msgNotAuthenticated)
	}

	stats, err := s.store.UsageStats(username)
	if err != nil {
		return s.failure(err)
	}

	return s.ok(protocol.Stats{Count: stats.Count, Size: stats.Size})
}

// failure converte um erro em resposta ERROR legível
func (s *service) failure(err error) protocol.Message {
	switch {
	case errors.Is(err, storage.ErrInvalidUsername):
		return protocol.NewError(msgInvalidUsername)
	case errors.Is(err, storage.ErrDuplicateUser):
		return protocol.NewError(msgDuplicateUser)
	case errors.Is(err, storage.ErrWeakPassword):
		return protocol.NewError(msgWeakPassword)
	case errors.Is(err, storage.ErrUnknownUser):
		return protocol.NewError(msgUnknownUser)
	case errors.Is(err, storage.ErrBadPassword):
		return protocol.NewError(msgBadPassword)
	case errors.Is(err, storage.ErrInvalidDate):
		return protocol.NewError(msgInvalidDate)
	case errors.Is(err, ErrExternalRecipient):
		return protocol.NewError(msgExternalRecipient)
	case errors.Is(err, ErrUnknownRecipient):
		return protocol.NewError(msgUnknownRecipient)
	}

	level.Error(s.logger).Log("msg", "storage operation failed", "err", err)
	return protocol.NewError(msgInternal)
}

func (s *service) ok(payload any) protocol.Message {
	reply, err := protocol.NewOK(payload)
	if err != nil {
		level.Error(s.logger).Log("msg", "failed to encode reply", "err", err)
		return protocol.NewError(msgInternal)
	}
	return reply
}

// Dispatch executa uma requisição e retorna a resposta. done indica que
// a conexão deve ser encerrada sem resposta.
func Dispatch(svc Service, id session.ID, msg protocol.Message) (reply protocol.Message, done bool) {
	switch req := msg.(type) {
	case protocol.AuthRegister:
		return svc.Register(id, req), false
	case protocol.AuthLogin:
		return svc.Login(id, req), false
	case protocol.AuthLogout:
		return svc.Logout(id), false
	case protocol.InboxReadingRequest:
		return svc.ListInbox(id), false
	case protocol.InboxReadingChoice:
		return svc.ReadEmail(id, req), false
	case protocol.EmailSending:
		return svc.SendEmail(id, req), false
	case protocol.StatsRequest:
		return svc.Stats(id), false
	case protocol.Bye:
		return nil, true
	default:
		// Respostas enviadas pelo cliente
		return protocol.NewError(msgUnexpected), false
	}
}
