package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/carloslauriano/glomail/protocol"
	"github.com/carloslauriano/glomail/storage"
)

// ErrExternalRecipient é retornado para destinatários de outros domínios
var ErrExternalRecipient = errors.New("destinatário externo")

// ErrUnknownRecipient é retornado quando o destinatário local não existe
var ErrUnknownRecipient = errors.New("destinatário inexistente")

// Router entrega emails nas caixas locais. Emails para contas locais
// inexistentes são arquivados no diretório de perdidos.
type Router struct {
	store  storage.Storage
	domain string
}

// NewRouter cria um roteador para o domínio local
func NewRouter(store storage.Storage, domain string) *Router {
	return &Router{
		store:  store,
		domain: domain,
	}
}

// Domain retorna o domínio local
func (r *Router) Domain() string {
	return r.domain
}

// Resolve retorna o nome de usuário local designado por addr
func (r *Router) Resolve(addr string) (string, error) {
	local, domain, ok := protocol.SplitAddress(addr)
	if !ok || !strings.EqualFold(domain, r.domain) {
		return "", ErrExternalRecipient
	}

	return storage.NormalizeUsername(local), nil
}

// Deliver grava o email na caixa do destinatário
func (r *Router) Deliver(email *storage.Email) error {
	username, err := r.Resolve(email.Destination)
	if err != nil {
		return err
	}

	exists, err := r.store.AccountExists(username)
	if err != nil {
		return err
	}

	if exists {
		err = r.store.AppendEmail(username, email)
		if !errors.Is(err, storage.ErrUnknownUser) {
			return err
		}
	}

	if err := r.store.AppendLost(username, email); err != nil {
		return fmt.Errorf("falha ao arquivar email perdido: %w", err)
	}

	return ErrUnknownRecipient
}
