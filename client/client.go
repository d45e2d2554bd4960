// Package client implementa o lado cliente do protocolo GLO: uma
// requisição por ação, uma resposta por requisição.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/carloslauriano/glomail/protocol"
)

// ErrNotLoggedIn é retornado por SendEmail antes de um login bem-sucedido
var ErrNotLoggedIn = errors.New("cliente não autenticado")

// ServerError é uma resposta ERROR do servidor
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return e.Message
}

// Client mantém uma conexão com o servidor e o usuário autenticado nela
type Client struct {
	conn   *protocol.Conn
	domain string

	// Serializa as trocas: o protocolo não admite pipelining
	mu       sync.Mutex
	username string

	// Now fornece a data de envio dos emails
	Now func() time.Time
}

// Dial conecta ao servidor em addr. domain é o domínio local usado para
// montar o endereço do remetente.
func Dial(ctx context.Context, addr, domain string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("falha ao conectar a %s: %w", addr, err)
	}

	return NewClient(conn, domain), nil
}

// NewClient cria um cliente sobre uma conexão já estabelecida
func NewClient(conn net.Conn, domain string) *Client {
	return &Client{
		conn:   protocol.NewConn(conn, protocol.DefaultMaxFrameBytes),
		domain: domain,
		Now:    time.Now,
	}
}

// Username retorna o usuário autenticado, ou "" se não houver
func (c *Client) Username() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.username
}

// roundTrip envia req e aguarda a resposta. Com payload não nil, o
// payload da resposta OK é decodificado nele.
func (c *Client) roundTrip(req protocol.Message, payload any) error {
	if err := c.conn.SendMessage(req); err != nil {
		return err
	}

	reply, err := c.conn.ReceiveMessage()
	if err != nil {
		return err
	}

	switch r := reply.(type) {
	case protocol.OK:
		if payload == nil {
			return nil
		}
		if err := r.DecodePayload(payload); err != nil {
			return fmt.Errorf("%w: %v", protocol.ErrMalformed, err)
		}
		return nil
	case protocol.Error:
		return &ServerError{Message: r.ErrorMessage}
	default:
		return fmt.Errorf("%w: resposta inesperada %s", protocol.ErrMalformed, reply.Header())
	}
}

// Register cria uma conta; em caso de sucesso o cliente fica autenticado
func (c *Client) Register(username, password string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	req := protocol.AuthRegister{AuthPayload: protocol.AuthPayload{Username: username, Password: password}}
	if err := c.roundTrip(req, nil); err != nil {
		return err
	}

	c.username = username
	return nil
}

// Login autentica o cliente
func (c *Client) Login(username, password string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	req := protocol.AuthLogin{AuthPayload: protocol.AuthPayload{Username: username, Password: password}}
	if err := c.roundTrip(req, nil); err != nil {
		return err
	}

	c.username = username
	return nil
}

// Logout remove a autenticação
func (c *Client) Logout() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.roundTrip(protocol.AuthLogout{}, nil); err != nil {
		return err
	}

	c.username = ""
	return nil
}

// ListInbox retorna as linhas de assunto, do email mais recente ao mais antigo
func (c *Client) ListInbox() ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var list protocol.EmailList
	if err := c.roundTrip(protocol.InboxReadingRequest{}, &list); err != nil {
		return nil, err
	}

	return list.EmailList, nil
}

// ReadEmail retorna o email de número choice da última listagem
func (c *Client) ReadEmail(choice int) (protocol.EmailContent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var email protocol.EmailContent
	if err := c.roundTrip(protocol.InboxReadingChoice{Choice: choice}, &email); err != nil {
		return protocol.EmailContent{}, err
	}

	return email, nil
}

// SendEmail envia um email a partir do usuário autenticado
func (c *Client) SendEmail(destination, subject, content string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.username == "" {
		return ErrNotLoggedIn
	}

	req := protocol.EmailSending{EmailContent: protocol.EmailContent{
		Sender:      protocol.LocalAddress(c.username, c.domain),
		Destination: destination,
		Subject:     subject,
		Content:     content,
		Date:        protocol.FormatDate(c.Now()),
	}}

	return c.roundTrip(req, nil)
}

// Stats retorna o número de emails e o espaço ocupado pela conta
func (c *Client) Stats() (protocol.Stats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var stats protocol.Stats
	if err := c.roundTrip(protocol.StatsRequest{}, &stats); err != nil {
		return protocol.Stats{}, err
	}

	return stats, nil
}

// Bye avisa o servidor e fecha a conexão
func (c *Client) Bye() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.conn.SendMessage(protocol.Bye{})
	if cerr := c.conn.Close(); err == nil {
		err = cerr
	}

	c.username = ""
	return err
}

// Close fecha a conexão sem avisar o servidor
func (c *Client) Close() error {
	return c.conn.Close()
}
