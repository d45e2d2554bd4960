// Package protocol define as mensagens trocadas entre cliente e servidor,
// sua codificação JSON e o transporte delimitado por linhas.
package protocol

import "encoding/json"

// Header identifica o tipo de uma mensagem
type Header string

// Cabeçalhos suportados
const (
	HeaderOK                  Header = "OK"
	HeaderError               Header = "ERROR"
	HeaderAuthRegister        Header = "AUTH_REGISTER"
	HeaderAuthLogin           Header = "AUTH_LOGIN"
	HeaderAuthLogout          Header = "AUTH_LOGOUT"
	HeaderBye                 Header = "BYE"
	HeaderInboxReadingRequest Header = "INBOX_READING_REQUEST"
	HeaderInboxReadingChoice  Header = "INBOX_READING_CHOICE"
	HeaderEmailSending        Header = "EMAIL_SENDING"
	HeaderStatsRequest        Header = "STATS_REQUEST"
)

// Message é o conjunto fechado de mensagens do protocolo.
// Somente os tipos deste pacote a implementam.
type Message interface {
	Header() Header
	message()
}

// AuthPayload contém as credenciais de registro e login
type AuthPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// EmailContent é o conteúdo completo de um email
type EmailContent struct {
	Sender      string `json:"sender"`
	Destination string `json:"destination"`
	Subject     string `json:"subject"`
	Content     string `json:"content"`
	Date        string `json:"date"`
}

// EmailList é a lista de entradas formatadas da caixa de entrada
type EmailList struct {
	EmailList []string `json:"email_list"`
}

// Stats contém as estatísticas de uso de uma caixa de correio
type Stats struct {
	Count int   `json:"count"`
	Size  int64 `json:"size"`
}

// AuthRegister pede a criação de uma conta
type AuthRegister struct {
	AuthPayload
}

// AuthLogin pede a autenticação de uma conta existente
type AuthLogin struct {
	AuthPayload
}

// AuthLogout encerra a autenticação da sessão
type AuthLogout struct{}

// Bye encerra a conexão
type Bye struct{}

// InboxReadingRequest pede a lista da caixa de entrada
type InboxReadingRequest struct{}

// InboxReadingChoice pede o email de posição Choice (a partir de 1)
type InboxReadingChoice struct {
	Choice int `json:"choice"`
}

// EmailSending pede o envio de um email
type EmailSending struct {
	EmailContent
}

// StatsRequest pede as estatísticas da caixa de correio
type StatsRequest struct{}

// OK é a resposta de sucesso, com um payload opcional
type OK struct {
	Payload json.RawMessage
}

// Error é a resposta de falha
type Error struct {
	ErrorMessage string `json:"error_message"`
}

func (AuthRegister) Header() Header        { return HeaderAuthRegister }
func (AuthLogin) Header() Header           { return HeaderAuthLogin }
func (AuthLogout) Header() Header          { return HeaderAuthLogout }
func (Bye) Header() Header                 { return HeaderBye }
func (InboxReadingRequest) Header() Header { return HeaderInboxReadingRequest }
func (InboxReadingChoice) Header() Header  { return HeaderInboxReadingChoice }
func (EmailSending) Header() Header        { return HeaderEmailSending }
func (StatsRequest) Header() Header        { return HeaderStatsRequest }
func (OK) Header() Header                  { return HeaderOK }
func (Error) Header() Header               { return HeaderError }

func (AuthRegister) message()        {}
func (AuthLogin) message()           {}
func (AuthLogout) message()          {}
func (Bye) message()                 {}
func (InboxReadingRequest) message() {}
func (InboxReadingChoice) message()  {}
func (EmailSending) message()        {}
func (StatsRequest) message()        {}
func (OK) message()                  {}
func (Error) message()               {}

// NewOK cria uma resposta OK carregando payload (nil para nenhum)
func NewOK(payload any) (OK, error) {
	if payload == nil {
		return OK{}, nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return OK{}, err
	}

	return OK{Payload: raw}, nil
}

// NewError cria uma resposta de erro
func NewError(text string) Error {
	return Error{ErrorMessage: text}
}

// DecodePayload preenche v com o payload da resposta.
// Uma resposta sem payload deixa v inalterado.
func (m OK) DecodePayload(v any) error {
	if len(m.Payload) == 0 || string(m.Payload) == "null" {
		return nil
	}

	return json.Unmarshal(m.Payload, v)
}
