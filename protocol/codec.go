package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformed é retornado quando um quadro não contém uma mensagem válida
var ErrMalformed = errors.New("mensagem malformada")

type envelope struct {
	Header  Header          `json:"header"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode serializa uma mensagem no formato de fio
func Encode(m Message) ([]byte, error) {
	env := envelope{Header: m.Header()}

	var payload any
	switch msg := m.(type) {
	case AuthRegister:
		payload = msg.AuthPayload
	case AuthLogin:
		payload = msg.AuthPayload
	case InboxReadingChoice:
		payload = msg
	case EmailSending:
		payload = msg.EmailContent
	case Error:
		payload = msg
	case OK:
		env.Payload = msg.Payload
	case AuthLogout, Bye, InboxReadingRequest, StatsRequest:
	default:
		return nil, fmt.Errorf("tipo de mensagem desconhecido: %T", m)
	}

	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("falha ao codificar payload %s: %w", env.Header, err)
		}
		env.Payload = raw
	}

	return json.Marshal(env)
}

// Decode desserializa um quadro recebido em uma das mensagens do protocolo
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch env.Header {
	case HeaderAuthRegister:
		var p AuthPayload
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		return AuthRegister{p}, nil
	case HeaderAuthLogin:
		var p AuthPayload
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		return AuthLogin{p}, nil
	case HeaderAuthLogout:
		return AuthLogout{}, nil
	case HeaderBye:
		return Bye{}, nil
	case HeaderInboxReadingRequest:
		return InboxReadingRequest{}, nil
	case HeaderInboxReadingChoice:
		var p InboxReadingChoice
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		return p, nil
	case HeaderEmailSending:
		var p EmailContent
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		return EmailSending{p}, nil
	case HeaderStatsRequest:
		return StatsRequest{}, nil
	case HeaderOK:
		return OK{Payload: env.Payload}, nil
	case HeaderError:
		var p Error
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: cabeçalho desconhecido %q", ErrMalformed, env.Header)
	}
}

func decodePayload(env envelope, v any) error {
	if len(env.Payload) == 0 || string(env.Payload) == "null" {
		return fmt.Errorf("%w: %s sem payload", ErrMalformed, env.Header)
	}

	if err := json.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("%w: payload de %s: %v", ErrMalformed, env.Header, err)
	}

	return nil
}
