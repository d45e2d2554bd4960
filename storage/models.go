package storage

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/carloslauriano/glomail/protocol"
	"github.com/google/uuid"
)

// Email representa um email armazenado. Imutável depois de gravado.
type Email struct {
	ID          string
	Sender      string
	Destination string
	Subject     string
	Content     string
	Date        time.Time
}

// UsageStats representa o uso de uma caixa de correio
type UsageStats struct {
	Count int
	Size  int64
}

// record é a forma persistida de um email
type record struct {
	Sender      string `json:"sender"`
	Destination string `json:"destination"`
	Subject     string `json:"subject"`
	Content     string `json:"content"`
	Date        string `json:"date"`
}

func encodeEmail(e *Email) ([]byte, error) {
	return json.MarshalIndent(record{
		Sender:      e.Sender,
		Destination: e.Destination,
		Subject:     e.Subject,
		Content:     e.Content,
		Date:        protocol.FormatDate(e.Date),
	}, "", "    ")
}

func decodeEmail(id string, data []byte) (*Email, error) {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("falha ao ler email %s: %w", id, err)
	}

	date, err := protocol.ParseDate(r.Date)
	if err != nil {
		return nil, fmt.Errorf("email %s: %w: %v", id, ErrInvalidDate, err)
	}

	return &Email{
		ID:          id,
		Sender:      r.Sender,
		Destination: r.Destination,
		Subject:     r.Subject,
		Content:     r.Content,
		Date:        date,
	}, nil
}

// ContentPayload converte o email para o formato do protocolo
func (e *Email) ContentPayload() protocol.EmailContent {
	return protocol.EmailContent{
		Sender:      e.Sender,
		Destination: e.Destination,
		Subject:     e.Subject,
		Content:     e.Content,
		Date:        protocol.FormatDate(e.Date),
	}
}

// NewEmailID gera um identificador determinístico no prefixo
// (destinatário e data) e único no sufixo
func NewEmailID(recipient string, date time.Time) string {
	return fmt.Sprintf("%s_%s_%s",
		sanitizeKey(recipient),
		date.UTC().Format("20060102T150405.000000000Z"),
		uuid.NewString(),
	)
}

// SortEmails ordena do mais recente ao mais antigo.
// Empates de data são desfeitos pelo identificador, em ordem decrescente.
func SortEmails(emails []*Email) {
	sort.SliceStable(emails, func(i, j int) bool {
		if !emails[i].Date.Equal(emails[j].Date) {
			return emails[i].Date.After(emails[j].Date)
		}
		return emails[i].ID > emails[j].ID
	})
}

// sanitizeKey restringe uma chave aos caracteres permitidos em nomes de usuário
func sanitizeKey(s string) string {
	s = strings.ToLower(s)

	var b strings.Builder
	for _, r := range s {
		if isUsernameRune(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}

	key := strings.Trim(b.String(), ".")
	if key == "" {
		return "unknown"
	}

	return key
}
