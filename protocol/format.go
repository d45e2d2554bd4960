package protocol

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout é o formato canônico das datas: UTC e largura fixa,
// portanto a ordem lexical coincide com a ordem cronológica.
const DateLayout = "2006-01-02T15:04:05.000000000Z"

// FormatDate formata t no formato canônico
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// ParseDate interpreta uma data no formato canônico
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}

// SubjectDisplay formata uma entrada da lista da caixa de entrada
func SubjectDisplay(number int, sender, subject, date string) string {
	return fmt.Sprintf("#%d %s - IN: %s %s", number, subject, sender, date)
}

// EmailDisplay formata um email completo
func EmailDisplay(e EmailContent) string {
	return fmt.Sprintf("De : %s\nPara : %s\nAssunto : %s\nData : %s\n----------------------------------------\n%s",
		e.Sender, e.Destination, e.Subject, e.Date, e.Content)
}

// StatsDisplay formata as estatísticas de uma caixa de correio
func StatsDisplay(s Stats) string {
	return fmt.Sprintf("Número de mensagens : %d\nTamanho da pasta : %d bytes", s.Count, s.Size)
}

// LocalAddress monta o endereço local de um usuário
func LocalAddress(username, domain string) string {
	return strings.ToLower(username) + "@" + domain
}

// SplitAddress separa um endereço em parte local e domínio
func SplitAddress(addr string) (local, domain string, ok bool) {
	addr = strings.TrimSpace(addr)
	i := strings.LastIndex(addr, "@")
	if i <= 0 || i == len(addr)-1 {
		return "", "", false
	}

	return addr[:i], addr[i+1:], true
}
