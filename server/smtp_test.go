package server

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rawMessage = "From: Alice Example <alice@example.com>\r\n" +
	"To: bob@glo2000.ca\r\n" +
	"Subject: Quarterly report\r\n" +
	"Date: Sun, 10 Mar 2024 12:00:00 +0000\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Numbers look good.\r\nSee you.\r\n"

const rawMultipart = "From: carol@example.com\r\n" +
	"Subject: With attachment\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=XYZ\r\n" +
	"\r\n" +
	"--XYZ\r\n" +
	"Content-Type: text/plain\r\n" +
	"\r\n" +
	"See attached.\r\n" +
	"--XYZ\r\n" +
	"Content-Type: application/octet-stream\r\n" +
	"Content-Disposition: attachment; filename=a.bin\r\n" +
	"\r\n" +
	"AAAA\r\n" +
	"--XYZ--\r\n"

func newSMTPSession(env *testEnv) *SMTPSession {
	return &SMTPSession{
		backend: NewSMTPBackend(env.router, log.NewNopLogger(), nil),
		logger:  log.NewNopLogger(),
	}
}

func smtpCode(err error) int {
	var se *smtp.SMTPError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}

func TestSMTPDelivery(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.CreateAccount("bob", testPassword))

	s := newSMTPSession(env)
	require.NoError(t, s.Mail("bounce@example.com", &smtp.MailOptions{}))
	require.NoError(t, s.Rcpt("Bob@GLO2000.ca", &smtp.RcptOptions{}))
	require.NoError(t, s.Data(strings.NewReader(rawMessage)))

	emails, err := env.store.ListEmails("bob")
	require.NoError(t, err)
	require.Len(t, emails, 1)

	email := emails[0]
	assert.Equal(t, "alice@example.com", email.Sender)
	assert.Equal(t, "Bob@GLO2000.ca", email.Destination)
	assert.Equal(t, "Quarterly report", email.Subject)
	assert.Equal(t, "Numbers look good.\nSee you.\n", email.Content)
	assert.True(t, email.Date.Equal(time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)))
}

func TestSMTPRejectsRelay(t *testing.T) {
	env := newTestEnv(t)

	s := newSMTPSession(env)
	require.NoError(t, s.Mail("alice@example.com", &smtp.MailOptions{}))
	assert.Equal(t, 550, smtpCode(s.Rcpt("someone@example.org", &smtp.RcptOptions{})))
	assert.Equal(t, 503, smtpCode(s.Data(strings.NewReader(rawMessage))))
}

func TestSMTPUnknownRecipientIsArchived(t *testing.T) {
	env := newTestEnv(t)

	s := newSMTPSession(env)
	require.NoError(t, s.Mail("alice@example.com", &smtp.MailOptions{}))
	require.NoError(t, s.Rcpt("ghost@"+testDomain, &smtp.RcptOptions{}))
	assert.Equal(t, 550, smtpCode(s.Data(strings.NewReader(rawMessage))))

	assert.Equal(t, 1, countFiles(t, filepath.Join(env.root, "@lost")))
}

func TestSMTPReset(t *testing.T) {
	env := newTestEnv(t)

	s := newSMTPSession(env)
	require.NoError(t, s.Mail("alice@example.com", &smtp.MailOptions{}))
	require.NoError(t, s.Rcpt("bob@"+testDomain, &smtp.RcptOptions{}))
	s.Reset()

	assert.Empty(t, s.from)
	assert.Empty(t, s.to)
	assert.NoError(t, s.Logout())
}

func TestParseMessageMultipart(t *testing.T) {
	email, err := parseMessage([]byte(rawMultipart), "envelope@example.com")
	require.NoError(t, err)

	assert.Equal(t, "carol@example.com", email.Sender)
	assert.Equal(t, "With attachment", email.Subject)
	assert.Equal(t, "See attached.", email.Content)
	assert.False(t, email.Date.IsZero(), "sem cabeçalho Date usa o relógio local")
}
