package server

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/carloslauriano/glomail/storage"
	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/backend"
	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newIMAPInbox(t *testing.T) (*testEnv, backend.Mailbox) {
	t.Helper()

	env := newTestEnv(t)
	require.NoError(t, env.store.CreateAccount("bob", testPassword))

	base := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	for i, subject := range []string{"oldest", "middle", "newest"} {
		require.NoError(t, env.store.AppendEmail("bob", &storage.Email{
			Sender:      "alice@" + testDomain,
			Destination: "bob@" + testDomain,
			Subject:     subject,
			Content:     "line one\nline two",
			Date:        base.Add(time.Duration(i) * time.Hour),
		}))
	}

	be := NewIMAPBackend(env.store, testDomain, log.NewNopLogger())
	user, err := be.Login(nil, "Bob", testPassword)
	require.NoError(t, err)
	assert.Equal(t, "bob", user.Username())

	mbox, err := user.GetMailbox("inbox")
	require.NoError(t, err)

	return env, mbox
}

func collect(t *testing.T, mbox backend.Mailbox, seqSet *imap.SeqSet, items []imap.FetchItem) []*imap.Message {
	t.Helper()

	ch := make(chan *imap.Message, 10)
	require.NoError(t, mbox.ListMessages(false, seqSet, items, ch))

	var msgs []*imap.Message
	for msg := range ch {
		msgs = append(msgs, msg)
	}
	return msgs
}

func TestIMAPLogin(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.CreateAccount("bob", testPassword))
	be := NewIMAPBackend(env.store, testDomain, log.NewNopLogger())

	_, err := be.Login(nil, "bob", "Wr0ngPassword")
	assert.ErrorIs(t, err, backend.ErrInvalidCredentials)

	_, err = be.Login(nil, "ghost", testPassword)
	assert.ErrorIs(t, err, backend.ErrInvalidCredentials)

	user, err := be.Login(nil, "bob", testPassword)
	require.NoError(t, err)

	_, err = user.GetMailbox("Sent")
	assert.ErrorIs(t, err, backend.ErrNoSuchMailbox)

	mailboxes, err := user.ListMailboxes(false)
	require.NoError(t, err)
	require.Len(t, mailboxes, 1)
	assert.Equal(t, "INBOX", mailboxes[0].Name())

	assert.ErrorIs(t, user.CreateMailbox("Archive"), ErrReadOnly)
}

func TestIMAPStatus(t *testing.T) {
	_, mbox := newIMAPInbox(t)

	status, err := mbox.Status([]imap.StatusItem{imap.StatusMessages, imap.StatusUidNext, imap.StatusUidValidity})
	require.NoError(t, err)
	assert.Equal(t, uint32(3), status.Messages)
	assert.Equal(t, uint32(4), status.UidNext)
	assert.Equal(t, uint32(1), status.UidValidity)
	assert.True(t, status.ReadOnly)
}

func TestIMAPFetch(t *testing.T) {
	_, mbox := newIMAPInbox(t)

	seqSet := new(imap.SeqSet)
	seqSet.AddRange(1, 3)

	section, err := imap.ParseBodySectionName("BODY[]")
	require.NoError(t, err)

	msgs := collect(t, mbox, seqSet, []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, imap.FetchRFC822Size, section.FetchItem()})
	require.Len(t, msgs, 3)

	// Ordem crescente: o mais antigo é a mensagem 1
	assert.Equal(t, "oldest", msgs[0].Envelope.Subject)
	assert.Equal(t, "newest", msgs[2].Envelope.Subject)
	assert.Equal(t, uint32(3), msgs[2].Uid)
	require.Len(t, msgs[0].Envelope.From, 1)
	assert.Equal(t, "alice", msgs[0].Envelope.From[0].MailboxName)
	assert.Equal(t, testDomain, msgs[0].Envelope.From[0].HostName)

	body := msgs[0].GetBody(section)
	require.NotNil(t, body)
	raw, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(raw), "line one\r\nline two"))
	assert.Equal(t, uint32(len(raw)), msgs[0].Size)
}

func TestIMAPSearch(t *testing.T) {
	_, mbox := newIMAPInbox(t)

	criteria := imap.NewSearchCriteria()
	criteria.Header.Add("Subject", "middle")

	ids, err := mbox.SearchMessages(false, criteria)
	require.NoError(t, err)
	assert.Equal(t, []uint32{2}, ids)
}

func TestIMAPReadOnly(t *testing.T) {
	_, mbox := newIMAPInbox(t)

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(1)

	assert.ErrorIs(t, mbox.CreateMessage(nil, time.Now(), nil), ErrReadOnly)
	assert.ErrorIs(t, mbox.UpdateMessagesFlags(false, seqSet, imap.AddFlags, []string{imap.SeenFlag}), ErrReadOnly)
	assert.ErrorIs(t, mbox.CopyMessages(false, seqSet, "INBOX"), ErrReadOnly)
	assert.ErrorIs(t, mbox.Expunge(), ErrReadOnly)
}
