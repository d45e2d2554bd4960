package server

import (
	"time"

	"github.com/carloslauriano/glomail/protocol"
	"github.com/carloslauriano/glomail/session"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

type loggingService struct {
	logger  log.Logger
	table   *session.Table
	service Service
}

// NewLoggingService envolve o serviço com um middleware que registra
// cada operação, seu resultado e sua duração
func NewLoggingService(s Service, table *session.Table, logger log.Logger) Service {
	return &loggingService{logger, table, s}
}

// log registra o resultado de uma operação: falhas em info,
// sucessos em debug.
func (s *loggingService) log(method string, id session.ID, begin time.Time, reply protocol.Message, kv ...interface{}) {
	username, _ := s.table.Lookup(id)

	logger := log.With(s.logger,
		"method", method,
		"conn", uint64(id),
		"user", username,
		"took", time.Since(begin),
	)

	if e, failed := reply.(protocol.Error); failed {
		level.Info(logger).Log(append([]interface{}{"msg", "operation failed", "reason", e.ErrorMessage}, kv...)...)
		return
	}

	level.Debug(logger).Log(append([]interface{}{"msg", "operation succeeded"}, kv...)...)
}

func (s *loggingService) Register(id session.ID, req protocol.AuthRegister) protocol.Message {
	begin := time.Now()
	reply := s.service.Register(id, req)
	s.log("AUTH_REGISTER", id, begin, reply, "username", req.Username)
	return reply
}

func (s *loggingService) Login(id session.ID, req protocol.AuthLogin) protocol.Message {
	begin := time.Now()
	reply := s.service.Login(id, req)
	s.log("AUTH_LOGIN", id, begin, reply, "username", req.Username)
	return reply
}

func (s *loggingService) Logout(id session.ID) protocol.Message {
	begin := time.Now()
	reply := s.service.Logout(id)
	s.log("AUTH_LOGOUT", id, begin, reply)
	return reply
}

func (s *loggingService) ListInbox(id session.ID) protocol.Message {
	begin := time.Now()
	reply := s.service.ListInbox(id)
	s.log("INBOX_READING_REQUEST", id, begin, reply)
	return reply
}

func (s *loggingService) ReadEmail(id session.ID, req protocol.InboxReadingChoice) protocol.Message {
	begin := time.Now()
	reply := s.service.ReadEmail(id, req)
	s.log("INBOX_READING_CHOICE", id, begin, reply, "choice", req.Choice)
	return reply
}

func (s *loggingService) SendEmail(id session.ID, req protocol.EmailSending) protocol.Message {
	begin := time.Now()
	reply := s.service.SendEmail(id, req)
	s.log("EMAIL_SENDING", id, begin, reply, "destination", req.Destination)
	return reply
}

func (s *loggingService) Stats(id session.ID) protocol.Message {
	begin := time.Now()
	reply := s.service.Stats(id)
	s.log("STATS_REQUEST", id, begin, reply)
	return reply
}
