package server

import (
	"time"

	"github.com/carloslauriano/glomail/protocol"
	"github.com/carloslauriano/glomail/session"
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	kitprometheus "github.com/go-kit/kit/metrics/prometheus"
	prom "github.com/prometheus/client_golang/prometheus"
)

// Metrics agrupa os instrumentos exportados pelo servidor
type Metrics struct {
	Requests      metrics.Counter
	Duration      metrics.Histogram
	Connections   metrics.Gauge
	Registrations metrics.Counter
	Logins        metrics.Counter
	Deliveries    metrics.Counter

	requestsVec *prom.CounterVec
}

// NewDiscardMetrics retorna instrumentos que descartam as medidas
func NewDiscardMetrics() *Metrics {
	return &Metrics{
		Requests:      discard.NewCounter(),
		Duration:      discard.NewHistogram(),
		Connections:   discard.NewGauge(),
		Registrations: discard.NewCounter(),
		Logins:        discard.NewCounter(),
		Deliveries:    discard.NewCounter(),
	}
}

// NewMetrics cria os instrumentos Prometheus e os registra em reg
func NewMetrics(reg prom.Registerer) *Metrics {
	requests := prom.NewCounterVec(prom.CounterOpts{
		Namespace: "glomail",
		Name:      "requests_total",
		Help:      "Number of protocol requests by method and outcome",
	}, []string{"method", "outcome"})
	duration := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: "glomail",
		Name:      "request_duration_seconds",
		Help:      "Time spent serving protocol requests",
		Buckets:   prom.DefBuckets,
	}, []string{"method"})
	connections := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "glomail",
		Name:      "connections",
		Help:      "Number of open client connections",
	}, nil)
	registrations := prom.NewCounterVec(prom.CounterOpts{
		Namespace: "glomail",
		Name:      "registrations_total",
		Help:      "Number of accounts created",
	}, nil)
	logins := prom.NewCounterVec(prom.CounterOpts{
		Namespace: "glomail",
		Name:      "logins_total",
		Help:      "Number of successful logins",
	}, nil)
	deliveries := prom.NewCounterVec(prom.CounterOpts{
		Namespace: "glomail",
		Name:      "deliveries_total",
		Help:      "Number of emails delivered to local mailboxes, by source",
	}, []string{"source"})

	reg.MustRegister(requests, duration, connections, registrations, logins, deliveries)

	return &Metrics{
		Requests:      kitprometheus.NewCounter(requests),
		Duration:      kitprometheus.NewHistogram(duration),
		Connections:   kitprometheus.NewGauge(connections),
		Registrations: kitprometheus.NewCounter(registrations),
		Logins:        kitprometheus.NewCounter(logins),
		Deliveries:    kitprometheus.NewCounter(deliveries),
		requestsVec:   requests,
	}
}

type metricsService struct {
	service Service
	metrics *Metrics
}

// NewMetricsService conta as requisições, seus resultados e durações
func NewMetricsService(s Service, m *Metrics) Service {
	return &metricsService{
		service: s,
		metrics: m,
	}
}

func (s *metricsService) observe(method string, begin time.Time, reply protocol.Message) bool {
	outcome := "ok"
	if _, failed := reply.(protocol.Error); failed {
		outcome = "error"
	}

	s.metrics.Requests.With("method", method, "outcome", outcome).Add(1)
	s.metrics.Duration.With("method", method).Observe(time.Since(begin).Seconds())

	return outcome == "ok"
}

func (s *metricsService) Register(id session.ID, req protocol.AuthRegister) protocol.Message {
	begin := time.Now()
	reply := s.service.Register(id, req)
	if s.observe("AUTH_REGISTER", begin, reply) {
		s.metrics.Registrations.Add(1)
	}
	return reply
}

func (s *metricsService) Login(id session.ID, req protocol.AuthLogin) protocol.Message {
	begin := time.Now()
	reply := s.service.Login(id, req)
	if s.observe("AUTH_LOGIN", begin, reply) {
		s.metrics.Logins.Add(1)
	}
	return reply
}

func (s *metricsService) Logout(id session.ID) protocol.Message {
	begin := time.Now()
	reply := s.service.Logout(id)
	s.observe("AUTH_LOGOUT", begin, reply)
	return reply
}

func (s *metricsService) ListInbox(id session.ID) protocol.Message {
	begin := time.Now()
	reply := s.service.ListInbox(id)
	s.observe("INBOX_READING_REQUEST", begin, reply)
	return reply
}

func (s *metricsService) ReadEmail(id session.ID, req protocol.InboxReadingChoice) protocol.Message {
	begin := time.Now()
	reply := s.service.ReadEmail(id, req)
	s.observe("INBOX_READING_CHOICE", begin, reply)
	return reply
}

func (s *metricsService) SendEmail(id session.ID, req protocol.EmailSending) protocol.Message {
	begin := time.Now()
	reply := s.service.SendEmail(id, req)
	if s.observe("EMAIL_SENDING", begin, reply) {
		s.metrics.Deliveries.With("source", "glo").Add(1)
	}
	return reply
}

func (s *metricsService) Stats(id session.ID) protocol.Message {
	begin := time.Now()
	reply := s.service.Stats(id)
	s.observe("STATS_REQUEST", begin, reply)
	return reply
}
