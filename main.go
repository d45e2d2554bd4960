package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/carloslauriano/glomail/config"
	"github.com/carloslauriano/glomail/server"
	"github.com/carloslauriano/glomail/session"
	"github.com/carloslauriano/glomail/storage"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	flag "github.com/spf13/pflag"
)

// initLogger cria o logger JSON filtrado pelo nível configurado
func initLogger(loglevel string) log.Logger {
	logger := log.NewJSONLogger(log.NewSyncWriter(os.Stdout))
	logger = log.With(logger,
		"ts", log.DefaultTimestampUTC,
		"caller", log.DefaultCaller,
	)

	switch strings.ToLower(loglevel) {
	case "debug":
		logger = level.NewFilter(logger, level.AllowDebug())
	case "warn":
		logger = level.NewFilter(logger, level.AllowWarn())
	case "error":
		logger = level.NewFilter(logger, level.AllowError())
	default:
		logger = level.NewFilter(logger, level.AllowInfo())
	}

	return logger
}

func main() {
	configPath := flag.StringP("config", "c", "config.yaml", "caminho do arquivo de configuração YAML")
	logLevel := flag.String("log-level", "", "nível de log: debug, info, warn ou error")
	flag.Parse()

	// Variáveis de .env são opcionais
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Erro ao carregar .env: %v\n", err)
		os.Exit(1)
	}

	// Carregar configuração
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Erro ao carregar configuração: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	logger := initLogger(cfg.Log.Level)

	if err := run(cfg, logger); err != nil {
		level.Error(logger).Log("msg", "server failed", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger log.Logger) error {
	// Inicializar armazenamento
	store, err := storage.NewStorage(cfg, log.With(logger, "component", "storage"))
	if err != nil {
		return err
	}
	if err := store.Open(); err != nil {
		return err
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := server.NewMetrics(reg)

	table := session.NewTable()
	router := server.NewRouter(store, cfg.Server.Domain)

	var svc server.Service
	svc = server.NewService(logger, store, table, router)
	svc = server.NewLoggingService(svc, table, log.With(logger, "component", "service"))
	svc = server.NewMetricsService(svc, metrics)

	glo := server.NewServer(log.With(logger, "proto", "glo"), svc, table, cfg.Server.MaxFrameBytes, metrics)

	// Iniciar servidores em goroutines separadas
	errs := make(chan error, 4)
	var shutdowns []func()

	go func() {
		if err := glo.ListenAndServe(cfg.Server.Addr()); err != nil && !errors.Is(err, server.ErrServerClosed) {
			errs <- err
		}
	}()
	shutdowns = append(shutdowns, func() { glo.Shutdown() })

	if cfg.SMTP.Enabled {
		s := server.NewSMTPServer(cfg, router, logger, metrics)
		go func() {
			if err := server.StartSMTPServer(s, logger); err != nil {
				errs <- err
			}
		}()
		shutdowns = append(shutdowns, func() { s.Close() })
	}

	if cfg.IMAP.Enabled {
		s := server.NewIMAPServer(cfg, store, logger)
		closed := make(chan struct{})
		go func() {
			err := server.StartIMAPServer(s, logger)
			select {
			case <-closed:
			default:
				if err != nil {
					errs <- err
				}
			}
		}()
		shutdowns = append(shutdowns, func() {
			close(closed)
			s.Close()
		})
	}

	if cfg.Metrics.Address != "" {
		s := server.NewHTTPServer(cfg.Metrics.Address, server.NewHTTPHandler(reg, table, logger), logger)
		go func() {
			if err := s.ListenAndServe(); err != nil {
				errs <- err
			}
		}()
		shutdowns = append(shutdowns, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			s.Shutdown(ctx)
		})
	}

	// Aguardar sinais de interrupção
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err = <-errs:
	case sig := <-sigChan:
		level.Info(logger).Log("msg", "shutting down", "signal", sig.String())
	}

	for i := len(shutdowns) - 1; i >= 0; i-- {
		shutdowns[i]()
	}

	return err
}
