// Copyright (C) 2017 ScyllaDB

package main

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/scylladb/go-log"
	"github.com/scylladb/gocqlx/v2"
	config "github.com/scylladb/ringrepair/pkg/config/server"
	"github.com/scylladb/ringrepair/pkg/metrics"
	"github.com/scylladb/ringrepair/pkg/nodeclient"
	"github.com/scylladb/ringrepair/pkg/service/repair"
)

var currentVersion = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "ringrepair",
	Subsystem: "server",
	Name:      "current_version",
	Help:      "Current server version.",
}, []string{"version"})

func init() {
	prometheus.MustRegister(currentVersion)
	currentVersion.WithLabelValues(version).Set(0)
}

type server struct {
	config  config.Config
	session gocqlx.Session
	logger  log.Logger

	repairSvc *repair.Service

	prometheusServer *http.Server

	errCh chan error
}

func newServer(c config.Config, logger log.Logger) (*server, error) {
	session, err := gocqlx.WrapSession(gocqlClusterConfig(c).CreateSession())
	if err != nil {
		return nil, errors.Wrapf(err, "database")
	}

	s := &server{
		config:  c,
		session: session,
		logger:  logger,
		errCh:   make(chan error, 1),
	}

	if err := s.makeServices(); err != nil {
		s.session.Close()
		return nil, err
	}
	s.makeServers()

	return s, nil
}

func (s *server) makeServices() error {
	store, err := repair.NewCQLStore(s.session)
	if err != nil {
		return errors.Wrapf(err, "repair store")
	}

	s.repairSvc, err = repair.NewService(
		s.config.Repair,
		store,
		repair.NewGuard(),
		nodeclient.NewProvider(s.config.NodeClient, s.logger.Named("client")),
		metrics.NewRepairMetrics().MustRegister(),
		s.logger.Named("repair"),
	)
	if err != nil {
		return errors.Wrapf(err, "repair service")
	}
	return nil
}

func (s *server) makeServers() {
	if s.config.Prometheus != "" {
		s.prometheusServer = &http.Server{
			Addr:    s.config.Prometheus,
			Handler: promhttp.Handler(),
		}
	}
}

func (s *server) startServices(ctx context.Context) error {
	if err := s.repairSvc.Start(ctx); err != nil {
		return errors.Wrapf(err, "repair service")
	}
	return nil
}

func (s *server) startServers(ctx context.Context) {
	if s.prometheusServer != nil {
		s.logger.Info(ctx, "Starting Prometheus server", "address", s.prometheusServer.Addr)
		go func() {
			s.errCh <- errors.Wrap(s.prometheusServer.ListenAndServe(), "prometheus server start")
		}()
	}

	s.logger.Info(ctx, "Service started")
}

func (s *server) shutdownServers(ctx context.Context, timeout time.Duration) {
	if s.prometheusServer == nil {
		return
	}

	s.logger.Info(ctx, "Closing servers", "timeout", timeout)

	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := s.prometheusServer.Shutdown(tctx); err != nil {
		s.logger.Info(ctx, "Closing server failed", "address", s.prometheusServer.Addr, "error", err)
	} else {
		s.logger.Info(ctx, "Closing server done", "address", s.prometheusServer.Addr)
	}
	s.prometheusServer.Close() // nolint: errcheck
}

func (s *server) close() {
	s.repairSvc.Close()
	s.session.Close()
}
