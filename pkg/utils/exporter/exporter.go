// Copyright 2024 The cutout.io Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package exporter serves the prometheus metrics and the health check of a
// process.
package exporter

import (
	"context"
	"net"
	"net/http"
	"time"

	"cutout.io/cutout/pkg/log"
	"cutout.io/cutout/pkg/utils"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

const (
	MetricPath  = "/metrics"
	HealthPath  = "/healthz"
	MaxRequests = 40
)

type Options struct {
	Listen string `json:"listen,omitempty" description:"listen address"`
}

func NewDefaultOptions() *Options {
	return &Options{
		Listen: ":9100",
	}
}

func (o *Options) RegistFlags(prefix string, fs *pflag.FlagSet) {
	fs.StringVar(&o.Listen, utils.JoinFlagName(prefix, "listen"), o.Listen, "listen address")
}

type HealthCheck func(ctx context.Context) error

type Handler struct {
	registry *prometheus.Registry
	checks   map[string]HealthCheck
	router   *mux.Router
}

// NewHandler creates a handler exporting the process and go runtime metrics
// plus the given collectors.
func NewHandler(cs ...prometheus.Collector) *Handler {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	registry.MustRegister(cs...)

	h := &Handler{registry: registry, checks: map[string]HealthCheck{}, router: mux.NewRouter()}
	h.router.Handle(MetricPath, promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		ErrorLog:            zap.NewStdLog(log.GlobalLogger),
		ErrorHandling:       promhttp.ContinueOnError,
		MaxRequestsInFlight: MaxRequests,
		Registry:            registry,
	})).Methods(http.MethodGet)
	h.router.HandleFunc(HealthPath, h.healthz).Methods(http.MethodGet)
	return h
}

// AddHealthCheck adds a check run on each health request.
func (h *Handler) AddHealthCheck(name string, check HealthCheck) {
	h.checks[name] = check
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			log.Error(err, "health check failed", "check", name)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(name + ": " + err.Error()))
			return
		}
	}
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) Run(ctx context.Context, options *Options) error {
	server := http.Server{
		Addr:    options.Listen,
		Handler: h,
		BaseContext: func(l net.Listener) context.Context {
			return ctx
		},
	}
	log := log.FromContextOrDiscard(ctx)
	go func() {
		<-ctx.Done()
		_ = server.Shutdown(context.Background())
		log.Info("exporter stopped")
	}()
	log.Info("exporter listen", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
