package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/arnaduga/notif-hello-asso/internal/app"
	"github.com/arnaduga/notif-hello-asso/internal/config"
	"github.com/arnaduga/notif-hello-asso/pkg/logging"
	"github.com/arnaduga/notif-hello-asso/pkg/metrics"
)

const service = "export-service"

func main() {
	v, err := config.NewViper(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	runMetrics := metrics.NewRunMetrics(registry)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	rt, err := app.Build(ctx, v, app.Options{Service: service, Metrics: runMetrics})
	cancel()
	if err != nil {
		log.Fatalf("startup error: %v", err)
	}
	defer rt.Close()

	s := &server{
		exporter: rt.Exporter,
		metrics:  metrics.NewServerMetrics(registry, "export_service"),
		gatherer: registry,
	}
	if rt.Runs != nil {
		s.runs = rt.Runs
	}

	srv := &http.Server{Addr: ":" + rt.Config.Port, Handler: s.routes(), ReadHeaderTimeout: 5 * time.Second}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logging.Log(logging.Fields{Service: service, Step: "listen", Status: "ok", Message: ":" + rt.Config.Port})
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}
