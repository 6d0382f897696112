// Package app turns configuration into a ready-to-run exporter with its AWS,
// Kafka and Postgres collaborators.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/viper"

	"github.com/arnaduga/notif-hello-asso/internal/config"
	"github.com/arnaduga/notif-hello-asso/internal/export"
	"github.com/arnaduga/notif-hello-asso/internal/export/csvenc"
	"github.com/arnaduga/notif-hello-asso/pkg/helloasso"
	"github.com/arnaduga/notif-hello-asso/pkg/kafka"
	"github.com/arnaduga/notif-hello-asso/pkg/logging"
	"github.com/arnaduga/notif-hello-asso/pkg/metrics"
	"github.com/arnaduga/notif-hello-asso/pkg/notify"
	"github.com/arnaduga/notif-hello-asso/pkg/outbox"
	"github.com/arnaduga/notif-hello-asso/pkg/params"
	"github.com/arnaduga/notif-hello-asso/pkg/runlog"
	"github.com/arnaduga/notif-hello-asso/pkg/storage"
)

type Options struct {
	Service string
	Metrics *metrics.RunMetrics
	// HTTPClient is used for HelloAsso calls; nil means a default client.
	HTTPClient *http.Client
}

// Runtime holds everything a binary needs to run exports.
type Runtime struct {
	Config   config.Config
	Exporter *export.Exporter
	// Channels maps a channel name to its direct notifier, bypassing the
	// outbox. Nil when no channel is configured.
	Channels map[string]notify.Notifier
	// Runs and Outbox are nil without DATABASE_URL.
	Runs   *runlog.Store
	Outbox *outbox.Store

	closers []func()
}

// notifier fans out to every channel, each behind its own outbox row when a
// database is configured.
func (r *Runtime) notifier(service string) notify.Notifier {
	var fan notify.Fanout
	for _, name := range []string{notify.ChannelSNS, notify.ChannelKafka} {
		n, ok := r.Channels[name]
		if !ok {
			continue
		}
		if r.Outbox != nil {
			n = notify.WithOutbox(name, n, r.Outbox, service)
		}
		fan = append(fan, n)
	}
	if len(fan) == 0 {
		return nil
	}
	return fan
}

func (r *Runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// Build loads the configuration and connects every configured collaborator.
// A *config.Error means nothing was contacted.
func Build(ctx context.Context, v *viper.Viper, opts Options) (*Runtime, error) {
	awsLoader := &lazyAWS{}

	var resolver params.Resolver
	if config.UsesParameterStore(v) {
		awsCfg, err := awsLoader.load(ctx)
		if err != nil {
			return nil, err
		}
		resolver = params.NewSSM(ssm.NewFromConfig(awsCfg))
	}
	cfg, err := config.Load(ctx, v, resolver)
	if err != nil {
		return nil, err
	}

	rt := &Runtime{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			rt.Close()
		}
	}()

	client, err := helloasso.NewClient(helloasso.ClientConfig{
		APIURL:        cfg.APIURL,
		TokenURL:      cfg.TokenURL,
		ClientID:      cfg.ClientID,
		ClientSecret:  cfg.ClientSecret,
		HTTPClient:    opts.HTTPClient,
		TokenTimeout:  cfg.TokenTimeout,
		PageTimeout:   cfg.PageTimeout,
		PageSize:      cfg.PageSize,
		MaxPages:      cfg.MaxPages,
		RatePerSecond: cfg.PageRate,
		Service:       opts.Service,
	})
	if err != nil {
		return nil, err
	}

	var store export.ObjectStore
	if cfg.OutputDir != "" {
		dir, err := storage.NewDir(cfg.OutputDir)
		if err != nil {
			return nil, err
		}
		store = dir
	} else {
		awsCfg, err := awsLoader.load(ctx)
		if err != nil {
			return nil, err
		}
		store = storage.NewS3(s3.NewFromConfig(awsCfg), cfg.Bucket)
	}

	channels := map[string]notify.Notifier{}
	if cfg.SNSTopicARN != "" {
		awsCfg, err := awsLoader.load(ctx)
		if err != nil {
			return nil, err
		}
		channels[notify.ChannelSNS] = notify.NewSNS(sns.NewFromConfig(awsCfg), cfg.SNSTopicARN, opts.Service)
	}
	if kc := kafka.NewClient(cfg.KafkaBrokers); kc.Enabled() {
		w := kc.NewWriter(cfg.KafkaTopic)
		rt.closers = append(rt.closers, func() { _ = w.Close() })
		channels[notify.ChannelKafka] = notify.NewKafka(w, cfg.Environment, opts.Service)
	}
	if len(channels) > 0 {
		rt.Channels = channels
	}

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		rt.closers = append(rt.closers, pool.Close)
		rt.Runs = runlog.NewStore(pool)
		rt.Outbox = outbox.NewStore(pool)
		if err := rt.Runs.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("run log schema: %w", err)
		}
		if err := rt.Outbox.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("outbox schema: %w", err)
		}
	}

	deps := export.Deps{
		Tokens:  client,
		Pages:   client,
		Store:   store,
		Metrics: opts.Metrics,
	}
	if n := rt.notifier(opts.Service); n != nil {
		deps.Notifier = n
	}
	if rt.Runs != nil {
		deps.Recorder = rt.Runs
	}
	rt.Exporter = export.New(deps, export.Options{
		Environment:            cfg.Environment,
		PresignTTL:             cfg.PresignTTL,
		SuccessSubjectTemplate: cfg.SuccessSubjectTemplate,
		ErrorSubjectTemplate:   cfg.ErrorSubjectTemplate,
		Encoder:                csvenc.Encoder{Delimiter: cfg.CSVDelimiter, QuoteAll: cfg.CSVQuoteAll},
		PageSize:               client.PageSize(),
		Service:                opts.Service,
	})

	logging.Log(logging.Fields{Service: opts.Service, Step: "startup", Status: "configured",
		Message: describe(cfg)})
	ok = true
	return rt, nil
}

// FailureResult reports a Build error the way a run reports its own failures.
func FailureResult(err error) export.Result {
	if export.Classify(err) == export.KindConfig {
		return export.ConfigFailure(err)
	}
	return export.Result{
		StatusCode: http.StatusInternalServerError,
		Status:     export.StatusRuntimeError,
		Message:    "Internal Server Error",
		ErrorKind:  export.Classify(err),
		Error:      err.Error(),
	}
}

// Failed records a run that never started in the metrics.
func Failed(m *metrics.RunMetrics, res export.Result) {
	m.ObserveRun(string(res.Status), 0, time.Now())
}

type lazyAWS struct {
	cfg    aws.Config
	loaded bool
}

func (l *lazyAWS) load(ctx context.Context) (aws.Config, error) {
	if l.loaded {
		return l.cfg, nil
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	l.cfg, l.loaded = cfg, true
	return cfg, nil
}

func describe(cfg config.Config) string {
	sink := "s3://" + cfg.Bucket
	if cfg.OutputDir != "" {
		sink = "dir:" + cfg.OutputDir
	}
	return fmt.Sprintf("env=%s sink=%s sns=%t kafka=%t database=%t page_size=%d",
		cfg.Environment, sink, cfg.SNSTopicARN != "", cfg.KafkaBrokers != "", cfg.DatabaseURL != "", cfg.PageSize)
}
