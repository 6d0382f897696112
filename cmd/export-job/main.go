package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/arnaduga/notif-hello-asso/internal/app"
	"github.com/arnaduga/notif-hello-asso/internal/config"
	"github.com/arnaduga/notif-hello-asso/internal/export"
	"github.com/arnaduga/notif-hello-asso/pkg/logging"
	"github.com/arnaduga/notif-hello-asso/pkg/metrics"
	"github.com/arnaduga/notif-hello-asso/pkg/notify"
)

const service = "export-job"

// errRunFailed makes the process exit non-zero once the result is printed.
var errRunFailed = errors.New("export run failed")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errRunFailed) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "export-job",
		Short:         "Monthly HelloAsso payments export",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "YAML config file (overrides CONFIG_FILE)")

	root.AddCommand(runCmd())
	root.AddCommand(windowCmd())
	root.AddCommand(resendCmd())
	return root
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Export one period, store the CSV and notify",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			from, _ := cmd.Flags().GetString("from")
			to, _ := cmd.Flags().GetString("to")
			key, _ := cmd.Flags().GetString("idempotency-key")

			req := export.Request{IdempotencyKey: key}
			if from != "" || to != "" {
				w, err := export.ParseWindow(from, to)
				if err != nil {
					return err
				}
				req.Window = &w
			}

			res, pushURL := execute(cmd.Context(), configFile(cmd), req)
			if err := printJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			pushMetrics(cmd.Context(), pushURL)
			if !res.OK() {
				return errRunFailed
			}
			return nil
		},
	}
	cmd.Flags().String("from", "", "first day to export (YYYY-MM-DD), with --to")
	cmd.Flags().String("to", "", "last day to export (YYYY-MM-DD), with --from")
	cmd.Flags().String("idempotency-key", "", "recorded with the run in the run log")
	return cmd
}

var (
	registry   = prometheus.NewRegistry()
	runMetrics = metrics.NewRunMetrics(registry)
)

func execute(ctx context.Context, file string, req export.Request) (export.Result, string) {
	v, err := config.NewViper(file)
	if err != nil {
		res := export.ConfigFailure(err)
		app.Failed(runMetrics, res)
		return res, ""
	}
	pushURL := v.GetString("PUSHGATEWAY_URL")

	rt, err := app.Build(ctx, v, app.Options{Service: service, Metrics: runMetrics})
	if err != nil {
		logging.Log(logging.Fields{Service: service, Step: "startup", Status: "error", Level: logging.LevelError, Error: err.Error()})
		res := app.FailureResult(err)
		app.Failed(runMetrics, res)
		return res, pushURL
	}
	defer rt.Close()

	return rt.Exporter.RunWith(ctx, req), pushURL
}

func pushMetrics(ctx context.Context, url string) {
	if url == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := metrics.Push(ctx, url, "helloasso_export", registry); err != nil {
		logging.Log(logging.Fields{Service: service, Step: "metrics_push", Status: "error", Level: logging.LevelWarn, Error: err.Error()})
	}
}

func windowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "window",
		Short: "Print the period a run started now would export",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := export.PreviousMonth(time.Now())
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", w.FromDate(), w.ToDate())
			return err
		},
	}
}

func resendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resend",
		Short: "Deliver notifications left pending in the outbox",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")

			v, err := config.NewViper(configFile(cmd))
			if err != nil {
				return err
			}
			rt, err := app.Build(cmd.Context(), v, app.Options{Service: service})
			if err != nil {
				return err
			}
			defer rt.Close()

			if rt.Outbox == nil {
				return errors.New("resend needs DATABASE_URL")
			}
			if rt.Channels == nil {
				return errors.New("resend needs SNS_TOPIC_ARN or KAFKA_BROKERS")
			}
			sent, err := notify.Resend(cmd.Context(), rt.Outbox, rt.Channels, limit)
			logging.Log(logging.Fields{Service: service, Step: "resend", Status: "done", Items: sent})
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%d notification(s) sent\n", sent)
			return err
		},
	}
	cmd.Flags().Int("limit", 50, "maximum notifications to deliver")
	return cmd
}

func configFile(cmd *cobra.Command) string {
	f, _ := cmd.Flags().GetString("config")
	return f
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
