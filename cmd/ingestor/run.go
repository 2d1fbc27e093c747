package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/user/document-ingestion/internal/catalog"
	"github.com/user/document-ingestion/internal/delivery/http/handler"
	"github.com/user/document-ingestion/internal/delivery/http/router"
	"github.com/user/document-ingestion/internal/entity"
	"github.com/user/document-ingestion/internal/usecase"
)

func newRunCommand(configPath *string) *cobra.Command {
	var serve bool
	var refresh time.Duration
	var only []string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Seed the configured sources and ingest until the catalog is exhausted",
		Long: `Seeds every configured source and processes references until none remain.
With --serve the HTTP API and /metrics stay up and the process waits for
submissions. With --refresh the sources are re-seeded on that interval;
listing pages are re-read while already stored documents are skipped.
SIGINT or SIGTERM stops admission and lets in-flight work checkpoint.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()
			if !cmd.Flags().Changed("refresh") {
				refresh = a.cfg.Pipeline.RefreshInterval
			}
			return runIngest(cmd.Context(), a, serve, refresh, only)
		},
	}

	cmd.Flags().BoolVar(&serve, "serve", false, "Serve the HTTP API and keep waiting for submissions")
	cmd.Flags().DurationVar(&refresh, "refresh", 0, "Re-seed sources on this interval (0 runs once)")
	cmd.Flags().StringSliceVar(&only, "source", nil, "Only seed the named sources")
	return cmd
}

func runIngest(parent context.Context, a *app, serve bool, refresh time.Duration, only []string) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	all := catalog.FromConfig(a.cfg.Sources)
	sources := selectSources(all, only)
	if len(sources) == 0 {
		return errors.Newf("no sources match %v", only)
	}
	seeds, names, err := seedsOf(sources)
	if err != nil {
		return err
	}
	scope, err := a.scope(all)
	if err != nil {
		return err
	}

	coord, manager, err := a.pipeline(ctx, usecase.Options{
		KeepAlive: serve && refresh == 0,
		Sources:   names,
		Scope:     scope,
	})
	if err != nil {
		return err
	}

	var server *http.Server
	if serve {
		server = a.startServer(manager)
	}

	for {
		run, err := coord.Run(ctx, seeds...)
		if err != nil {
			return err
		}
		printRun(run)
		if refresh <= 0 || ctx.Err() != nil {
			break
		}
		a.logger.Info("waiting for next refresh", zap.Duration("interval", refresh))
		select {
		case <-ctx.Done():
		case <-time.After(refresh):
		}
		if ctx.Err() != nil {
			break
		}
	}

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server forced to shutdown", zap.Error(err))
		}
	}
	a.logger.Info("ingestor exiting")
	return nil
}

func (a *app) startServer(manager usecase.ReferenceManager) *http.Server {
	checks := map[string]handler.HealthCheck{
		"postgres": func(ctx context.Context) error { return a.db.Ping(ctx) },
		"redis":    func(ctx context.Context) error { return a.rdb.Ping(ctx).Err() },
	}
	h := handler.NewHandler(manager, checks, a.logger)

	server := &http.Server{
		Addr:         ":" + a.cfg.Server.Port,
		Handler:      router.New(h, a.metrics, a.registry, a.logger),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 70 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("could not start server", zap.String("port", a.cfg.Server.Port), zap.Error(err))
		}
	}()
	a.logger.Info("server started", zap.String("port", a.cfg.Server.Port))
	return server
}

func selectSources(all []catalog.Source, only []string) []catalog.Source {
	if len(only) == 0 {
		return all
	}
	want := make(map[string]bool, len(only))
	for _, n := range only {
		want[n] = true
	}
	var out []catalog.Source
	for _, s := range all {
		if want[s.Name] {
			out = append(out, s)
		}
	}
	return out
}

func seedsOf(sources []catalog.Source) ([]entity.DocumentReference, []string, error) {
	var seeds []entity.DocumentReference
	names := make([]string, 0, len(sources))
	for _, s := range sources {
		refs, err := s.Seeds()
		if err != nil {
			return nil, nil, errors.Wrapf(err, "seed source %s", s.Name)
		}
		seeds = append(seeds, refs...)
		names = append(names, s.Name)
	}
	return seeds, names, nil
}

// scope admits the hosts of every configured source, selected or not, plus
// every host with its own rate limit.
func (a *app) scope(sources []catalog.Source) (usecase.HostScope, error) {
	seeds, _, err := seedsOf(sources)
	if err != nil {
		return nil, err
	}
	hosts := make([]string, 0, len(seeds)+len(a.cfg.RateLimit.Hosts))
	for _, s := range seeds {
		hosts = append(hosts, s.Host)
	}
	for _, h := range a.cfg.RateLimit.Hosts {
		hosts = append(hosts, h.Host)
	}
	return usecase.NewHostScope(hosts...), nil
}

func printRun(run *entity.IngestionRun) {
	if run.Status == entity.RunStatusCompleted {
		pterm.Success.Printfln("Run %s completed", run.ID)
	} else {
		pterm.Warning.Printfln("Run %s %s", run.ID, run.Status)
	}
	_ = pterm.DefaultTable.WithHasHeader().WithData(pterm.TableData{
		{"Discovered", "Downloaded", "Deduplicated", "Failed"},
		{itoa(run.TotalDiscovered), itoa(run.Downloaded), itoa(run.SkippedDuplicate), itoa(run.Failed)},
	}).Render()
}
