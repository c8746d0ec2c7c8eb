package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saifullahBUET144/webCrawler/internal/book_crawler/api"
	"github.com/saifullahBUET144/webCrawler/internal/book_crawler/processor"
)

const shutdownTimeout = 10 * time.Second

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "book_crawler",
		Short:         "Mirror a book catalog and track changes over time",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "hashkey" {
				return nil
			}
			return a.init()
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "config/config.yaml", "path to the YAML config file")

	root.AddCommand(
		crawlCommand(a),
		detectCommand(a),
		scheduleCommand(a),
		serveCommand(a),
		hashKeyCommand(),
	)
	return root
}

func crawlCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Discover the catalog and fetch every item not stored yet",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p := a.pipeline(cmd.Context())
			report, err := p.Crawl(cmd.Context())
			PrintRunReport(cmd.OutOrStdout(), report)
			return err
		},
	}
}

func detectCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "detect",
		Short: "Re-fetch stored items, record field changes and pick up new items",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p := a.pipeline(cmd.Context())
			report, err := p.DetectChanges(cmd.Context())
			PrintRunReport(cmd.OutOrStdout(), report)
			return err
		},
	}
}

func scheduleCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Run change detection on the configured cron schedule",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.worker(a.pipeline(cmd.Context())).Run(cmd.Context())
		},
	}
}

func serveCommand(a *app) *cobra.Command {
	var noScheduler bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only HTTP API (and the daily scheduler)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			p := a.pipeline(ctx)

			srv := &api.Server{
				Log:              a.log.Named("api"),
				Repo:             a.stores,
				APIKeyHashes:     a.cfg.API.APIKeyHashes,
				RateLimitPerHour: a.cfg.API.RateLimitPerHour,
			}
			r := srv.Router()
			_ = r.SetTrustedProxies(nil)
			httpSrv := &http.Server{Addr: a.cfg.API.Addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				a.log.Info("API server is running", zap.String("address", a.cfg.API.Addr))
				if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("listen %s: %w", a.cfg.API.Addr, err)
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
				defer cancel()
				a.log.Info("Shutting down API server")
				return httpSrv.Shutdown(shutdownCtx)
			})
			if !noScheduler {
				g.Go(func() error {
					return a.worker(p).Run(gctx)
				})
			}
			return g.Wait()
		},
	}
	cmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "serve the API without the daily change detection")
	return cmd
}

func hashKeyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hashkey <api-key>",
		Short: "Print the bcrypt hash of an API key for VALID_API_KEY_HASHES",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := api.HashKey(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), h)
			return nil
		},
	}
}

// detectJob 定时任务：一次变更检测，报告写到标准输出
func detectJob(p *processor.Pipeline) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		report, err := p.DetectChanges(ctx)
		PrintRunReport(os.Stdout, report)
		return err
	}
}
