package main

import (
	"context"
	"fmt"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"jobmate/matching-service/internal/events"
	"jobmate/matching-service/internal/grpcserver"
	"jobmate/matching-service/internal/httpapi"
	"jobmate/matching-service/internal/scheduler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the REST and gRPC APIs, the reconcile scheduler and the posting listener",
	RunE:  serve,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Bool("reconcile-on-change", false, "reconcile every claimant against postings announced on the posting channel")
}

func serve(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := connect(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer d.Close()

	// ── HTTP server ──────────────────────────────────────────────────────────
	api := httpapi.NewApp(httpapi.NewHandler(d.reconciler, d.review, version, log))

	// ── gRPC server ──────────────────────────────────────────────────────────
	grpcSrv := grpc.NewServer()
	grpcserver.Register(grpcSrv, grpcserver.NewServer(d.reconciler, d.review, log))
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPC.Port))
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	// ── Scheduler ────────────────────────────────────────────────────────────
	var sched *scheduler.Scheduler
	if cfg.Scheduler.Spec != "" {
		sched = scheduler.New(d.store, d.reconciler, cfg.Scheduler.Spec, cfg.Scheduler.Parallelism, log)
		if err := sched.Start(ctx); err != nil {
			return err
		}
	} else {
		log.Info("scheduler disabled")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http listening", zap.String("version", version), zap.Int("port", cfg.HTTP.Port))
		if err := api.Listen(fmt.Sprintf(":%d", cfg.HTTP.Port)); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		log.Info("grpc listening", zap.Int("port", cfg.GRPC.Port))
		if err := grpcSrv.Serve(lis); err != nil {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	if d.rdb != nil {
		var runner events.Runner
		if on, _ := cmd.Flags().GetBool("reconcile-on-change"); on {
			runner = d.reconciler
		}
		listener := events.NewPostingListener(d.rdb, d.store, d.indexer, runner, log)
		g.Go(func() error { return listener.Run(gctx) })
	}

	// ── Graceful shutdown ────────────────────────────────────────────────────
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		if sched != nil {
			sched.Stop()
		}
		if err := api.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Warn("http shutdown", zap.Error(err))
		}
		grpcSrv.GracefulStop()
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("stopped")
	return nil
}
