package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/GoSim-25-26J-441/quant-hpo/internal/search"
	"github.com/GoSim-25-26J-441/quant-hpo/internal/searchd"
)

type serveFlags struct {
	grpcAddr    string
	httpAddr    string
	baseDir     string
	submitRate  float64
	submitBurst int
}

func newServeCmd(g *globalFlags) *cobra.Command {
	f := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the search service (HTTP and gRPC)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, g, f, cmd)
		},
	}
	cmd.Flags().StringVar(&f.grpcAddr, "grpc-addr", ":50051", "gRPC listen address")
	cmd.Flags().StringVar(&f.httpAddr, "http-addr", ":8080", "HTTP listen address")
	cmd.Flags().StringVar(&f.baseDir, "base-dir", "", "Directory that relative paths in submitted configs resolve against")
	cmd.Flags().Float64Var(&f.submitRate, "submit-rate", 1, "Search submissions allowed per second (0 = unlimited)")
	cmd.Flags().IntVar(&f.submitBurst, "submit-burst", 2, "Submission burst size")
	return cmd
}

func runServe(ctx context.Context, g *globalFlags, f *serveFlags, cmd *cobra.Command) error {
	l := g.setupLogger(cmd.ErrOrStderr(), "info", "json")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	store := searchd.NewRunStore()
	executor := searchd.NewRunExecutor(store, searchd.ExecutorOptions{
		BaseDir: f.baseDir,
		Metrics: search.NewMetrics(reg),
		Logger:  l.With("component", "searchd"),
	})

	// TODO: Configure gRPC server security (e.g., TLS, authentication)
	// before exposing this service outside a trusted network.
	grpcServer := grpc.NewServer()
	searchd.RegisterServices(grpcServer, searchd.NewSearchGRPCServer(store, executor))

	grpcLis, err := net.Listen("tcp", f.grpcAddr)
	if err != nil {
		return err
	}

	httpSrv := &http.Server{
		Addr: f.httpAddr,
		Handler: searchd.NewHTTPServer(store, executor, searchd.HTTPOptions{
			SubmitRate:  f.submitRate,
			SubmitBurst: f.submitBurst,
			Gatherer:    reg,
		}).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		l.Info("gRPC server listening", "addr", f.grpcAddr)
		return grpcServer.Serve(grpcLis)
	})
	eg.Go(func() error {
		l.Info("HTTP server listening", "addr", f.httpAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		l.Info("shutdown requested")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := executor.Shutdown(shutdownCtx); err != nil {
			l.Warn("searches still running at shutdown", "error", err)
		}
		grpcServer.GracefulStop()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			l.Error("HTTP shutdown error", "error", err)
		}
		return nil
	})
	return eg.Wait()
}
