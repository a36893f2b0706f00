package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	httpapi "github.com/tbourn/assessment-chat/internal/http"
	"github.com/tbourn/assessment-chat/internal/sysutil"
)

const shutdownGrace = 15 * time.Second

type ServerFlags struct {
	ListenAddr    string
	RunWorkers    bool
	PruneInterval time.Duration
	ShutdownGrace time.Duration
}

func NewServerFlags() *ServerFlags {
	return &ServerFlags{
		RunWorkers:    os.Getenv("RUN_WORKERS") == "" || sysutil.IsTruthy(os.Getenv("RUN_WORKERS")),
		PruneInterval: time.Hour,
		ShutdownGrace: shutdownGrace,
	}
}

func (f *ServerFlags) BindFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&f.ListenAddr, "listen", f.ListenAddr, "The address to serve the API on (default :$PORT)")
	flagSet.BoolVar(&f.RunWorkers, "workers", f.RunWorkers, "Run the job queue workers in this process (env RUN_WORKERS)")
	flagSet.DurationVar(&f.PruneInterval, "idempotency-prune-interval", f.PruneInterval, "How often expired idempotency records are removed; 0 disables")
	flagSet.DurationVar(&f.ShutdownGrace, "shutdown-grace", f.ShutdownGrace, "How long in-flight requests get to finish on shutdown")
}

func (f *ServerFlags) listenAddr(port string) string {
	if f.ListenAddr != "" {
		return f.ListenAddr
	}
	return net.JoinHostPort("", port)
}

func NewServeCommand() *cobra.Command {
	f := NewServerFlags()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, and by default the job workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := appConfig
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() {
				cctx, cancel := context.WithTimeout(context.Background(), f.ShutdownGrace)
				defer cancel()
				if err := a.Close(cctx); err != nil {
					log.Warn().Err(err).Msg("shutdown incomplete")
				}
			}()

			gin.SetMode(cfg.GinMode)
			engine := gin.New()
			httpapi.RegisterRoutes(engine, httpapi.Deps{
				DB:            a.db,
				Conversations: a.conversations,
				Jobs:          a.jobs,
			}, cfg)

			srv := &http.Server{
				Addr:              f.listenAddr(cfg.Port),
				Handler:           engine,
				ReadTimeout:       cfg.ReadTimeout,
				ReadHeaderTimeout: cfg.ReadHeaderTimeout,
				WriteTimeout:      cfg.WriteTimeout,
				IdleTimeout:       cfg.IdleTimeout,
				MaxHeaderBytes:    cfg.MaxHeaderBytes,
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				log.Info().Str("addr", srv.Addr).Str("base_path", cfg.APIBasePath).Msg("http server listening")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return pkgerrors.WithMessage(err, "http server failed")
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				sctx, cancel := context.WithTimeout(context.Background(), f.ShutdownGrace)
				defer cancel()
				log.Info().Msg("http server shutting down")
				return srv.Shutdown(sctx)
			})
			if f.RunWorkers {
				g.Go(func() error { return a.aiQueue.Run(gctx) })
				g.Go(func() error { return a.webhookQueue.Run(gctx) })
			}
			if f.PruneInterval > 0 {
				g.Go(func() error {
					a.pruneIdempotency(gctx, f.PruneInterval)
					return nil
				})
			}
			return g.Wait()
		},
	}

	f.BindFlags(cmd.Flags())
	return cmd
}
