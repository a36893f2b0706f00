package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

type WorkerFlags struct {
	Queues []string
}

func NewWorkerFlags() *WorkerFlags {
	return &WorkerFlags{Queues: []string{"ai", "webhook"}}
}

func (f *WorkerFlags) BindFlags(flagSet *pflag.FlagSet) {
	flagSet.StringSliceVar(&f.Queues, "queues", f.Queues, "Queues to consume (ai, webhook)")
}

func (f *WorkerFlags) has(name string) bool {
	for _, q := range f.Queues {
		if q == name {
			return true
		}
	}
	return false
}

// NewWorkerCommand runs only the job queues, for deployments that scale
// workers separately from the API.
func NewWorkerCommand() *cobra.Command {
	f := NewWorkerFlags()

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the job queue workers without the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, appConfig)
			if err != nil {
				return err
			}
			defer func() {
				cctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
				defer cancel()
				if err := a.Close(cctx); err != nil {
					log.Warn().Err(err).Msg("shutdown incomplete")
				}
			}()

			g, gctx := errgroup.WithContext(ctx)
			if f.has("ai") {
				g.Go(func() error { return a.aiQueue.Run(gctx) })
			}
			if f.has("webhook") {
				g.Go(func() error { return a.webhookQueue.Run(gctx) })
			}
			g.Go(func() error {
				a.pruneIdempotency(gctx, time.Hour)
				return nil
			})
			return g.Wait()
		},
	}

	f.BindFlags(cmd.Flags())
	return cmd
}
