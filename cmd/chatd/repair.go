package main

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gorm.io/gorm"

	"github.com/tbourn/assessment-chat/internal/repo"
	"github.com/tbourn/assessment-chat/internal/threading"
)

type RepairFlags struct {
	BatchSize int
}

func NewRepairFlags() *RepairFlags {
	return &RepairFlags{BatchSize: 200}
}

func (f *RepairFlags) BindFlags(flagSet *pflag.FlagSet) {
	flagSet.IntVar(&f.BatchSize, "batch-size", f.BatchSize, "Conversations scanned per page")
}

// NewRepairThreadsCommand re-links messages whose parent pointer is missing,
// for data written before threading existed or after a partial failure.
func NewRepairThreadsCommand() *cobra.Command {
	f := NewRepairFlags()

	cmd := &cobra.Command{
		Use:   "repair-threads",
		Short: "Re-link orphaned messages in every conversation",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := appConfig
			db, err := repo.Open(cfg.DBDriver, cfg.DSN())
			if err != nil {
				return errors.WithMessage(err, "couldn't open database")
			}
			if sqlDB, err := db.DB(); err == nil {
				defer sqlDB.Close()
			}
			if err := repo.AutoMigrate(db); err != nil {
				return errors.WithMessage(err, "couldn't migrate database")
			}

			convs, fixed, err := repairThreads(cmd.Context(), db, threading.NewLinker(), f.BatchSize)
			if err != nil {
				return err
			}
			log.Info().Int("conversations", convs).Int("repaired", fixed).Msg("thread repair complete")
			return nil
		},
	}

	f.BindFlags(cmd.Flags())
	return cmd
}

func repairThreads(ctx context.Context, db *gorm.DB, linker *threading.Linker, batch int) (convs, fixed int, err error) {
	if batch <= 0 {
		batch = 200
	}
	after := ""
	for {
		ids, err := repo.ListConversationIDs(ctx, db, after, batch)
		if err != nil {
			return convs, fixed, errors.WithMessage(err, "couldn't list conversations")
		}
		for _, id := range ids {
			n, err := linker.RepairConversation(ctx, db, id)
			if err != nil {
				return convs, fixed, errors.Wrapf(err, "repair conversation %s", id)
			}
			if n > 0 {
				log.Debug().Str("conversation_id", id).Int("repaired", n).Msg("conversation repaired")
			}
			convs++
			fixed += n
		}
		if len(ids) < batch {
			return convs, fixed, nil
		}
		after = ids[len(ids)-1]
	}
}
