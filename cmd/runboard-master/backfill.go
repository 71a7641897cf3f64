package main

import (
	"context"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/runboard-ai/runboard/internal/db"
)

var backfillBatchSize int

//nolint:gochecknoinit
func init() {
	backfillCmd.Flags().IntVar(&backfillBatchSize, "batch-size", 500,
		"number of runs to index per batch")
	rootCmd.AddCommand(backfillCmd)
}

// backfillCmd rebuilds the flattened field index for historical runs. It is
// safe to re-run: each run's rows are replaced transactionally, and on
// failure the printed cursor lets the job resume where it stopped.
var backfillCmd = &cobra.Command{
	Use:   "backfill-field-index [after-run-id]",
	Short: "rebuild the flattened field index for existing runs",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := runBackfill(args); err != nil {
			log.Error(fmt.Sprintf("%+v", err))
			os.Exit(1)
		}
	},
}

func runBackfill(args []string) error {
	cfg, err := initializeConfig()
	if err != nil {
		return err
	}

	var afterID int64
	if len(args) == 1 {
		if _, err := fmt.Sscanf(args[0], "%d", &afterID); err != nil {
			return fmt.Errorf("invalid after-run-id %q", args[0])
		}
	}

	pg, err := db.Connect(&cfg.DB)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := pg.Close(); cerr != nil {
			log.WithError(cerr).Error("error closing db")
		}
	}()

	cursor, err := db.BackfillFieldIndex(context.Background(), afterID, backfillBatchSize)
	if err != nil {
		log.Errorf("backfill stopped at run id %d; resume with: "+
			"runboard-master backfill-field-index %d", cursor, cursor)
		return err
	}
	log.Infof("backfill complete through run id %d", cursor)
	return nil
}
