package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/lendwatch/internal/infra/storage/postgres"
)

var pruneCmd = &cobra.Command{
	Use:   "prune [older_than]",
	Short: "Delete finished sessions last updated before the given age (e.g. 720h)",
	Args:  cobra.ExactArgs(1),
	Run:   runPrune,
}

func init() {
	rootCmd.AddCommand(pruneCmd)
}

func runPrune(cmd *cobra.Command, args []string) {
	age, err := time.ParseDuration(args[0])
	if err != nil || age <= 0 {
		fmt.Printf("Invalid age %q: want a positive duration such as 720h\n", args[0])
		os.Exit(1)
	}

	cfg := loadConfig()
	if cfg.Database.URL == "" {
		slog.Error("prune needs database.url")
		os.Exit(1)
	}

	ctx := context.Background()
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()

	cutoff := time.Now().Add(-age)
	n, err := postgres.NewSessionRepo(db).DeleteFinishedBefore(ctx, cutoff)
	if err != nil {
		slog.Error("Failed to prune sessions", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Deleted %d finished sessions updated before %s\n", n, cutoff.Format(time.RFC3339))
}
