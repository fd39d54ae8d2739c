package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/lendwatch/internal/core/domain"
	"github.com/vietddude/lendwatch/internal/infra/storage/postgres"
	"github.com/vietddude/lendwatch/internal/tracking"
)

var (
	statusLimit  int
	statusActive bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recorded poll sessions",
	Run:   runStatus,
}

func init() {
	statusCmd.Flags().IntVar(&statusLimit, "limit", 50, "maximum number of sessions to show")
	statusCmd.Flags().BoolVar(&statusActive, "active", false, "show only running sessions")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	if cfg.Database.URL == "" {
		slog.Error("status needs database.url; in-memory sessions live only inside the service")
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

	repo := postgres.NewSessionRepo(db)
	var sessions []*domain.Session
	if statusActive {
		sessions, err = repo.ListActive(ctx)
	} else {
		sessions, err = repo.List(ctx, statusLimit)
	}
	if err != nil {
		slog.Error("Failed to query sessions", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "SESSION\tKIND\tENTITY\tSTATUS\tATTEMPTS\tUPDATED\tDETAIL")

	for _, s := range sessions {
		detail := tracking.StatusDescription(s.Status)
		if s.Error != "" {
			detail = s.Error
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t%s\t%s\n",
			s.ID, s.Kind, s.EntityID, s.Status, s.Attempts, s.MaxAttempts,
			s.UpdatedAt.Format(time.RFC3339), detail)
	}
	_ = w.Flush()
}
