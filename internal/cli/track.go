package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/lendwatch/internal/core/domain"
	"github.com/vietddude/lendwatch/internal/lending"
	"github.com/vietddude/lendwatch/internal/poll"
	"github.com/vietddude/lendwatch/internal/throttle"
)

// Exit codes of the track command.
const (
	exitSucceeded = 0
	exitFailed    = 1
	exitExhausted = 2
	exitCancelled = 130
)

var trackCmd = &cobra.Command{
	Use:   "track [application|offer] [id]",
	Short: "Poll one entity in the foreground until it settles",
	Long: `Track polls a single application or offer with the configured backoff policy.
Exits 0 on success, 1 on failure, 2 when the retry budget is spent, 130 on interrupt.`,
	Args: cobra.ExactArgs(2),
	Run:  runTrack,
}

func init() {
	rootCmd.AddCommand(trackCmd)
}

func runTrack(cmd *cobra.Command, args []string) {
	kind := domain.EntityKind(args[0])
	if !kind.Valid() {
		fmt.Printf("Unknown entity kind %q: want application or offer\n", args[0])
		os.Exit(1)
	}
	id := args[1]

	cfg := loadConfig()
	client, err := lending.NewClient(cfg.Backend.Client())
	if err != nil {
		slog.Error("Failed to init backend client", "error", err)
		os.Exit(1)
	}
	limiter := throttle.New(cfg.Backend.Throttle())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var code int
	switch kind {
	case domain.KindOffer:
		code = follow(ctx, os.Stdout, throttle.Wrap(limiter, lending.OfferFetch(client, id)),
			lending.ClassifyOffer, cfg.Polling.Offer)
	default:
		code = follow(ctx, os.Stdout, throttle.Wrap(limiter, lending.ApplicationFetch(client, id)),
			lending.ClassifyApplication, cfg.Polling.Application)
	}
	stop()
	os.Exit(code)
}

// follow runs one poll session to completion, printing progress to out, and returns
// the exit code for its outcome.
func follow[T any](
	ctx context.Context,
	out io.Writer,
	fetch poll.FetchFunc[T],
	classify poll.ClassifyFunc[T],
	cfg poll.Config,
	opts ...poll.Option,
) int {
	done := make(chan int, 1)
	p := poll.New[T](opts...)

	hooks := poll.Hooks[T]{
		OnContinue: func(attempt int, next time.Duration) {
			_, _ = fmt.Fprintf(out, "attempt %d/%d: still in progress, next check in %s\n",
				attempt, cfg.MaxAttempts, next)
		},
		OnSuccess: func(entity *T) {
			_, _ = fmt.Fprintf(out, "succeeded: %+v\n", *entity)
			done <- exitSucceeded
		},
		OnFailure: func(reason error) {
			_, _ = fmt.Fprintf(out, "failed: %v\n", reason)
			done <- exitFailed
		},
		OnExhausted: func(attempts int) {
			_, _ = fmt.Fprintf(out, "exhausted after %d attempts\n", attempts)
			done <- exitExhausted
		},
	}

	if err := p.Start(ctx, fetch, classify, cfg, hooks); err != nil {
		_, _ = fmt.Fprintf(out, "cannot start: %v\n", err)
		return exitFailed
	}

	select {
	case code := <-done:
		return code
	case <-ctx.Done():
		p.Cancel()
		// A terminal hook that won the race still decides the outcome.
		select {
		case code := <-done:
			return code
		default:
		}
		_, _ = fmt.Fprintln(out, "cancelled")
		return exitCancelled
	}
}
