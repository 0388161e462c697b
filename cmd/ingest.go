package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/docsrag/docsrag/db"
	"github.com/docsrag/docsrag/internal/config"
)

// lockRetryInterval is how often a waiting ingest retries the lock.
const lockRetryInterval = 500 * time.Millisecond

var ingestWait bool

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Chunk, embed and index the documentation corpus",
	Long: `Ingest loads every markdown file under the configured docs directory,
splits it into section-aware chunks, embeds the chunks, and replaces the
vector index in a single transaction. Queries served during ingestion keep
seeing the previous index until the replacement commits.

Concurrent ingests are serialized with a file lock next to the feedback
database; a second ingest fails fast unless --wait is given.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runIngest(cmd.Context())
	},
}

func init() {
	ingestCmd.Flags().BoolVar(&ingestWait, "wait", false, "block until a running ingest finishes instead of failing")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(parent context.Context) error {
	logger := newLogger()

	cfg, err := config.Load(logger)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	unlock, err := acquireIngestLock(ctx, cfg.FeedbackDB)
	if err != nil {
		return err
	}
	defer unlock()

	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	pool, err := pgxpool.New(ctx, cfg.PostgresConnectionString())
	if err != nil {
		return fmt.Errorf("creating connection pool: %w", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}

	svc := newService(cfg, pool, logger)

	start := time.Now()
	stats, err := svc.Ingest(ctx, cfg.DocsDir)
	if err != nil {
		return fmt.Errorf("ingesting %s: %w", cfg.DocsDir, err)
	}

	fmt.Printf("Indexed %d chunks from %d documents in %s\n",
		stats.Chunks, stats.Documents, time.Since(start).Round(time.Millisecond))
	return nil
}

// acquireIngestLock takes an exclusive file lock so that only one ingest
// rewrites the index at a time. The lock file lives next to the feedback
// database since that directory is already writable application state.
func acquireIngestLock(ctx context.Context, feedbackDB string) (func(), error) {
	dir := filepath.Dir(feedbackDB)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	lock := flock.New(filepath.Join(dir, "ingest.lock"))

	if ingestWait {
		locked, err := lock.TryLockContext(ctx, lockRetryInterval)
		if err != nil {
			return nil, fmt.Errorf("waiting for ingest lock: %w", err)
		}
		if !locked {
			return nil, fmt.Errorf("could not acquire ingest lock")
		}
	} else {
		locked, err := lock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("acquiring ingest lock: %w", err)
		}
		if !locked {
			return nil, fmt.Errorf("another ingest is already running (use --wait to queue)")
		}
	}

	return func() {
		if err := lock.Unlock(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: releasing ingest lock: %v\n", err)
		}
	}, nil
}
