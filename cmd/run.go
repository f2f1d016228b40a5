package main

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/adform-extractor/internal/auth"
	"github.com/sells-group/adform-extractor/internal/config"
	"github.com/sells-group/adform-extractor/internal/db"
	"github.com/sells-group/adform-extractor/internal/extractor"
	"github.com/sells-group/adform-extractor/internal/kbc"
	"github.com/sells-group/adform-extractor/internal/resilience"
	"github.com/sells-group/adform-extractor/internal/runlog"
	"github.com/sells-group/adform-extractor/pkg/adform"
	"github.com/sells-group/adform-extractor/pkg/keboola"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Extract the configured datasets and metadata",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runExtraction(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runExtraction(ctx context.Context) error {
	ex, cleanup, err := newExtractor(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	res, err := ex.Run(ctx)
	if err != nil {
		return err
	}
	zap.L().Info("extraction finished",
		zap.String("run_id", res.RunID),
		zap.Int("tables", len(res.Tables)),
		zap.Int64("rows", res.Rows()),
		zap.Strings("missing_metadata", res.MissingMetadata),
	)
	return nil
}

// newExtractor validates c and wires the extractor. cleanup releases the
// run log and the mirror pool.
func newExtractor(ctx context.Context, c *config.Config) (*extractor.Extractor, func(), error) {
	if err := c.Validate(); err != nil {
		return nil, nil, err
	}

	dd := kbc.NewOS(c.DataDir)
	httpClient := &http.Client{Timeout: time.Duration(c.API.TimeoutSecs) * time.Second}

	var remote keboola.Client
	if c.Platform.RemoteStateEnabled() {
		remote = keboola.NewClient(keboola.Settings{
			StorageURL:  c.Platform.URL,
			Token:       c.Platform.Token,
			ProjectID:   c.Platform.ProjectID,
			ComponentID: c.Platform.ComponentID,
			ConfigID:    c.Platform.ConfigID,
			BranchID:    c.Platform.BranchID,
		})
	} else {
		zap.L().Info("platform variables not set, refresh token is saved to the local state only")
	}

	policy := resilience.FromSettings(resilience.TokenStorePolicy(), c.Retry.MaxAttempts, c.Retry.InitialBackoffMs, c.Retry.MaxBackoffMs)
	store := auth.NewStore(dd, remote, policy)
	tokens := adform.NewTokenClient(adform.WithTokenURL(c.API.TokenURL), adform.WithTokenHTTPClient(httpClient))

	runs, err := runlog.Open(ctx, c.RunLog.Path)
	if err != nil {
		return nil, nil, err
	}
	closers := []func(){func() { _ = runs.Close() }}
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := extractor.Deps{
		DataDir: dd,
		State:   store,
		Auth:    auth.NewManager(tokens, store),
		Clients: func(accessToken string) adform.Client {
			return adform.NewClient(accessToken,
				adform.WithBaseURL(c.API.BaseURL),
				adform.WithHTTPClient(httpClient),
				adform.WithPageSize(c.API.PageSize),
				adform.WithRateLimit(c.API.RateLimit),
			)
		},
		RunLog: runs,
	}

	if c.Mirror.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, c.Mirror.DatabaseURL)
		if err != nil {
			cleanup()
			return nil, nil, eris.Wrap(err, "mirror: connect")
		}
		closers = append(closers, pool.Close)
		deps.Mirror = db.NewMirror(pool, c.Mirror.Schema)
	}

	return extractor.New(c, deps), cleanup, nil
}
