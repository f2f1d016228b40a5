package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/adform-extractor/internal/config"
	"github.com/sells-group/adform-extractor/internal/failure"
)

var (
	cfg     *config.Config
	dataDir string
)

var rootCmd = &cobra.Command{
	Use:   "adform-extractor",
	Short: "Extract Adform Masterdata files into Keboola tables",
	Long: "Rotates the Adform OAuth refresh token, lists the Masterdata files of a setup inside a time window, " +
		"downloads them and writes one typed CSV table with a manifest per dataset and metadata dimension.",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(dataDir)
		if err != nil {
			return err
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}
		return nil
	},
	// The platform starts the container without arguments.
	RunE: func(cmd *cobra.Command, args []string) error {
		return runExtraction(cmd.Context())
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	_ = godotenv.Load()
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", defaultDataDir(), "Keboola data directory")
}

func defaultDataDir() string {
	if d := os.Getenv("KBC_DATADIR"); d != "" {
		return d
	}
	return "/data"
}

func main() {
	os.Exit(execute(context.Background(), os.Stderr))
}

// execute runs the command tree and maps the outcome onto an exit code.
func execute(ctx context.Context, stderr io.Writer) int {
	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return failure.ExitOK
	}
	_, _ = fmt.Fprintln(stderr, userMessage(err))
	zap.L().Debug("run failed",
		zap.String("kind", failure.KindOf(err).String()),
		zap.String("trace", eris.ToString(err, true)),
	)
	_ = zap.L().Sync()
	return failure.ExitCode(err)
}

// userMessage is the single line shown for err. User failures are reported
// without the wrapping added on their way up.
func userMessage(err error) string {
	var fe *failure.Error
	if errors.As(err, &fe) && fe.Kind.User() {
		return fe.Error()
	}
	return err.Error()
}
