package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/adform-extractor/internal/catalog"
	"github.com/sells-group/adform-extractor/internal/model"
)

var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "List the catalog files the next run would download",
	Long:  "Authenticates, lists the Masterdata catalog and prints the files inside the window. The refresh token is rotated and saved like in a run.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		ex, cleanup, err := newExtractor(ctx, cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		listing, err := ex.List(ctx)
		if err != nil {
			return err
		}
		if len(listing.Files) == 0 {
			_, _ = fmt.Fprintf(os.Stderr, "No files in window %s.\n", listing.Window)
			return nil
		}

		formatFiles(os.Stdout, listing.Files)
		prefixes := append([]string(nil), cfg.Parameters.Source.Datasets...)
		if len(cfg.Parameters.Source.MetaFiles) > 0 {
			prefixes = append(prefixes, model.MetaDataset)
		}
		formatDatasetCounts(os.Stdout, catalog.GroupByDataset(listing.Files, prefixes), prefixes)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(filesCmd)
}

// formatFiles writes a tabular list of catalog files to out.
func formatFiles(out io.Writer, files []model.RemoteFile) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tDATASET\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t----\t-------\t-------")
	for _, f := range files {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", f.ID, f.Name, f.Dataset, f.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	_ = w.Flush()
}

func formatDatasetCounts(out io.Writer, groups map[string][]model.RemoteFile, prefixes []string) {
	_, _ = fmt.Fprintln(out)
	for _, p := range prefixes {
		_, _ = fmt.Fprintf(out, "%s: %d file(s)\n", p, len(groups[p]))
	}
}
