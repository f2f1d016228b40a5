// Package extractor runs one extraction: token rotation, catalog listing,
// downloads, normalization and table materialization.
package extractor

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/adform-extractor/internal/auth"
	"github.com/sells-group/adform-extractor/internal/catalog"
	"github.com/sells-group/adform-extractor/internal/config"
	"github.com/sells-group/adform-extractor/internal/engine"
	"github.com/sells-group/adform-extractor/internal/failure"
	"github.com/sells-group/adform-extractor/internal/fetcher"
	"github.com/sells-group/adform-extractor/internal/kbc"
	"github.com/sells-group/adform-extractor/internal/materialize"
	"github.com/sells-group/adform-extractor/internal/model"
	"github.com/sells-group/adform-extractor/internal/runlog"
	"github.com/sells-group/adform-extractor/pkg/adform"
)

// ClientFactory builds a catalog client authorized with accessToken.
type ClientFactory func(accessToken string) adform.Client

// StateLoader returns the token state left by the previous run.
type StateLoader interface {
	Load(ctx context.Context) (model.TokenState, error)
}

// TableLoader copies a finished table somewhere else.
type TableLoader interface {
	Load(ctx context.Context, t model.OutputTable) (int64, error)
}

// Deps are the collaborators of an Extractor. RunLog and Mirror may be nil.
type Deps struct {
	DataDir *kbc.DataDir
	State   StateLoader
	Auth    *auth.Manager
	Clients ClientFactory
	Clock   clockwork.Clock
	RunLog  *runlog.Log
	Mirror  TableLoader
}

// Result summarizes a finished run.
type Result struct {
	RunID           string
	Window          catalog.Window
	Files           int
	Tables          []model.OutputTable
	EmptyDatasets   []string
	MissingMetadata []string
	MirroredRows    int64
}

// Rows returns the total number of rows written.
func (r *Result) Rows() int64 {
	var n int64
	for _, t := range r.Tables {
		n += t.Rows
	}
	return n
}

// Extractor orchestrates a run.
type Extractor struct {
	cfg  *config.Config
	deps Deps
	log  *zap.Logger
}

// New creates an Extractor for a validated configuration.
func New(cfg *config.Config, deps Deps) *Extractor {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	return &Extractor{
		cfg:  cfg,
		deps: deps,
		log:  zap.L().With(zap.String("component", "extractor")),
	}
}

// Listing is the filtered catalog for the configured window.
type Listing struct {
	Window catalog.Window
	Files  []model.RemoteFile
	client adform.Client
}

// List rotates the refresh token and returns the catalog files inside the
// window that match a dataset prefix or, when metadata is requested, the
// metadata bundle prefix.
func (e *Extractor) List(ctx context.Context) (*Listing, error) {
	src := e.cfg.Parameters.Source

	cred, err := e.cfg.Authorization.Credential()
	if err != nil {
		return nil, err
	}
	prior, err := e.deps.State.Load(ctx)
	if err != nil {
		return nil, err
	}
	cred, err = e.deps.Auth.ObtainAccessToken(ctx, cred, prior)
	if err != nil {
		return nil, err
	}

	end, err := src.End()
	if err != nil {
		return nil, err
	}
	window := catalog.NewWindow(e.deps.Clock, end, src.Interval())
	e.log.Info("time window", zap.Time("start", window.Start), zap.Time("end", window.End))

	prefixes := e.prefixes()
	client := e.deps.Clients(cred.AccessToken)
	files, err := catalog.Filter(client.Files(ctx, src.SetupID), window, prefixes)
	if err != nil {
		return nil, err
	}
	e.log.Info("catalog filtered", zap.Int("files", len(files)), zap.Strings("prefixes", prefixes))

	return &Listing{Window: window, Files: files, client: client}, nil
}

func (e *Extractor) prefixes() []string {
	src := e.cfg.Parameters.Source
	prefixes := append([]string(nil), src.Datasets...)
	if len(src.MetaFiles) > 0 {
		prefixes = append(prefixes, model.MetaDataset)
	}
	return prefixes
}

// Run performs a full extraction. The first fatal error aborts the run;
// missing metadata dimensions are logged and skipped.
func (e *Extractor) Run(ctx context.Context) (_ *Result, err error) {
	src := e.cfg.Parameters.Source
	start := time.Now()

	runID, err := e.deps.RunLog.Start(ctx, src.SetupID)
	if err != nil {
		return nil, err
	}
	log := e.log.With(zap.String("run_id", runID), zap.String("setup_id", src.SetupID))
	defer func() {
		if err == nil {
			return
		}
		log.Error("run failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		if logErr := e.deps.RunLog.Fail(context.WithoutCancel(ctx), runID, err.Error()); logErr != nil {
			log.Error("failed to record run failure", zap.Error(logErr))
		}
	}()

	staging := filepath.Join(e.cfg.Staging.TempRoot, runID)
	downloadDir := filepath.Join(staging, "download")
	engineDir := filepath.Join(staging, "engine")
	for _, dir := range []string{downloadDir, engineDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, eris.Wrapf(err, "extractor: create staging dir %s", dir)
		}
	}
	if err := e.deps.DataDir.EnsureLayout(); err != nil {
		return nil, err
	}

	listing, err := e.List(ctx)
	if err != nil {
		return nil, err
	}
	res := &Result{RunID: runID, Window: listing.Window, Files: len(listing.Files)}

	var datasetFiles, metaFiles []model.RemoteFile
	for _, f := range listing.Files {
		if f.Dataset == model.MetaDataset {
			metaFiles = append(metaFiles, f)
		} else {
			datasetFiles = append(datasetFiles, f)
		}
	}

	retriever := fetcher.NewRetriever(listing.client)
	downloaded, err := retriever.DownloadAll(ctx, datasetFiles, downloadDir)
	if err != nil {
		return nil, err
	}
	normalizer := fetcher.NewNormalizer()
	normalized, err := normalizer.Normalize(downloaded, src.FileCharset)
	if err != nil {
		return nil, err
	}

	memLimit, err := e.cfg.Engine.MemoryLimitSize()
	if err != nil {
		return nil, err
	}
	eng, err := engine.Open(ctx, engine.Options{
		Threads:     e.cfg.Engine.Threads,
		MemoryLimit: memLimit,
		TempDir:     engineDir,
	})
	if err != nil {
		return nil, err
	}
	defer eng.Close() //nolint:errcheck

	mat := materialize.New(eng, e.deps.DataDir.TablesDir(), e.cfg.Engine.SampleSize)
	if err := e.datasets(ctx, log, mat, runID, normalized, res); err != nil {
		return nil, err
	}

	if len(src.MetaFiles) > 0 {
		if err := e.metadata(ctx, log, mat, retriever, normalizer, runID, metaFiles, downloadDir, res); err != nil {
			return nil, err
		}
	}

	if err := e.deps.RunLog.Complete(ctx, runID, &runlog.Summary{Metadata: map[string]any{
		"files":            res.Files,
		"window_start":     res.Window.Start,
		"window_end":       res.Window.End,
		"empty_datasets":   res.EmptyDatasets,
		"missing_metadata": res.MissingMetadata,
	}}); err != nil {
		log.Error("failed to record run completion", zap.Error(err))
	}

	log.Info("run complete",
		zap.Int("files", res.Files),
		zap.Int("tables", len(res.Tables)),
		zap.Int64("rows", res.Rows()),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}

func (e *Extractor) datasets(ctx context.Context, log *zap.Logger, mat *materialize.Materializer, runID string, files []model.LocalFile, res *Result) error {
	dst := e.cfg.Parameters.Destination

	for _, prefix := range e.cfg.Parameters.Source.Datasets {
		if err := ctx.Err(); err != nil {
			return eris.Wrap(err, "extractor: run cancelled")
		}
		paths := filesWithPrefix(files, prefix)
		if len(paths) == 0 {
			log.Info("no files for dataset in window", zap.String("dataset", prefix))
			res.EmptyDatasets = append(res.EmptyDatasets, prefix)
			continue
		}

		pk, _ := dst.PrimaryKeyFor(prefix)
		table, err := mat.Dataset(ctx, materialize.DatasetRequest{
			Name:        prefix,
			Files:       paths,
			Incremental: dst.Incremental(),
			PrimaryKey:  pk,
		})
		if err != nil {
			return err
		}
		if err := e.finish(ctx, log, runID, table, res); err != nil {
			return err
		}
	}
	return nil
}

// filesWithPrefix returns the paths of files whose remote name starts with
// prefix. A file may feed several datasets when prefixes overlap.
func filesWithPrefix(files []model.LocalFile, prefix string) []string {
	var paths []string
	for _, f := range files {
		if strings.HasPrefix(f.Source.Name, prefix) {
			paths = append(paths, f.Path)
		}
	}
	return paths
}

func (e *Extractor) metadata(ctx context.Context, log *zap.Logger, mat *materialize.Materializer, retriever *fetcher.Retriever, normalizer *fetcher.Normalizer, runID string, files []model.RemoteFile, downloadDir string, res *Result) error {
	dst := e.cfg.Parameters.Destination
	charset := e.cfg.Parameters.Source.FileCharset

	var (
		bundleDir string
		extracted []string
	)
	bundle, found := catalog.LatestBundle(files)
	if found {
		lf, err := retriever.Download(ctx, bundle, downloadDir)
		if err != nil {
			return err
		}
		bundleDir = strings.TrimSuffix(lf.Path, filepath.Ext(lf.Path))
		extracted, err = fetcher.ExtractZIP(lf.Path, bundleDir)
		if err != nil {
			return failure.Wrap(failure.UnsupportedArchiveType, err, "Failed to unzip downloaded file: "+bundle.Name)
		}
		log.Info("metadata bundle extracted", zap.String("file", bundle.Name), zap.Int("members", len(extracted)))
	} else {
		bundleDir = filepath.Join(downloadDir, model.MetaDataset)
		log.Warn("no metadata bundle in window")
	}

	for _, dim := range e.cfg.Parameters.Source.MetaFiles {
		name := dim + ".json"
		path, ok := fetcher.FindZIPMember(extracted, name)
		if !ok {
			path = filepath.Join(bundleDir, name)
		} else if !fetcher.IsUTF8(charset) {
			utf8, err := normalizer.Normalize([]model.LocalFile{{Source: bundle, Path: path}}, charset)
			if err != nil {
				return err
			}
			path = utf8[0].Path
		}

		pk, ok := dst.PrimaryKeyFor(materialize.MetaTablePrefix + dim)
		if !ok {
			pk, _ = dst.PrimaryKeyFor(dim)
		}
		table, written, err := mat.Metadata(ctx, materialize.MetadataRequest{
			Dimension:   dim,
			Path:        path,
			Incremental: dst.Incremental(),
			PrimaryKey:  pk,
		})
		if failure.Is(err, failure.MetadataFileMissing) {
			log.Warn("metadata file missing, skipping dimension", zap.String("dimension", dim), zap.String("file", name))
			res.MissingMetadata = append(res.MissingMetadata, dim)
			continue
		}
		if err != nil {
			return err
		}
		if !written {
			continue
		}
		if err := e.finish(ctx, log, runID, table, res); err != nil {
			return err
		}
	}
	return nil
}

// finish writes the manifest, records the table and mirrors it.
func (e *Extractor) finish(ctx context.Context, log *zap.Logger, runID string, table model.OutputTable, res *Result) error {
	if err := e.deps.DataDir.WriteManifest(table); err != nil {
		return err
	}
	res.Tables = append(res.Tables, table)

	if err := e.deps.RunLog.RecordTable(ctx, runID, table); err != nil {
		log.Error("failed to record table", zap.String("table", table.Name), zap.Error(err))
	}

	if e.deps.Mirror != nil {
		n, err := e.deps.Mirror.Load(ctx, table)
		if err != nil {
			return eris.Wrapf(err, "extractor: mirror table %s", table.Name)
		}
		res.MirroredRows += n
	}
	return nil
}
