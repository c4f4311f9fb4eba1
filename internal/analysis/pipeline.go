package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/DCNick3/unsafe-track/internal/gitobj"
	"github.com/DCNick3/unsafe-track/internal/gitwire"
	"github.com/DCNick3/unsafe-track/internal/history"
	"github.com/DCNick3/unsafe-track/internal/pack"
)

// tracerName identifies pipeline spans.
const tracerName = "unsafe-track/analysis"

// RunStats describes one completed pipeline run.
type RunStats struct {
	PackBytes     int64
	Objects       int
	Commits       int
	BlobsAnalyzed int
	Duration      time.Duration
}

// Pipeline wires the fetch, decode, plan, and analyze stages together.
// A single Pipeline is shared across runs: the result cache carries
// per-blob outcomes from one repository to the next.
type Pipeline struct {
	Client   *gitwire.Client
	Analyzer Analyzer
	Cache    *ResultCache
}

// NewPipeline creates a pipeline around the given analyzer with a
// default fetch client and result cache.
func NewPipeline(analyzer Analyzer, cacheEntries int) *Pipeline {
	return &Pipeline{
		Client:   gitwire.NewClient(),
		Analyzer: analyzer,
		Cache:    NewResultCache(cacheEntries),
	}
}

// AnalyzeRepo fetches repoURL's HEAD history, analyzes every blob whose
// path matches filter, and returns the chronological per-commit series.
// The whole pack is fetched and decoded per call; only blob analysis
// outcomes are memoized across calls.
func (p *Pipeline) AnalyzeRepo(
	ctx context.Context,
	repoURL string,
	filter history.PathFilter,
) ([]CommitResult, RunStats, error) {
	started := time.Now()

	ctx, span := otel.Tracer(tracerName).Start(ctx, "AnalyzeRepo",
		trace.WithAttributes(attribute.String("repo.url", repoURL)))
	defer span.End()

	bundle, packBytes, err := p.fetchBundle(ctx, repoURL)
	if err != nil {
		return nil, RunStats{}, err
	}

	plan, err := p.planHistory(ctx, bundle, filter)
	if err != nil {
		return nil, RunStats{}, err
	}

	blobs, err := p.analyze(ctx, bundle, plan)
	if err != nil {
		return nil, RunStats{}, err
	}

	results := buildResults(plan, blobs)

	stats := RunStats{
		PackBytes:     packBytes,
		Objects:       bundle.Count(),
		Commits:       len(results),
		BlobsAnalyzed: len(blobs),
		Duration:      time.Since(started),
	}

	slog.Info("analysis complete",
		"repo", repoURL,
		"commits", stats.Commits,
		"blobs", stats.BlobsAnalyzed,
		"took", stats.Duration)

	return results, stats, nil
}

// fetchBundle downloads the pack into a temporary file and indexes it.
// The file is unlinked before this returns; the bundle holds the pack
// contents in memory.
func (p *Pipeline) fetchBundle(ctx context.Context, repoURL string) (*pack.Bundle, int64, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "fetchBundle")
	defer span.End()

	sink, err := os.CreateTemp("", "unsafe-track-*.pack")
	if err != nil {
		return nil, 0, fmt.Errorf("create pack temp file: %w", err)
	}

	defer func() {
		sink.Close()
		os.Remove(sink.Name())
	}()

	size, err := p.Client.FetchPack(ctx, repoURL, sink)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch %s: %w", repoURL, err)
	}

	slog.Info("pack downloaded", "repo", repoURL, "size", humanize.Bytes(uint64(size)))

	bundle, err := pack.NewBundle(sink)
	if err != nil {
		return nil, 0, fmt.Errorf("decode pack of %s: %w", repoURL, err)
	}

	span.SetAttributes(
		attribute.Int64("pack.bytes", size),
		attribute.Int("pack.objects", bundle.Count()),
	)

	return bundle, size, nil
}

func (p *Pipeline) planHistory(ctx context.Context, bundle *pack.Bundle, filter history.PathFilter) (*history.Plan, error) {
	_, span := otel.Tracer(tracerName).Start(ctx, "planHistory")
	defer span.End()

	plan, err := history.BuildPlan(bundle, filter)
	if err != nil {
		return nil, fmt.Errorf("plan history: %w", err)
	}

	span.SetAttributes(
		attribute.Int("plan.commits", len(plan.Commits)),
		attribute.Int("plan.blobs", len(plan.InterestingBlobs)),
	)

	return plan, nil
}

func (p *Pipeline) analyze(ctx context.Context, bundle *pack.Bundle, plan *history.Plan) (map[gitobj.Hash]BlobResult, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "analyzeBlobs")
	defer span.End()

	blobs, err := analyzeBlobs(ctx, bundle, plan.InterestingBlobs, p.Analyzer, p.Cache)
	if err != nil {
		return nil, fmt.Errorf("analyze blobs: %w", err)
	}

	return blobs, nil
}
