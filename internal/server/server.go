// Package server exposes the analysis pipeline over HTTP: one endpoint
// per GitHub repository returning the rendered unsafe-usage chart, plus
// the operational endpoints.
package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/DCNick3/unsafe-track/internal/analysis"
	"github.com/DCNick3/unsafe-track/internal/gitwire"
	"github.com/DCNick3/unsafe-track/internal/observability"
	"github.com/DCNick3/unsafe-track/internal/plot"
)

const (
	// defaultPathFilter selects Rust sources.
	defaultPathFilter = `\.rs$`

	// defaultGitHubBase is where repository paths resolve to.
	defaultGitHubBase = "https://github.com"

	htmlContentType = "text/html; charset=utf-8"

	// noCache keeps charts fresh: every request is a full re-analysis
	// anyway.
	noCache = "no-cache"
)

// Server handles chart requests against a shared analysis pipeline.
type Server struct {
	pipeline *analysis.Pipeline
	metrics  *observability.Metrics

	// GitHubBase is the URL prefix repositories are fetched from.
	// Overridable for tests.
	GitHubBase string
}

// New creates a Server around pipeline, instrumented with metrics.
func New(pipeline *analysis.Pipeline, metrics *observability.Metrics) *Server {
	return &Server{
		pipeline:   pipeline,
		metrics:    metrics,
		GitHubBase: defaultGitHubBase,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /github/{owner}/{repo}", s.handleChart)
	mux.Handle("GET /healthz", observability.HealthHandler())
	mux.Handle("GET /readyz", observability.ReadyHandler())
	mux.Handle("GET /metrics", s.metrics.Handler())

	return mux
}

// runOutcome carries a detached pipeline run's result to the waiting
// handler.
type runOutcome struct {
	results []analysis.CommitResult
	stats   analysis.RunStats
	err     error
}

// chartParams is the parsed query of one chart request.
type chartParams struct {
	filter *regexp.Regexp
	x      plot.XCoord
	y      plot.YCoord
}

func parseChartParams(r *http.Request) (chartParams, error) {
	pattern := r.URL.Query().Get("path_filter")
	if pattern == "" {
		pattern = defaultPathFilter
	}

	filter, err := regexp.Compile(pattern)
	if err != nil {
		return chartParams{}, fmt.Errorf("bad path_filter: %w", err)
	}

	x, err := plot.ParseXCoord(r.URL.Query().Get("x_coord"))
	if err != nil {
		return chartParams{}, err
	}

	y, err := plot.ParseYCoord(r.URL.Query().Get("y_coord"))
	if err != nil {
		return chartParams{}, err
	}

	return chartParams{filter: filter, x: x, y: y}, nil
}

func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	owner, repo := r.PathValue("owner"), r.PathValue("repo")

	params, err := parseChartParams(r)
	if err != nil {
		s.metrics.ObserveRun(observability.OutcomeBadRequest, 0, 0, 0)
		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	repoURL := s.GitHubBase + "/" + owner + "/" + repo

	hitsBefore, missesBefore := s.pipeline.Cache.Stats()

	// The run is detached from the request context: an abandoning client
	// must not cancel the analysis, so the blob cache still warms for the
	// retry that usually follows. The handler waits for the outcome.
	done := make(chan runOutcome, 1)

	go func() {
		results, stats, runErr := s.pipeline.AnalyzeRepo(
			context.WithoutCancel(r.Context()), repoURL, params.filter)
		done <- runOutcome{results: results, stats: stats, err: runErr}
	}()

	outcome := <-done

	results, stats, err := outcome.results, outcome.stats, outcome.err
	if err != nil {
		s.failRun(w, repoURL, err)

		return
	}

	hitsAfter, missesAfter := s.pipeline.Cache.Stats()
	s.metrics.ObserveCache(hitsAfter-hitsBefore, missesAfter-missesBefore)
	s.metrics.ObserveRun(observability.OutcomeOK, stats.Duration, stats.PackBytes, stats.BlobsAnalyzed)

	// Render into memory first so a chart failure can still produce a
	// clean 500 instead of a torn page.
	var page bytes.Buffer

	err = plot.RenderHTML(&page, owner+"/"+repo, results, params.x, params.y)
	if err != nil {
		slog.Error("chart render failed", "repo", repoURL, "error", err)
		http.Error(w, "chart render failed", http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", htmlContentType)
	w.Header().Set("Cache-Control", noCache)

	_, err = w.Write(page.Bytes())
	if err != nil {
		slog.Debug("client went away mid-response", "repo", repoURL, "error", err)
	}
}

// failRun maps a pipeline error to a response and an outcome label.
func (s *Server) failRun(w http.ResponseWriter, repoURL string, err error) {
	slog.Error("analysis run failed", "repo", repoURL, "error", err)

	outcome := observability.OutcomeError
	status := http.StatusInternalServerError
	message := "analysis failed"

	if isFetchError(err) {
		outcome = observability.OutcomeFetchError
		status = http.StatusBadGateway
		message = "repository fetch failed"
	}

	s.metrics.ObserveRun(outcome, 0, 0, 0)
	http.Error(w, message, status)
}

func isFetchError(err error) bool {
	return errors.Is(err, gitwire.ErrBadStatus) ||
		errors.Is(err, gitwire.ErrHeadNotFound) ||
		errors.Is(err, gitwire.ErrBadAdvertisement) ||
		errors.Is(err, gitwire.ErrPackTooLarge) ||
		errors.Is(err, gitwire.ErrNoNAK)
}
