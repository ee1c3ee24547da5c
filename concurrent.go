package recon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/afero"
)

// Job represents a file to be checked
type Job struct {
	Path         string
	LanguageKind string
}

// Result holds the outcome of checking one file
type Result struct {
	Path     string
	Snapshot Snapshot
	Problems []Problem
	Error    error
}

// Checker runs an Analyzer over files on disk with a worker pool.
type Checker struct {
	analyzer    Analyzer
	cfg         Config
	logger      *slog.Logger
	fs          afero.Fs
	cache       ProblemStore
	workerCount int
	bufferSize  int
	progress    ProgressReporter
	stats       *CheckStats
}

// CheckStats tracks performance metrics
type CheckStats struct {
	filesProcessed atomic.Uint64
	totalFiles     atomic.Uint64
	cacheHits      atomic.Uint64
	startTime      time.Time
	endTime        time.Time
}

// ProgressReporter interface for progress updates
type ProgressReporter interface {
	StartFile(path string)
	CompleteFile(path string, problems int)
	UpdateProgress(current, total int)
	Complete(stats *CheckStats)
}

// NoOpProgressReporter is a no-op implementation
type NoOpProgressReporter struct{}

func (n *NoOpProgressReporter) StartFile(path string)                  {}
func (n *NoOpProgressReporter) CompleteFile(path string, problems int) {}
func (n *NoOpProgressReporter) UpdateProgress(current, total int)      {}
func (n *NoOpProgressReporter) Complete(stats *CheckStats)             {}

// LogProgressReporter writes progress to a logger at debug level
type LogProgressReporter struct {
	logger *slog.Logger
}

// NewLogProgressReporter creates a reporter logging to logger
func NewLogProgressReporter(logger *slog.Logger) *LogProgressReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogProgressReporter{logger: logger}
}

func (l *LogProgressReporter) StartFile(path string) {
	l.logger.Debug("Checking file", "path", path)
}

func (l *LogProgressReporter) CompleteFile(path string, problems int) {
	l.logger.Debug("Checked file", "path", path, "problems", problems)
}

func (l *LogProgressReporter) UpdateProgress(current, total int) {
	l.logger.Debug("Check progress", "current", current, "total", total)
}

func (l *LogProgressReporter) Complete(stats *CheckStats) {
	l.logger.Debug("Check complete",
		"files", stats.FilesProcessed(),
		"cache_hits", stats.CacheHits(),
		"files_per_second", stats.FilesPerSecond())
}

// Option is a functional option for Checker
type Option func(*Checker) error

// WithWorkerCount sets the number of worker goroutines
func WithWorkerCount(count int) Option {
	return func(c *Checker) error {
		if count < 1 {
			return fmt.Errorf("worker count must be at least 1, got %d", count)
		}
		c.workerCount = count
		return nil
	}
}

// WithBufferSize sets the job buffer size
func WithBufferSize(size int) Option {
	return func(c *Checker) error {
		if size < 1 {
			return fmt.Errorf("buffer size must be at least 1, got %d", size)
		}
		c.bufferSize = size
		return nil
	}
}

// WithProgressReporter sets a progress reporter
func WithProgressReporter(reporter ProgressReporter) Option {
	return func(c *Checker) error {
		c.progress = reporter
		return nil
	}
}

// WithCache makes the checker reuse results of unchanged files
func WithCache(store ProblemStore) Option {
	return func(c *Checker) error {
		c.cache = store
		return nil
	}
}

// NewChecker creates a new checker with options
func NewChecker(cfg Config, analyzer Analyzer, logger *slog.Logger, fs afero.Fs, opts ...Option) (*Checker, error) {
	if analyzer == nil {
		return nil, errors.New("checker needs an analyzer")
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}

	c := &Checker{
		analyzer:    analyzer,
		cfg:         cfg,
		logger:      ensureLogger(logger),
		fs:          fs,
		workerCount: runtime.NumCPU(),
		bufferSize:  100,
		progress:    &NoOpProgressReporter{},
		stats:       &CheckStats{},
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// Stats returns the statistics of the last run.
func (c *Checker) Stats() *CheckStats {
	return c.stats
}

// Check analyzes every file below path whose language is known.
func (c *Checker) Check(ctx context.Context, path string) (*Report, error) {
	c.stats = &CheckStats{startTime: time.Now()}

	files, err := c.collectFiles(ctx, path)
	if err != nil {
		return nil, err
	}

	c.stats.totalFiles.Store(uint64(len(files)))
	c.progress.UpdateProgress(0, len(files))

	report, err := c.processFilesConcurrently(ctx, files)
	if err != nil {
		return nil, err
	}

	c.stats.endTime = time.Now()
	c.progress.Complete(c.stats)

	report.Sort()
	return report, nil
}

// collectFiles walks the directory and collects the files with a language
func (c *Checker) collectFiles(ctx context.Context, root string) ([]Job, error) {
	var files []Job

	err := afero.Walk(c.fs, root, func(filePath string, info os.FileInfo, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil {
			c.logger.Error("Failed walk", slog.String("file", filePath), slog.String("error", err.Error()))
			return nil
		}

		if info.IsDir() {
			if filePath != root && (strings.HasPrefix(info.Name(), ".") || info.Name() == "vendor") {
				return filepath.SkipDir
			}
			return nil
		}

		kind := c.cfg.LanguageFor(RelPath(root, filePath))
		if kind == "" {
			kind = c.cfg.LanguageFor(filePath)
		}
		if kind == "" {
			return nil
		}

		files = append(files, Job{Path: NormalizePath(filePath), LanguageKind: kind})
		return nil
	})
	if err != nil {
		return nil, NewFSError("failed to walk path", err).WithFile(root)
	}

	return files, nil
}

// processFilesConcurrently processes files using a worker pool
func (c *Checker) processFilesConcurrently(ctx context.Context, files []Job) (*Report, error) {
	jobs := make(chan Job, c.bufferSize)
	results := make(chan Result, c.bufferSize)

	var wg sync.WaitGroup
	for i := 0; i < c.workerCount; i++ {
		wg.Add(1)
		go c.worker(ctx, &wg, jobs, results)
	}

	report := NewReport()
	collectorDone := make(chan struct{})
	go c.collectResults(report, results, collectorDone)

	go func() {
		defer close(jobs)
		for _, file := range files {
			select {
			case <-ctx.Done():
				return
			case jobs <- file:
			}
		}
	}()

	wg.Wait()
	close(results)
	<-collectorDone

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	return report, nil
}

// worker processes jobs from the job channel
func (c *Checker) worker(ctx context.Context, wg *sync.WaitGroup, jobs <-chan Job, results chan<- Result) {
	defer wg.Done()

	for job := range jobs {
		if ctx.Err() != nil {
			results <- Result{Path: job.Path, Error: ctx.Err()}
			return
		}

		c.progress.StartFile(job.Path)
		snapshot, problems, err := c.checkFile(ctx, job)
		if err != nil {
			c.logger.Error("Failed to check file",
				slog.String("file", job.Path),
				slog.String("error", err.Error()))
			results <- Result{Path: job.Path, Error: err}
			continue
		}

		c.progress.CompleteFile(job.Path, len(problems))
		c.stats.filesProcessed.Add(1)

		current := c.stats.filesProcessed.Load()
		total := c.stats.totalFiles.Load()
		c.progress.UpdateProgress(int(current), int(total))

		results <- Result{Path: job.Path, Snapshot: snapshot, Problems: problems}
	}
}

// collectResults collects results from workers
func (c *Checker) collectResults(report *Report, results <-chan Result, done chan<- struct{}) {
	for result := range results {
		if result.Error != nil {
			continue // Error already logged in worker
		}
		report.AddFile(result.Path, result.Snapshot, result.Problems)
	}

	close(done)
}

// checkFile analyzes a single file, consulting the cache first
func (c *Checker) checkFile(ctx context.Context, job Job) (Snapshot, []Problem, error) {
	content, err := afero.ReadFile(c.fs, job.Path)
	if err != nil {
		return Snapshot{}, nil, NewFSError("failed to read file", err).WithFile(job.Path)
	}
	snapshot := NewSnapshot(PathToURI(job.Path), job.LanguageKind, 1, string(content))

	if c.cache != nil {
		problems, err := c.cache.Lookup(job.Path)
		if err == nil {
			c.stats.cacheHits.Add(1)
			return snapshot, problems, nil
		}
		if !errors.Is(err, ErrEntryNotFound) {
			c.logger.Warn("Ignoring unreadable cache entry", "file", job.Path, "error", err)
		}
	}

	var list problemList
	if err := c.analyzer.Reconcile(ctx, snapshot, &list); err != nil {
		return Snapshot{}, nil, NewAnalysisError("analyzer failed", err).WithFile(job.Path)
	}
	problems := list.result()

	if c.cache != nil {
		if err := c.cache.Store(job.Path, problems); err != nil {
			c.logger.Warn("Failed to cache problems", "file", job.Path, "error", err)
		}
	}

	return snapshot, problems, nil
}

// problemList is the collector used for batch checks. Checkpoints are
// meaningless without a client, so only the final set is kept.
type problemList struct {
	current []Problem
	final   []Problem
	ended   bool
}

func (l *problemList) BeginCollecting() { l.current = nil }
func (l *problemList) Accept(p Problem) { l.current = append(l.current, p) }
func (l *problemList) Checkpoint()      {}

func (l *problemList) EndCollecting() {
	l.final = l.current
	l.ended = true
}

func (l *problemList) result() []Problem {
	if !l.ended {
		return l.current
	}
	return l.final
}

// Duration returns the time taken for the last check
func (s *CheckStats) Duration() time.Duration {
	if s.endTime.IsZero() {
		return time.Since(s.startTime)
	}
	return s.endTime.Sub(s.startTime)
}

// FilesPerSecond returns the processing rate
func (s *CheckStats) FilesPerSecond() float64 {
	duration := s.Duration().Seconds()
	if duration == 0 {
		return 0
	}
	return float64(s.filesProcessed.Load()) / duration
}

// FilesProcessed returns the number of files analyzed or read from the cache
func (s *CheckStats) FilesProcessed() int {
	return int(s.filesProcessed.Load())
}

// CacheHits returns the number of files served from the cache
func (s *CheckStats) CacheHits() int {
	return int(s.cacheHits.Load())
}
