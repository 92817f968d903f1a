/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: generate.go
Description: Generate command. Loads the ruleset and Markov model, sets up the guess
queue with its optional overflow store, streams guesses to the output and records the
run in the session database so it can be resumed.
*/

package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/kleascm/akaylee-pcfg/pkg/core"
	"github.com/kleascm/akaylee-pcfg/pkg/grammar"
	"github.com/kleascm/akaylee-pcfg/pkg/logging"
	"github.com/kleascm/akaylee-pcfg/pkg/markov"
	"github.com/kleascm/akaylee-pcfg/pkg/output"
	"github.com/kleascm/akaylee-pcfg/pkg/overflow"
	"github.com/kleascm/akaylee-pcfg/pkg/session"
	"github.com/kleascm/akaylee-pcfg/pkg/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Overflow backends
const (
	BackendMemory = "memory"
	BackendBadger = "badger"
)

// OverflowOptions selects and sizes the overflow store
type OverflowOptions struct {
	Enabled bool
	Backend string
	Store   overflow.Config
}

// GenerateOptions holds everything one generation run needs
type GenerateOptions struct {
	Rules         string
	NoMarkov      bool
	Session       string // Record the run under this name, empty for an unrecorded run
	Load          bool   // Resume Session instead of creating it
	SessionDir    string
	Queue         core.QueueConfig
	Engine        core.EngineConfig
	Overflow      OverflowOptions
	OutputPath    string
	Output        output.Config
	MetricsAddr   string
	StatsInterval time.Duration
	ReportDir     string // Write a JSON run report here when set
}

// generateOptions reads the generate settings from viper
func generateOptions() GenerateOptions {
	return GenerateOptions{
		Rules:      viper.GetString("rules"),
		NoMarkov:   viper.GetBool("no_markov"),
		Session:    viper.GetString("session"),
		Load:       viper.GetBool("load"),
		SessionDir: viper.GetString("session_dir"),
		Queue: core.QueueConfig{
			MaxQueueSize:  viper.GetInt("max_queue_size"),
			EvictFraction: viper.GetFloat64("evict_fraction"),
			VerifyUnique:  viper.GetBool("verify_unique"),
		},
		Engine: core.EngineConfig{
			ChannelSize: viper.GetInt("channel_size"),
			Limit:       viper.GetInt64("limit"),
		},
		Overflow: OverflowOptions{
			Enabled: viper.GetBool("overflow.enabled"),
			Backend: viper.GetString("overflow.backend"),
			Store: overflow.Config{
				MaxSize:   viper.GetInt("overflow.max_size"),
				BatchSize: viper.GetInt("overflow.batch_size"),
			},
		},
		OutputPath: viper.GetString("output"),
		Output: output.Config{
			MaxRate: viper.GetFloat64("max_rate"),
		},
		MetricsAddr:   viper.GetString("metrics_addr"),
		StatsInterval: viper.GetDuration("stats_interval"),
		ReportDir:     viper.GetString("report_dir"),
	}
}

// RunGenerate executes the generate command
func RunGenerate(cmd *cobra.Command, args []string) error {
	logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Close()

	// A closed pipe surfaces as EPIPE from the writer instead of killing the process
	signal.Ignore(syscall.SIGPIPE)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := Generate(ctx, generateOptions(), logger); err != nil {
		if core.IsInvariantViolation(err) {
			logger.GetLogger().WithError(err).Error("QUEUE invariant violated, stopping")
		}
		return err
	}
	return nil
}

// Generate performs one generation run and records it in the session database when a
// session name is given
func Generate(ctx context.Context, opts GenerateOptions, logger *logging.Logger) (*core.Result, error) {
	log := logger.GetLogger()

	var (
		sessions *session.Store
		sess     *session.Session
		snap     *core.Snapshot
	)
	if opts.Load && opts.Session == "" {
		return nil, fmt.Errorf("--load needs a session name")
	}
	if opts.Session != "" {
		store, err := openSessions(opts.SessionDir)
		if err != nil {
			return nil, err
		}
		defer store.Close()
		sessions = store

		sess, snap, err = openSession(ctx, store, &opts, log)
		if err != nil {
			return nil, err
		}
		if sess.Status == session.StatusExhausted {
			logger.LogSession(sess.ID, sess.Name, "already exhausted", sess.Guesses)
			return &core.Result{Exhausted: true, Reason: core.StopExhausted, Guesses: sess.Guesses}, nil
		}
	}
	if opts.Rules == "" {
		return nil, fmt.Errorf("no ruleset given (use --rules)")
	}

	rs, model, err := loadRuleset(opts.Rules, opts.NoMarkov, log)
	if err != nil {
		return nil, err
	}
	g := rs.Grammar

	// A snapshot only restores into the overflow mode it was taken in
	if snap != nil && snap.Queue.Stored != opts.Overflow.Enabled {
		log.WithField("overflow", snap.Queue.Stored).Warn("SESSION overflow mode taken from the saved session")
		opts.Overflow.Enabled = snap.Queue.Stored
	}

	var store core.OverflowStore
	if opts.Overflow.Enabled {
		s, closeStore, err := startOverflow(opts, sess, log)
		if err != nil {
			return nil, err
		}
		defer closeStore()
		store = s
	}

	stats := core.NewStats()
	var queue *core.GuessQueue
	if snap != nil {
		queue, err = core.RestoreGuessQueue(ctx, g, opts.Queue, store, stats, log, snap.Queue)
		if err != nil {
			return nil, fmt.Errorf("failed to restore session queue: %w", err)
		}
	} else {
		queue = core.NewGuessQueue(g, opts.Queue, store, stats, log)
	}

	out, err := output.Open(opts.OutputPath, opts.Output)
	if err != nil {
		return nil, err
	}

	engine := core.NewEngine(g, model, queue, out, opts.Engine, stats, log)
	if snap != nil {
		if err := engine.Resume(snap); err != nil {
			out.Close()
			return nil, fmt.Errorf("failed to resume session: %w", err)
		}
	}

	reporter := core.NewLoggerReporter(log)
	queue.AddReporter(reporter)
	engine.AddReporter(reporter)

	if opts.MetricsAddr != "" {
		metrics, shutdown, err := serveMetrics(opts.MetricsAddr, log)
		if err != nil {
			out.Close()
			return nil, err
		}
		defer shutdown()
		queue.AddReporter(metrics)
		engine.AddReporter(metrics)
	}

	if sess != nil {
		event := "started"
		if snap != nil {
			event = "resumed"
		}
		sess.Status = session.StatusRunning
		if err := sessions.Save(ctx, sess); err != nil {
			out.Close()
			return nil, err
		}
		logger.LogSession(sess.ID, sess.Name, event, sess.Guesses)
	}

	tickCtx, stopTicker := context.WithCancel(ctx)
	tickDone := make(chan struct{})
	go func() {
		defer close(tickDone)
		reportStats(tickCtx, opts.StatsInterval, stats, store, logger)
	}()

	result, runErr := engine.Run(ctx)

	stopTicker()
	<-tickDone
	if err := out.Close(); err != nil && runErr == nil && !core.IsConsumerClosed(err) {
		runErr = fmt.Errorf("failed to close output: %w", err)
	}

	logger.LogStats(stats.Snapshot())
	if sess != nil {
		if err := saveSession(sessions, sess, result, runErr); err != nil {
			if runErr != nil {
				log.WithError(err).Error("SESSION failed to record the failed run")
			} else {
				runErr = err
			}
		}
		logger.LogSession(sess.ID, sess.Name, string(sess.Status), sess.Guesses)
	}
	if runErr != nil {
		return nil, runErr
	}

	if opts.ReportDir != "" {
		report := utils.RunReport{
			Ruleset:        opts.Rules,
			GrammarVersion: g.Version(),
			NoMarkov:       opts.NoMarkov,
			Reason:         result.Reason,
			Guesses:        result.Guesses,
			Stats:          stats.Snapshot(),
		}
		if sess != nil {
			report.Session = sess.Name
		}
		if store != nil {
			if status, err := store.Status(context.Background()); err == nil {
				report.Overflow = &status
			}
		}
		path, err := utils.WriteRunReport(opts.ReportDir, report)
		if err != nil {
			return nil, err
		}
		log.WithField("report", path).Info("run report written")
	}

	log.WithFields(logrus.Fields{
		"reason":  result.Reason,
		"guesses": result.Guesses,
	}).Info("generation finished")
	return result, nil
}

// openSession creates the named session, or loads it for resuming. Loading takes the
// ruleset and Markov setting from the saved session.
func openSession(ctx context.Context, store *session.Store, opts *GenerateOptions, log *logrus.Logger) (*session.Session, *core.Snapshot, error) {
	if !opts.Load {
		if opts.Rules == "" {
			return nil, nil, fmt.Errorf("no ruleset given (use --rules)")
		}
		rules, err := filepath.Abs(opts.Rules)
		if err != nil {
			return nil, nil, err
		}
		sess, err := store.Create(ctx, opts.Session, rules, opts.NoMarkov)
		if errors.Is(err, session.ErrExists) {
			return nil, nil, fmt.Errorf("%w (use --load to resume it)", err)
		}
		return sess, nil, err
	}

	sess, err := store.Get(ctx, opts.Session)
	if err != nil {
		return nil, nil, err
	}
	if opts.Rules != "" {
		rules, err := filepath.Abs(opts.Rules)
		if err != nil {
			return nil, nil, err
		}
		if rules != sess.Ruleset {
			return nil, nil, fmt.Errorf("session %s was created with ruleset %s, not %s", sess.Name, sess.Ruleset, rules)
		}
	}
	opts.Rules = sess.Ruleset
	if opts.NoMarkov != sess.NoMarkov {
		log.WithField("no_markov", sess.NoMarkov).Warn("SESSION markov setting taken from the saved session")
		opts.NoMarkov = sess.NoMarkov
	}

	switch {
	case sess.Status == session.StatusExhausted:
		return sess, nil, nil
	case sess.Status == session.StatusRunning:
		log.WithField("name", sess.Name).Warn("SESSION previous run did not finish cleanly, resuming from its last save")
	case sess.Status == session.StatusFailed:
		log.WithField("name", sess.Name).Warn("SESSION previous run failed, resuming from its last save")
	}
	if !sess.Resumable() {
		log.WithField("name", sess.Name).Warn("SESSION has no saved position, starting from the beginning")
		sess.Guesses = 0
		return sess, nil, nil
	}
	return sess, sess.Snapshot, nil
}

// saveSession records how the run ended. A failed run keeps the last good snapshot.
func saveSession(store *session.Store, sess *session.Session, result *core.Result, runErr error) error {
	switch {
	case runErr != nil:
		sess.Status = session.StatusFailed
	case result.Exhausted:
		sess.Status = session.StatusExhausted
		sess.Snapshot = nil
		sess.Guesses = result.Guesses
	default:
		sess.Status = session.StatusStopped
		sess.Snapshot = result.Snapshot
		sess.Guesses = result.Guesses
	}
	// The run context may already be cancelled by a signal
	return store.Save(context.Background(), sess)
}

// loadRuleset loads the grammar and, when it has Markov rules, the n-gram model
func loadRuleset(dir string, noMarkov bool, log *logrus.Logger) (*grammar.Ruleset, *markov.Model, error) {
	rs, err := grammar.Load(dir, grammar.LoadOptions{DisableMarkov: noMarkov})
	if err != nil {
		return nil, nil, err
	}
	gs := rs.Grammar.Stats()
	log.WithFields(logrus.Fields{
		"ruleset":       dir,
		"version":       rs.Grammar.Version(),
		"non_terminals": gs.NonTerminals,
		"replacements":  gs.Replacements,
		"values":        gs.Values,
		"no_markov":     noMarkov,
	}).Info("GRAMMAR loaded")

	if !rs.Grammar.HasMarkov() {
		return rs, nil, nil
	}
	omen := rs.OmenDir()
	if omen == "" {
		return nil, nil, &grammar.LoadError{
			Stage: grammar.StageManifest,
			File:  filepath.Join(dir, grammar.ManifestFile),
			Err:   fmt.Errorf("grammar has Markov rules but names no omen directory"),
		}
	}
	model, err := markov.Load(omen)
	if err != nil {
		return nil, nil, err
	}
	ms := model.Stats()
	log.WithFields(logrus.Fields{
		"ngram":       ms.Ngram,
		"alphabet":    ms.Alphabet,
		"transitions": ms.Transitions,
		"min_length":  ms.MinLength,
		"max_length":  ms.MaxLength,
	}).Info("MARKOV model loaded")
	if ms.Skipped > 0 {
		log.WithFields(logrus.Fields{
			"skipped": ms.Skipped,
			"ngram":   ms.Ngram,
		}).Debug("MARKOV ignored length entries shorter than the n-gram prefix")
	}
	return rs, model, nil
}

// startOverflow opens the configured backend and starts the store goroutine. The
// returned func stops the goroutine and closes the backend.
func startOverflow(opts GenerateOptions, sess *session.Session, log *logrus.Logger) (*overflow.Store, func(), error) {
	var (
		backend overflow.Backend
		cleanup = func() {}
	)
	switch opts.Overflow.Backend {
	case "", BackendMemory:
		backend = overflow.NewMemoryBackend()
	case BackendBadger:
		var dir string
		if sess != nil {
			dir = filepath.Join(opts.SessionDir, "overflow", sess.ID)
		} else {
			tmp, err := os.MkdirTemp("", "pcfg-overflow-")
			if err != nil {
				return nil, nil, fmt.Errorf("failed to create overflow directory: %w", err)
			}
			dir = tmp
			cleanup = func() { os.RemoveAll(tmp) }
		}
		b, err := overflow.OpenBadger(overflow.BadgerConfig{Dir: dir}, log)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		backend = b
	default:
		return nil, nil, fmt.Errorf("unknown overflow backend %q (want %s or %s)", opts.Overflow.Backend, BackendMemory, BackendBadger)
	}

	store := overflow.NewStore(backend, opts.Overflow.Store, log)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = store.Run(ctx)
	}()
	log.WithField("backend", opts.Overflow.Backend).Info("OVERFLOW store started")

	return store, func() {
		cancel()
		<-done
		if err := store.Close(); err != nil {
			log.WithError(err).Warn("OVERFLOW failed to close store")
		}
		cleanup()
	}, nil
}

// serveMetrics exposes generation metrics over HTTP on addr
func serveMetrics(addr string, log *logrus.Logger) (*core.PrometheusReporter, func(), error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	reporter := core.NewPrometheusReporter(registry)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to listen for metrics: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Warn("metrics server stopped")
		}
	}()
	log.WithField("addr", listener.Addr().String()).Info("serving metrics")

	return reporter, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}, nil
}

// reportStats logs progress every interval until ctx is done
func reportStats(ctx context.Context, interval time.Duration, stats *core.Stats, store core.OverflowStore, logger *logging.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logger.LogStats(stats.Snapshot())
			if store == nil {
				continue
			}
			if status, err := store.Status(ctx); err == nil {
				logger.LogOverflow(status)
			}
		}
	}
}
