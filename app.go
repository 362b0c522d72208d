package main

import (
	"context"
	"errors"
	"io"
	"time"

	"go.uber.org/zap"

	"comfyclient/artifacts"
	"comfyclient/comfyapi"
	"comfyclient/core"
	"comfyclient/ledger"
	"comfyclient/logging"
	"comfyclient/shutdown"
)

// app holds what a command needs for one invocation: configuration, the
// API client, the optional ledger and the shutdown manager that owns
// cancellation and cleanup.
type app struct {
	cfg     *core.Config
	logger  *logging.Logger
	client  *comfyapi.Client
	ledger  *ledger.Ledger
	manager *shutdown.Manager
	stdout  io.Writer
}

// generation is the outcome of one prompt.
type generation struct {
	handle  comfyapi.JobHandle
	stored  []artifacts.StoredArtifact
	elapsed time.Duration
}

func newApp(opts *RootOptions, stdout io.Writer) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	level := logging.ParseLogLevelString(cfg.LogLevel, logging.DefaultLevel(cfg.DevMode))
	logger, err := logging.NewLoggerWithLevel(cfg.DevMode, cfg.LogFile, level)
	if err != nil {
		return nil, wrapExitError(core.ExitCodeError, "failed to initialize logger", err)
	}

	logger.Debug("configuration loaded",
		zap.String("server", cfg.ServerAddress),
		logging.ClientID(cfg.ClientID),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Duration("job_timeout", cfg.JobTimeout),
		zap.Duration("ping_interval", cfg.PingInterval),
		zap.String("output_dir", cfg.OutputDir),
		zap.String("ledger", cfg.LedgerPath),
		zap.Bool("allow_self_signed_certs", cfg.AllowSelfSignedCerts),
	)

	client, err := comfyapi.NewClientFromConfig(cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		client:  client,
		manager: shutdown.NewManager(logger),
		stdout:  stdout,
	}

	a.manager.Register("disconnect", shutdown.PriorityDisconnect, func(ctx context.Context) error {
		return client.Disconnect()
	})
	a.manager.Register("partial artifacts", shutdown.PriorityTempFiles,
		shutdown.CleanupPartialArtifacts(logger, cfg.OutputDir))
	a.manager.Register("logger", shutdown.PriorityLogger, func(ctx context.Context) error {
		// Syncing a console writer fails on some platforms; nothing to report.
		_ = logger.Sync()
		return nil
	})
	a.manager.Start()
	return a, nil
}

// loadConfig reads the environment and applies command line overrides.
func loadConfig(opts *RootOptions) (*core.Config, error) {
	cfg, err := core.LoadConfig()
	if err != nil {
		return nil, err
	}

	if opts.Server != "" {
		cfg.ServerAddress = opts.Server
	}
	if opts.OutputDir != "" {
		cfg.OutputDir = opts.OutputDir
	}
	if opts.NoLedger {
		cfg.LedgerPath = ""
	}
	if opts.Verbose {
		cfg.LogLevel = "debug"
	}
	if opts.timeoutSet {
		cfg.JobTimeout = opts.Timeout
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openLedger opens the job ledger when one is configured. Commands that
// only talk to the server never call it.
func (a *app) openLedger() error {
	if !a.cfg.HasLedger() || a.ledger != nil {
		return nil
	}

	l, err := ledger.Open(a.cfg.LedgerPath, a.logger)
	if err != nil {
		return wrapExitError(core.ExitCodeError, "failed to open job ledger", err)
	}
	a.ledger = l
	a.manager.Register("ledger", shutdown.PriorityLedger, func(ctx context.Context) error {
		return l.Close()
	})
	return nil
}

// close runs the cleanup steps.
func (a *app) close() {
	if err := a.manager.Shutdown(); err != nil {
		a.logger.Warn("cleanup incomplete", zap.Error(err))
	}
}

// jobContext is cancelled by a signal or, when configured, by the job
// timeout.
func (a *app) jobContext() (context.Context, context.CancelFunc) {
	ctx := a.manager.Context()
	if a.cfg.JobTimeout > 0 {
		return context.WithTimeout(ctx, a.cfg.JobTimeout)
	}
	return context.WithCancel(ctx)
}

// generate submits prompt, waits for it, saves its images and records the
// outcome in the ledger.
func (a *app) generate(prompt comfyapi.Prompt) (*generation, error) {
	if err := a.openLedger(); err != nil {
		return nil, err
	}

	ctx, cancel := a.jobContext()
	defer cancel()
	start := time.Now()

	if err := a.client.Connect(ctx); err != nil {
		return nil, err
	}

	job, err := a.client.Submit(ctx, prompt)
	if err != nil {
		return nil, err
	}
	defer job.Close()

	promptID := job.Handle.PromptID
	a.recordSubmitted(ctx, job.Handle)

	var stored []artifacts.StoredArtifact
	err = a.manager.RunJob(ctx, "prompt "+promptID, job.Wait)
	if err == nil {
		stored, err = a.collect(ctx, promptID)
	}
	a.recordOutcome(ctx, promptID, stored, err)
	if err != nil {
		return nil, err
	}

	return &generation{handle: job.Handle, stored: stored, elapsed: time.Since(start)}, nil
}

// fetch saves the images of a prompt queued earlier, optionally waiting
// for it to finish first.
func (a *app) fetch(promptID string, wait bool) (*generation, error) {
	if err := a.openLedger(); err != nil {
		return nil, err
	}

	ctx, cancel := a.jobContext()
	defer cancel()
	start := time.Now()

	handle := comfyapi.JobHandle{PromptID: promptID}
	completed := false
	if a.ledger != nil {
		job, err := a.ledger.GetJob(ctx, promptID)
		switch {
		case err == nil:
			handle.Number = job.Number
			completed = job.Status == ledger.StatusCompleted
		case errors.Is(err, ledger.ErrJobNotFound):
			a.recordSubmitted(ctx, handle)
		default:
			a.logger.Warn("ledger lookup failed", logging.PromptID(promptID), zap.Error(err))
		}
	}

	if wait {
		if err := a.client.Connect(ctx); err != nil {
			return nil, err
		}
		err := a.manager.RunJob(ctx, "prompt "+promptID, func(ctx context.Context) error {
			return a.client.WaitForCompletion(ctx, promptID)
		})
		if err != nil {
			if !completed {
				a.recordOutcome(ctx, promptID, nil, err)
			}
			return nil, err
		}
	}

	stored, err := a.collect(ctx, promptID)
	if completed {
		// The job finished on an earlier run; a fetch only refreshes its
		// artifacts and never changes its status.
		a.recordArtifacts(ctx, promptID, stored)
	} else {
		a.recordOutcome(ctx, promptID, stored, err)
	}
	if err != nil {
		return nil, err
	}
	return &generation{handle: handle, stored: stored, elapsed: time.Since(start)}, nil
}

// collect retrieves every output image of a finished prompt and stores it
// under the output directory.
func (a *app) collect(ctx context.Context, promptID string) ([]artifacts.StoredArtifact, error) {
	outputs, order, err := a.client.MaterializeOrdered(ctx, promptID)
	if err != nil {
		return nil, err
	}

	sink, err := artifacts.NewDirSink(a.cfg.OutputDir, a.logger)
	if err != nil {
		return nil, err
	}
	return artifacts.SaveImages(ctx, sink, outputs, order)
}

func (a *app) recordSubmitted(ctx context.Context, handle comfyapi.JobHandle) {
	if a.ledger == nil {
		return
	}
	err := a.ledger.RecordSubmitted(context.WithoutCancel(ctx), ledger.Job{
		PromptID: handle.PromptID,
		ClientID: a.client.ClientID(),
		Number:   handle.Number,
		Status:   ledger.StatusQueued,
	})
	if err != nil {
		a.logger.Warn("failed to record job", logging.PromptID(handle.PromptID), zap.Error(err))
	}
}

// recordOutcome writes stored artifacts and the final job status. It runs
// after cancellation too, so it does not inherit ctx's cancellation.
func (a *app) recordOutcome(ctx context.Context, promptID string, stored []artifacts.StoredArtifact, jobErr error) {
	if a.ledger == nil {
		return
	}
	a.recordArtifacts(ctx, promptID, stored)

	ctx = context.WithoutCancel(ctx)
	var err error
	if jobErr != nil {
		err = a.ledger.RecordFailed(ctx, promptID, jobErr.Error())
	} else {
		err = a.ledger.RecordCompleted(ctx, promptID)
	}
	if err != nil {
		a.logger.Warn("failed to record job outcome", logging.PromptID(promptID), zap.Error(err))
	}
}

// recordArtifacts writes one ledger row per stored artifact. Storing the
// same artifact again updates its row.
func (a *app) recordArtifacts(ctx context.Context, promptID string, stored []artifacts.StoredArtifact) {
	if a.ledger == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	logger := a.logger.With(logging.PromptID(promptID))

	for _, s := range stored {
		_, err := a.ledger.RecordArtifact(ctx, ledger.ArtifactRecord{
			PromptID:  promptID,
			NodeID:    s.NodeID,
			Filename:  s.Image.Filename,
			Subfolder: s.Image.Subfolder,
			Type:      s.Image.Type,
			Path:      s.Path,
			SizeBytes: s.Size,
			Digest:    s.Digest,
			Width:     s.Width,
			Height:    s.Height,
			Format:    s.Format,
		})
		if err != nil {
			logger.Warn("failed to record artifact", zap.String("path", s.Path), zap.Error(err))
		}
	}
}
