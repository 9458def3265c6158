package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/BatmanBruc/bat-bot-uploader/internal/pipeline"
	"github.com/BatmanBruc/bat-bot-uploader/internal/telemetry"
	"github.com/BatmanBruc/bat-bot-uploader/types"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

var (
	ErrStopped       = errors.New("scheduler is not running")
	ErrQueueFull     = errors.New("upload queue is full")
	ErrAlreadyQueued = errors.New("an upload for this chat is already in flight")
)

type Runner interface {
	Run(ctx context.Context, job types.UploadJob) pipeline.Result
	Abandon(ctx context.Context, job types.UploadJob)
}

type StaleReaper interface {
	FailStalePendingUploads(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Sweeper drops expired sessions. Only the in-memory backend needs one.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

type Config struct {
	Workers           int
	QueueSize         int
	StalePendingAfter time.Duration
	SweepEvery        time.Duration
}

type Scheduler struct {
	runner  Runner
	reaper  StaleReaper
	sweeper Sweeper
	cfg     Config
	log     zerolog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	queue   chan types.UploadJob
	cron    *cron.Cron

	inFlightMu sync.Mutex
	inFlight   map[int64]string
}

// NewScheduler accepts a nil reaper or sweeper; the matching housekeeping job is then skipped.
func NewScheduler(runner Runner, reaper StaleReaper, sweeper Sweeper, cfg Config, log zerolog.Logger) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = 3
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.Workers * 2
		if cfg.QueueSize < 10 {
			cfg.QueueSize = 10
		}
	}
	if cfg.SweepEvery <= 0 {
		cfg.SweepEvery = time.Minute
	}

	log = log.With().Str("component", "scheduler").Logger()
	return &Scheduler{
		runner:   runner,
		reaper:   reaper,
		sweeper:  sweeper,
		cfg:      cfg,
		log:      log,
		queue:    make(chan types.UploadJob, cfg.QueueSize),
		inFlight: make(map[int64]string),
		cron: cron.New(
			cron.WithLogger(cronLogger{log}),
			cron.WithChain(cron.Recover(cronLogger{log}), cron.SkipIfStillRunning(cronLogger{log})),
		),
	}
}

// Start fails every pending record left by a previous process, then starts the
// workers and the housekeeping jobs.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	if s.reaper != nil {
		n, err := s.reaper.FailStalePendingUploads(ctx, 0)
		if err != nil {
			return err
		}
		if n > 0 {
			telemetry.StaleUploadsFailed.Add(float64(n))
			s.log.Warn().Int64("count", n).Msg("failed uploads left pending by previous run")
		}
	}

	if err := s.schedule(); err != nil {
		return err
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
	s.cron.Start()
	s.running = true

	s.log.Info().Int("workers", s.cfg.Workers).Int("queue", s.cfg.QueueSize).Msg("scheduler started")
	return nil
}

func (s *Scheduler) schedule() error {
	if s.sweeper != nil {
		if _, err := s.cron.AddFunc(every(s.cfg.SweepEvery), s.sweepSessions); err != nil {
			return err
		}
	}
	if s.reaper != nil && s.cfg.StalePendingAfter > 0 {
		if _, err := s.cron.AddFunc(every(s.cfg.StalePendingAfter), s.reapStale); err != nil {
			return err
		}
	}
	return nil
}

func every(d time.Duration) string {
	return "@every " + d.String()
}

// Stop cancels running jobs, abandons queued ones and waits for the housekeeping
// jobs to finish or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.log.Info().Msg("stopping scheduler")
	cronDone := s.cron.Stop()
	s.cancel()

	workersDone := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(workersDone)
	}()
	select {
	case <-workersDone:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.drain(ctx)

	select {
	case <-cronDone.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	s.log.Info().Msg("scheduler stopped")
	return nil
}

func (s *Scheduler) drain(ctx context.Context) {
	for {
		select {
		case job := <-s.queue:
			telemetry.QueueDepth.Set(float64(len(s.queue)))
			s.runner.Abandon(ctx, job)
			s.done(job)
		default:
			return
		}
	}
}

// Enqueue never blocks: a full queue is reported to the caller.
func (s *Scheduler) Enqueue(job types.UploadJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return ErrStopped
	}

	s.inFlightMu.Lock()
	if _, exists := s.inFlight[job.ConversationID]; exists {
		s.inFlightMu.Unlock()
		return ErrAlreadyQueued
	}
	s.inFlight[job.ConversationID] = job.ID
	s.inFlightMu.Unlock()

	select {
	case s.queue <- job:
		telemetry.QueueDepth.Set(float64(len(s.queue)))
		s.log.Debug().Int64("chat_id", job.ConversationID).Str("job_id", job.ID).Msg("upload enqueued")
		return nil
	default:
		s.done(job)
		return ErrQueueFull
	}
}

// InFlight reports whether a job for the chat is queued or running.
func (s *Scheduler) InFlight(conversationID int64) bool {
	s.inFlightMu.Lock()
	defer s.inFlightMu.Unlock()
	_, ok := s.inFlight[conversationID]
	return ok
}

func (s *Scheduler) done(job types.UploadJob) {
	s.inFlightMu.Lock()
	if s.inFlight[job.ConversationID] == job.ID {
		delete(s.inFlight, job.ConversationID)
	}
	s.inFlightMu.Unlock()
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()
	log := s.log.With().Int("worker", id).Logger()
	log.Debug().Msg("worker started")

	for {
		select {
		case <-s.ctx.Done():
			log.Debug().Msg("worker stopped")
			return
		case job := <-s.queue:
			telemetry.QueueDepth.Set(float64(len(s.queue)))
			if s.ctx.Err() != nil {
				s.runner.Abandon(context.Background(), job)
				s.done(job)
				continue
			}
			res := s.runner.Run(s.ctx, job)
			s.done(job)
			ev := log.Info()
			if res.Err != nil {
				ev = log.Warn().Err(res.Err)
			}
			ev.Int64("chat_id", job.ConversationID).
				Str("job_id", job.ID).
				Int64("upload_id", res.RecordID).
				Str("status", string(res.Status)).
				Msg("upload job finished")
		}
	}
}

func (s *Scheduler) sweepSessions() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	n, err := s.sweeper.Sweep(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("sweep sessions")
		return
	}
	if n > 0 {
		s.log.Debug().Int("count", n).Msg("expired sessions swept")
	}
}

func (s *Scheduler) reapStale() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	n, err := s.reaper.FailStalePendingUploads(ctx, s.cfg.StalePendingAfter)
	if err != nil {
		s.log.Error().Err(err).Msg("fail stale uploads")
		return
	}
	if n > 0 {
		telemetry.StaleUploadsFailed.Add(float64(n))
		s.log.Warn().Int64("count", n).Dur("older_than", s.cfg.StalePendingAfter).Msg("failed stale pending uploads")
	}
}

type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
