package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BatmanBruc/bat-bot-uploader/internal/pipeline"
	"github.com/BatmanBruc/bat-bot-uploader/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	mu        sync.Mutex
	ran       []types.UploadJob
	abandoned []types.UploadJob
	block     chan struct{}
	started   chan string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{started: make(chan string, 16)}
}

func (r *fakeRunner) Run(ctx context.Context, job types.UploadJob) pipeline.Result {
	r.started <- job.ID
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			r.record(&r.ran, job)
			return pipeline.Result{Status: types.UploadFailed, Err: ctx.Err()}
		}
	}
	r.record(&r.ran, job)
	return pipeline.Result{RecordID: 1, Status: types.UploadSuccess}
}

func (r *fakeRunner) Abandon(_ context.Context, job types.UploadJob) {
	r.record(&r.abandoned, job)
}

func (r *fakeRunner) record(list *[]types.UploadJob, job types.UploadJob) {
	r.mu.Lock()
	defer r.mu.Unlock()
	*list = append(*list, job)
}

func (r *fakeRunner) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ran), len(r.abandoned)
}

type fakeReaper struct {
	mu    sync.Mutex
	calls []time.Duration
	err   error
}

func (f *fakeReaper) FailStalePendingUploads(_ context.Context, olderThan time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, olderThan)
	return 2, f.err
}

func (f *fakeReaper) snapshot() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.calls...)
}

type fakeSweeper struct{ calls int32 }

func (f *fakeSweeper) Sweep(context.Context) (int, error) {
	atomic.AddInt32(&f.calls, 1)
	return 1, nil
}

func uploadJob(chatID int64, id string) types.UploadJob {
	return types.UploadJob{ID: id, ConversationID: chatID, MediaRef: "f", Title: "t"}
}

func waitStarted(t *testing.T, r *fakeRunner, want string) {
	t.Helper()
	select {
	case got := <-r.started:
		assert.Equal(t, want, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("job %s never started", want)
	}
}

func TestEnqueueRunsJob(t *testing.T) {
	runner := newFakeRunner()
	s := NewScheduler(runner, nil, nil, Config{Workers: 1}, zerolog.Nop())
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop(context.Background()) })

	require.NoError(t, s.Enqueue(uploadJob(1, "a")))
	waitStarted(t, runner, "a")

	assert.Eventually(t, func() bool { return !s.InFlight(1) }, 2*time.Second, 5*time.Millisecond)
	ran, _ := runner.counts()
	assert.Equal(t, 1, ran)
}

func TestEnqueueRejectsSecondJobForChat(t *testing.T) {
	runner := newFakeRunner()
	runner.block = make(chan struct{})
	s := NewScheduler(runner, nil, nil, Config{Workers: 2}, zerolog.Nop())
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop(context.Background()) })

	require.NoError(t, s.Enqueue(uploadJob(1, "a")))
	waitStarted(t, runner, "a")

	assert.ErrorIs(t, s.Enqueue(uploadJob(1, "b")), ErrAlreadyQueued)
	assert.True(t, s.InFlight(1))
	require.NoError(t, s.Enqueue(uploadJob(2, "c")), "other chats are unaffected")
	waitStarted(t, runner, "c")

	close(runner.block)
	assert.Eventually(t, func() bool { return !s.InFlight(1) }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Enqueue(uploadJob(1, "d")), "chat can upload again once finished")
}

func TestEnqueueQueueFull(t *testing.T) {
	runner := newFakeRunner()
	runner.block = make(chan struct{})
	s := NewScheduler(runner, nil, nil, Config{Workers: 1, QueueSize: 1}, zerolog.Nop())
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() {
		close(runner.block)
		_ = s.Stop(context.Background())
	})

	require.NoError(t, s.Enqueue(uploadJob(1, "a")))
	waitStarted(t, runner, "a")
	require.NoError(t, s.Enqueue(uploadJob(2, "b")))

	assert.ErrorIs(t, s.Enqueue(uploadJob(3, "c")), ErrQueueFull)
	assert.False(t, s.InFlight(3), "rejected jobs are not tracked")
}

func TestEnqueueBeforeStart(t *testing.T) {
	s := NewScheduler(newFakeRunner(), nil, nil, Config{}, zerolog.Nop())
	assert.ErrorIs(t, s.Enqueue(uploadJob(1, "a")), ErrStopped)
}

func TestStopCancelsRunningAndAbandonsQueued(t *testing.T) {
	runner := newFakeRunner()
	runner.block = make(chan struct{})
	s := NewScheduler(runner, nil, nil, Config{Workers: 1, QueueSize: 4}, zerolog.Nop())
	require.NoError(t, s.Start(context.Background()))

	require.NoError(t, s.Enqueue(uploadJob(1, "a")))
	waitStarted(t, runner, "a")
	require.NoError(t, s.Enqueue(uploadJob(2, "b")))
	require.NoError(t, s.Enqueue(uploadJob(3, "c")))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))

	ran, abandoned := runner.counts()
	assert.Equal(t, 1, ran)
	assert.Equal(t, 2, abandoned)
	assert.False(t, s.InFlight(2))
	assert.ErrorIs(t, s.Enqueue(uploadJob(4, "d")), ErrStopped)
}

func TestStartFailsPendingUploads(t *testing.T) {
	reaper := &fakeReaper{}
	s := NewScheduler(newFakeRunner(), reaper, nil, Config{Workers: 1}, zerolog.Nop())
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop(context.Background()) })

	assert.Equal(t, []time.Duration{0}, reaper.snapshot())
}

func TestStartPropagatesReaperError(t *testing.T) {
	reaper := &fakeReaper{err: errors.New("db down")}
	s := NewScheduler(newFakeRunner(), reaper, nil, Config{Workers: 1}, zerolog.Nop())
	require.Error(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Enqueue(uploadJob(1, "a")), ErrStopped)
}

func TestHousekeepingJobsRun(t *testing.T) {
	reaper := &fakeReaper{}
	sweeper := &fakeSweeper{}
	s := NewScheduler(newFakeRunner(), reaper, sweeper, Config{
		Workers:           1,
		StalePendingAfter: time.Second,
		SweepEvery:        time.Second,
	}, zerolog.Nop())
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop(context.Background()) })

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&sweeper.calls) > 0 && len(reaper.snapshot()) > 1
	}, 5*time.Second, 50*time.Millisecond)
	assert.Equal(t, time.Second, reaper.snapshot()[1])
}

func TestEvery(t *testing.T) {
	assert.Equal(t, "@every 1m0s", every(time.Minute))
	assert.Equal(t, "@every 15m0s", every(15*time.Minute))
}
