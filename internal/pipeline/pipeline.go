// Package pipeline runs one upload job: record, download, publish, finalize.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/BatmanBruc/bat-bot-uploader/internal/messages"
	"github.com/BatmanBruc/bat-bot-uploader/internal/publisher"
	"github.com/BatmanBruc/bat-bot-uploader/internal/telemetry"
	"github.com/BatmanBruc/bat-bot-uploader/types"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel/attribute"
)

type PublisherResolver interface {
	For(ctx context.Context, conversationID int64) (publisher.Publisher, error)
}

type SessionReleaser interface {
	ReleaseUpload(ctx context.Context, conversationID int64) error
}

type Config struct {
	TempDir         string
	DownloadTimeout time.Duration
	PublishTimeout  time.Duration
	// FinalizeRetries bounds the retries of ledger and session writes made after the work is done.
	FinalizeRetries uint64
	FinalizeBackoff time.Duration
}

type Result struct {
	RecordID int64
	Status   types.UploadStatus
	URL      string
	Err      error
}

type Pipeline struct {
	ledger     types.UploadLedger
	media      types.MediaResolver
	notifier   types.Notifier
	publishers PublisherResolver
	sessions   SessionReleaser
	http       *http.Client
	cfg        Config
	log        zerolog.Logger
}

func New(
	ledger types.UploadLedger,
	media types.MediaResolver,
	notifier types.Notifier,
	publishers PublisherResolver,
	sessions SessionReleaser,
	httpClient *http.Client,
	cfg Config,
	log zerolog.Logger,
) *Pipeline {
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = 10 * time.Minute
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 30 * time.Minute
	}
	if cfg.FinalizeRetries == 0 {
		cfg.FinalizeRetries = 5
	}
	if cfg.FinalizeBackoff <= 0 {
		cfg.FinalizeBackoff = 200 * time.Millisecond
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Pipeline{
		ledger:     ledger,
		media:      media,
		notifier:   notifier,
		publishers: publishers,
		sessions:   sessions,
		http:       httpClient,
		cfg:        cfg,
		log:        log,
	}
}

// Run executes the job. Whatever happens, including a panic, the record leaves
// pending, the temp file is removed and the uploading session is cleared.
func (p *Pipeline) Run(ctx context.Context, job types.UploadJob) (res Result) {
	log := p.log.With().Int64("chat_id", job.ConversationID).Str("job_id", job.ID).Logger()
	chatID := job.ConversationID

	defer p.releaseSession(ctx, chatID, log)

	ctx, span := telemetry.StartSpan(ctx, "upload.run",
		attribute.Int64("chat_id", chatID),
		attribute.String("job_id", job.ID),
	)
	defer func() { telemetry.EndSpan(span, res.Err) }()

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		log.Error().Interface("panic", r).Msg("upload pipeline panicked")
		telemetry.UploadsFailed.WithLabelValues("panic").Inc()
		if res.RecordID != 0 {
			p.finalize(ctx, res.RecordID, types.UploadFailed, "", log)
		}
		p.notify(ctx, chatID, messages.ErrorDefault(), log)
		res = Result{RecordID: res.RecordID, Status: types.UploadFailed, Err: fmt.Errorf("upload panicked: %v", r)}
	}()

	telemetry.UploadsStarted.Inc()

	id, err := p.ledger.CreateUpload(ctx, types.UploadRecord{
		ConversationID: chatID,
		MediaRef:       job.MediaRef,
		Title:          job.Title,
		Hashtags:       job.Hashtags,
		Status:         types.UploadPending,
	})
	if err != nil {
		log.Error().Err(err).Msg("create upload record")
		telemetry.UploadsFailed.WithLabelValues("record").Inc()
		p.notify(ctx, chatID, messages.ErrorSaveUpload(), log)
		return Result{Status: types.UploadFailed, Err: err}
	}
	res.RecordID = id
	log = log.With().Int64("upload_id", id).Logger()

	dctx, dspan := telemetry.StartSpan(ctx, "upload.download")
	start := time.Now()
	path, release, err := p.download(dctx, job.MediaRef)
	telemetry.EndSpan(dspan, err)
	if err != nil {
		log.Warn().Err(err).Msg("download media")
		telemetry.UploadsFailed.WithLabelValues("download").Inc()
		p.finalize(ctx, id, types.UploadFailed, "", log)
		p.notify(ctx, chatID, messages.ErrorDownload(), log)
		return Result{RecordID: id, Status: types.UploadFailed, Err: err}
	}
	defer release()
	telemetry.Since(telemetry.DownloadDuration, start)

	url, err := p.publish(ctx, job, path)
	if err != nil {
		log.Warn().Err(err).Msg("publish video")
		telemetry.UploadsFailed.WithLabelValues("publish").Inc()
		p.finalize(ctx, id, types.UploadFailed, "", log)
		p.notify(ctx, chatID, messages.UploadFailed(err), log)
		return Result{RecordID: id, Status: types.UploadFailed, Err: err}
	}

	telemetry.UploadsSucceeded.Inc()
	p.finalize(ctx, id, types.UploadSuccess, url, log)
	p.notify(ctx, chatID, messages.UploadDone(url), log)
	log.Info().Str("url", url).Msg("upload published")
	return Result{RecordID: id, Status: types.UploadSuccess, URL: url}
}

func (p *Pipeline) publish(ctx context.Context, job types.UploadJob, path string) (string, error) {
	ctx, span := telemetry.StartSpan(ctx, "upload.publish")
	start := time.Now()

	pub, err := p.publishers.For(ctx, job.ConversationID)
	if err != nil {
		telemetry.EndSpan(span, err)
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.PublishTimeout)
	defer cancel()
	url, err := pub.Publish(ctx, publisher.Video{Path: path, Title: job.Title, Tags: job.Tags()})
	telemetry.EndSpan(span, err)
	if err != nil {
		return "", err
	}
	telemetry.Since(telemetry.PublishDuration, start)
	return url, nil
}

// finalize moves the record to its terminal status. It ignores cancellation of the
// job context and retries transient store errors, so a record never stays pending
// because of a shutdown or a blip.
func (p *Pipeline) finalize(ctx context.Context, id int64, status types.UploadStatus, url string, log zerolog.Logger) {
	ctx = context.WithoutCancel(ctx)
	backoff := retry.WithMaxRetries(p.cfg.FinalizeRetries, retry.NewExponential(p.cfg.FinalizeBackoff))

	var alreadyFinal bool
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		if status == types.UploadSuccess {
			err = p.ledger.MarkUploadSucceeded(ctx, id, url)
		} else {
			err = p.ledger.MarkUploadFailed(ctx, id)
		}
		switch {
		case errors.Is(err, types.ErrUploadFinalized):
			alreadyFinal = true
			return nil
		case err == nil:
			return nil
		case errors.Is(err, types.ErrNotFound):
			return err
		}
		return retry.RetryableError(err)
	})
	if err != nil {
		log.Error().Err(err).Str("status", string(status)).Msg("finalize upload record")
		return
	}
	// the reaper failed a record whose video did get published
	if alreadyFinal && status == types.UploadSuccess {
		log.Error().Str("url", url).Msg("published upload was already finalized, ledger disagrees")
	}
}

func (p *Pipeline) releaseSession(ctx context.Context, chatID int64, log zerolog.Logger) {
	ctx = context.WithoutCancel(ctx)
	backoff := retry.WithMaxRetries(p.cfg.FinalizeRetries, retry.NewExponential(p.cfg.FinalizeBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := p.sessions.ReleaseUpload(ctx, chatID); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		log.Error().Err(err).Msg("release upload session")
	}
}

func (p *Pipeline) notify(ctx context.Context, chatID int64, text string, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := p.notifier.SendMessage(ctx, chatID, text, nil); err != nil {
		log.Warn().Err(err).Msg("send upload result")
	}
}

// Abandon gives up on a job that never reached a worker. No record exists yet, so
// only the session is released and the chat told to start over.
func (p *Pipeline) Abandon(ctx context.Context, job types.UploadJob) {
	log := p.log.With().Int64("chat_id", job.ConversationID).Str("job_id", job.ID).Logger()
	p.releaseSession(ctx, job.ConversationID, log)
	p.notify(ctx, job.ConversationID, messages.UploadAborted(), log)
	log.Info().Msg("queued upload abandoned")
}
