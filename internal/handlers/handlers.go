package handlers

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/BatmanBruc/bat-bot-uploader/internal/contextkeys"
	"github.com/BatmanBruc/bat-bot-uploader/internal/messages"
	"github.com/BatmanBruc/bat-bot-uploader/internal/session"
	"github.com/BatmanBruc/bat-bot-uploader/internal/telemetry"
	"github.com/BatmanBruc/bat-bot-uploader/types"
)

type UploadEnqueuer interface {
	Enqueue(job types.UploadJob) error
	InFlight(conversationID int64) bool
}

type Handlers struct {
	sessions *session.Store
	channels types.ChannelStore
	notifier types.Notifier
	uploads  UploadEnqueuer
	validate *validator.Validate
	log      zerolog.Logger

	// starting holds chats whose uploading session is stored but whose job is not queued yet.
	startingMu sync.Mutex
	starting   map[int64]bool
}

func NewHandlers(sessions *session.Store, channels types.ChannelStore, notifier types.Notifier, uploads UploadEnqueuer, log zerolog.Logger) *Handlers {
	return &Handlers{
		sessions: sessions,
		channels: channels,
		notifier: notifier,
		uploads:  uploads,
		validate: validator.New(),
		log:      log,
		starting: map[int64]bool{},
	}
}

// MainHandler is the bot entry point. The analyze middleware has already turned the
// update into an Event.
func (h *Handlers) MainHandler(ctx context.Context, _ *bot.Bot, _ *models.Update) {
	ev, ok := contextkeys.GetEvent(ctx)
	if !ok {
		return
	}
	_ = h.Handle(ctx, ev)
}

type reply struct {
	text string
	kb   *types.Keyboard
}

// turn collects what one event produced. Replies are sent once the new session is stored.
type turn struct {
	ctx     context.Context
	chatID  int64
	replies []reply
	// job is queued only after the turn's session has been stored.
	job *types.UploadJob
}

func (t *turn) say(text string) {
	t.replies = append(t.replies, reply{text: text})
}

func (t *turn) sayWith(text string, kb *types.Keyboard) {
	t.replies = append(t.replies, reply{text: text, kb: kb})
}

// Handle runs one turn for the event's conversation. Turns of the same conversation
// never overlap. A store error clears the session and the user gets a generic reply.
func (h *Handlers) Handle(ctx context.Context, ev types.Event) error {
	log := h.logger(ctx)
	ctx, span := telemetry.StartSpan(ctx, "turn.handle",
		attribute.Int64("chat_id", ev.ConversationID),
		attribute.String("kind", string(ev.Kind)),
	)

	t := &turn{ctx: ctx, chatID: ev.ConversationID}
	err := h.sessions.Do(ctx, ev.ConversationID, func(cur *types.Session) (*types.Session, error) {
		return h.dispatch(t, ev, cur)
	})
	if t.job != nil {
		if err == nil {
			h.enqueue(ctx, t)
		}
		h.setStarting(ev.ConversationID, false)
	}
	telemetry.EndSpan(span, err)

	if err != nil {
		telemetry.TurnsTotal.WithLabelValues(string(ev.Kind), "error").Inc()
		log.Error().Err(err).Str("command", ev.Command).Msg("turn failed")
		h.send(ctx, ev.ConversationID, reply{text: messages.ErrorDefault(), kb: &types.Keyboard{Remove: true}})
		return err
	}

	telemetry.TurnsTotal.WithLabelValues(string(ev.Kind), "ok").Inc()
	for _, r := range t.replies {
		h.send(ctx, ev.ConversationID, r)
	}
	return nil
}

func (h *Handlers) dispatch(t *turn, ev types.Event, cur *types.Session) (*types.Session, error) {
	// an uploading session with no job behind it belongs to a previous process
	if cur.Step() == types.StepUploading && !h.uploads.InFlight(ev.ConversationID) && !h.isStarting(ev.ConversationID) {
		h.logger(t.ctx).Warn().Msg("dropping orphaned uploading session")
		cur = nil
	}

	switch ev.Kind {
	case types.EventCommand:
		return h.HandleCommand(t, ev, cur)
	case types.EventText:
		return h.HandleText(t, ev, cur)
	case types.EventMedia:
		return h.HandleFile(t, ev, cur)
	}
	return cur, fmt.Errorf("unsupported event kind %q", ev.Kind)
}

// enqueue hands a committed upload to the workers. When they refuse it the
// uploading session is released and the turn's replies are replaced.
func (h *Handlers) enqueue(ctx context.Context, t *turn) {
	err := h.uploads.Enqueue(*t.job)
	if err == nil {
		return
	}
	log := h.logger(ctx)
	log.Warn().Err(err).Str("job_id", t.job.ID).Msg("enqueue upload")
	if rerr := h.sessions.ReleaseUpload(ctx, t.chatID); rerr != nil {
		log.Error().Err(rerr).Msg("release uploading session")
	}
	t.replies = []reply{{text: messages.UploadQueueFull()}}
}

func (h *Handlers) setStarting(chatID int64, on bool) {
	h.startingMu.Lock()
	defer h.startingMu.Unlock()
	if on {
		h.starting[chatID] = true
		return
	}
	delete(h.starting, chatID)
}

func (h *Handlers) isStarting(chatID int64) bool {
	h.startingMu.Lock()
	defer h.startingMu.Unlock()
	return h.starting[chatID]
}

func (h *Handlers) send(ctx context.Context, chatID int64, r reply) {
	if err := h.notifier.SendMessage(ctx, chatID, r.text, r.kb); err != nil {
		h.logger(ctx).Warn().Err(err).Msg("send reply")
	}
}

func (h *Handlers) logger(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	l := h.log.With().Logger()
	return &l
}

// busy answers an event that needs an idle conversation while a flow is active.
func busy(t *turn, cur *types.Session) (*types.Session, error) {
	if cur.Step() == types.StepUploading {
		t.say(messages.UploadInProgress())
	} else {
		t.say(messages.FlowBusy())
	}
	return cur, nil
}

var errUnexpectedState = errors.New("session state does not match its step")
