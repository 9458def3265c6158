package middleware

import (
	"context"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/BatmanBruc/bat-bot-uploader/internal/contextkeys"
	"github.com/BatmanBruc/bat-bot-uploader/internal/messages"
	"github.com/BatmanBruc/bat-bot-uploader/types"
)

type Middlewares struct {
	log      zerolog.Logger
	notifier types.Notifier
}

func NewMiddlewares(log zerolog.Logger, notifier types.Notifier) *Middlewares {
	return &Middlewares{
		log:      log,
		notifier: notifier,
	}
}

// Chain orders the middlewares for bot.WithMiddlewares, outermost first.
func (m *Middlewares) Chain() []bot.Middleware {
	return []bot.Middleware{m.RecoverMiddleware, m.AnalyzeMessageMiddleware, m.CorrelationMiddleware}
}

// RecoverMiddleware turns a panic inside a turn into a logged error and a generic reply.
func (m *Middlewares) RecoverMiddleware(next bot.HandlerFunc) bot.HandlerFunc {
	return func(ctx context.Context, b *bot.Bot, update *models.Update) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			chatID := chatIDFromUpdate(update)
			m.log.Error().Interface("panic", r).Int64("chat_id", chatID).Msg("update handler panicked")
			if chatID == 0 || m.notifier == nil {
				return
			}
			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			if err := m.notifier.SendMessage(sctx, chatID, messages.ErrorDefault(), nil); err != nil {
				m.log.Warn().Err(err).Int64("chat_id", chatID).Msg("send panic reply")
			}
		}()
		next(ctx, b, update)
	}
}

// AnalyzeMessageMiddleware classifies the update into an Event. Updates that carry
// no user message are dropped here.
func (m *Middlewares) AnalyzeMessageMiddleware(next bot.HandlerFunc) bot.HandlerFunc {
	return func(ctx context.Context, b *bot.Bot, update *models.Update) {
		ev, ok := EventFromUpdate(update)
		if !ok {
			return
		}
		next(contextkeys.WithEvent(ctx, ev), b, update)
	}
}

// CorrelationMiddleware tags the turn with an id and puts a logger carrying it into ctx.
func (m *Middlewares) CorrelationMiddleware(next bot.HandlerFunc) bot.HandlerFunc {
	return func(ctx context.Context, b *bot.Bot, update *models.Update) {
		id := uuid.NewString()
		lc := m.log.With().Str("corr", id)
		if ev, ok := contextkeys.GetEvent(ctx); ok {
			lc = lc.Int64("chat_id", ev.ConversationID).Str("kind", string(ev.Kind))
		}
		log := lc.Logger()
		ctx = contextkeys.WithCorrelationID(ctx, id)
		ctx = log.WithContext(ctx)
		next(ctx, b, update)
	}
}

func chatIDFromUpdate(update *models.Update) int64 {
	if update == nil || update.Message == nil {
		return 0
	}
	return update.Message.Chat.ID
}

// EventFromUpdate maps a Telegram update to an Event. Commands look like
// "/cmd@botname args"; a video, a video note, or a document with a video MIME type
// is video media; any other attachment is media that is not a video.
func EventFromUpdate(update *models.Update) (types.Event, bool) {
	if update == nil || update.Message == nil {
		return types.Event{}, false
	}
	msg := update.Message
	ev := types.Event{ConversationID: msg.Chat.ID}
	if ev.ConversationID == 0 {
		return types.Event{}, false
	}

	if media := mediaFromMessage(msg); media != nil {
		ev.Kind = types.EventMedia
		ev.Media = media
		ev.Text = strings.TrimSpace(msg.Caption)
		return ev, true
	}

	text := strings.TrimSpace(msg.Text)
	if strings.HasPrefix(text, "/") {
		ev.Kind = types.EventCommand
		ev.Command, ev.Args = parseCommand(text)
		ev.Text = text
		return ev, true
	}
	if text == "" {
		return types.Event{}, false
	}
	ev.Kind = types.EventText
	ev.Text = msg.Text
	return ev, true
}

func parseCommand(text string) (cmd, args string) {
	cmd, args, _ = strings.Cut(text, " ")
	if at := strings.Index(cmd, "@"); at >= 0 {
		cmd = cmd[:at]
	}
	return strings.ToLower(cmd), strings.TrimSpace(args)
}

func mediaFromMessage(msg *models.Message) *types.Media {
	switch {
	case msg.Video != nil:
		return &types.Media{
			FileID:   msg.Video.FileID,
			FileName: msg.Video.FileName,
			MimeType: msg.Video.MimeType,
			FileSize: int64(msg.Video.FileSize),
			IsVideo:  true,
		}
	case msg.VideoNote != nil:
		return &types.Media{
			FileID:   msg.VideoNote.FileID,
			FileName: "video_note.mp4",
			MimeType: "video/mp4",
			FileSize: int64(msg.VideoNote.FileSize),
			IsVideo:  true,
		}
	case msg.Document != nil:
		mime := strings.ToLower(strings.TrimSpace(msg.Document.MimeType))
		return &types.Media{
			FileID:   msg.Document.FileID,
			FileName: msg.Document.FileName,
			MimeType: msg.Document.MimeType,
			FileSize: int64(msg.Document.FileSize),
			IsVideo:  strings.HasPrefix(mime, "video/"),
		}
	case len(msg.Photo) > 0:
		best := msg.Photo[0]
		for _, p := range msg.Photo[1:] {
			if p.FileSize > best.FileSize {
				best = p
			}
		}
		return &types.Media{FileID: best.FileID, FileName: "photo.jpg", MimeType: "image/jpeg", FileSize: int64(best.FileSize)}
	case msg.Audio != nil:
		return &types.Media{FileID: msg.Audio.FileID, FileName: msg.Audio.FileName, MimeType: msg.Audio.MimeType, FileSize: int64(msg.Audio.FileSize)}
	case msg.Voice != nil:
		return &types.Media{FileID: msg.Voice.FileID, MimeType: msg.Voice.MimeType, FileSize: int64(msg.Voice.FileSize)}
	case msg.Sticker != nil:
		return &types.Media{FileID: msg.Sticker.FileID, FileSize: int64(msg.Sticker.FileSize)}
	case msg.Animation != nil:
		return &types.Media{FileID: msg.Animation.FileID, FileName: msg.Animation.FileName, MimeType: msg.Animation.MimeType, FileSize: int64(msg.Animation.FileSize)}
	}
	return nil
}
