// Package telegram adapts go-telegram/bot to the notifier and media resolver the bot core uses.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/BatmanBruc/bat-bot-uploader/internal/messages"
	"github.com/BatmanBruc/bat-bot-uploader/types"
)

type botAPI interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	GetFile(ctx context.Context, params *bot.GetFileParams) (*models.File, error)
	FileDownloadLink(f *models.File) string
	SetMyCommands(ctx context.Context, params *bot.SetMyCommandsParams) (bool, error)
}

var Commands = []models.BotCommand{
	{Command: "start", Description: "Start the bot"},
	{Command: "upload", Description: "Upload a video to Dailymotion"},
	{Command: "addchannel", Description: "Add a channel"},
	{Command: "register", Description: "Register a channel with a Dailymotion account"},
	{Command: "channellist", Description: "List your channels"},
	{Command: "removechannel", Description: "Remove a channel"},
	{Command: "cancel", Description: "Cancel the current action"},
	{Command: "help", Description: "Show help"},
}

type Transport struct {
	api botAPI
}

func NewTransport(b *bot.Bot) *Transport {
	return &Transport{api: b}
}

func (t *Transport) SendMessage(ctx context.Context, chatID int64, text string, kb *types.Keyboard) error {
	params := &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: messages.ParseModeHTML,
	}
	if markup := replyMarkup(kb); markup != nil {
		params.ReplyMarkup = markup
	}
	if _, err := t.api.SendMessage(ctx, params); err != nil {
		return fmt.Errorf("send message to %d: %w", chatID, err)
	}
	return nil
}

// ResolveDownloadLocation turns a file id into a URL the file can be fetched from.
func (t *Transport) ResolveDownloadLocation(ctx context.Context, fileID string) (string, error) {
	f, err := t.api.GetFile(ctx, &bot.GetFileParams{FileID: fileID})
	if err != nil {
		var uerr *url.Error
		if errors.As(err, &uerr) {
			// the request URL holds the bot token
			err = uerr.Err
		}
		return "", fmt.Errorf("get file %s: %w", fileID, err)
	}
	if f == nil || f.FilePath == "" {
		return "", errors.New("file has no download path")
	}
	return t.api.FileDownloadLink(f), nil
}

func (t *Transport) RegisterCommands(ctx context.Context) error {
	if _, err := t.api.SetMyCommands(ctx, &bot.SetMyCommandsParams{Commands: Commands}); err != nil {
		return fmt.Errorf("set commands: %w", err)
	}
	return nil
}

func replyMarkup(kb *types.Keyboard) models.ReplyMarkup {
	if kb == nil {
		return nil
	}
	if kb.Remove {
		return &models.ReplyKeyboardRemove{RemoveKeyboard: true}
	}
	return buildReplyKeyboard(kb.Rows)
}

// buildReplyKeyboard lays the buttons out three per row.
func buildReplyKeyboard(rows [][]string) *models.ReplyKeyboardMarkup {
	out := make([][]models.KeyboardButton, 0, len(rows))
	for _, buttons := range rows {
		row := make([]models.KeyboardButton, 0, 3)
		for i, text := range buttons {
			if i > 0 && i%3 == 0 {
				out = append(out, row)
				row = make([]models.KeyboardButton, 0, 3)
			}
			row = append(row, models.KeyboardButton{Text: text})
		}
		if len(row) > 0 {
			out = append(out, row)
		}
	}
	return &models.ReplyKeyboardMarkup{
		Keyboard:        out,
		ResizeKeyboard:  true,
		OneTimeKeyboard: true,
	}
}
