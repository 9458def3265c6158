package handlers

import (
	"github.com/BatmanBruc/bat-bot-uploader/internal/messages"
	"github.com/BatmanBruc/bat-bot-uploader/types"
)

// HandleFile accepts a video only while the upload flow waits for one.
func (h *Handlers) HandleFile(t *turn, ev types.Event, cur *types.Session) (*types.Session, error) {
	switch {
	case cur == nil:
		t.say(messages.UseUploadFirst())
		return nil, nil
	case cur.Step() != types.StepAwaitingVideo:
		return busy(t, cur)
	case ev.Media == nil || !ev.Media.IsVideo || ev.Media.FileID == "":
		t.say(messages.NotAVideo())
		return cur, nil
	}

	t.say(messages.AskTitle())
	return cur.Advance(types.AwaitingTitle{FileID: ev.Media.FileID}), nil
}
