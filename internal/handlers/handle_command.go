package handlers

import (
	"github.com/BatmanBruc/bat-bot-uploader/internal/messages"
	"github.com/BatmanBruc/bat-bot-uploader/types"
)

var startKeyboard = &types.Keyboard{Rows: [][]string{{"/upload"}}}

func (h *Handlers) HandleCommand(t *turn, ev types.Event, cur *types.Session) (*types.Session, error) {
	switch ev.Command {
	case "/start":
		t.sayWith(messages.StartWelcome(), startKeyboard)
		return cur, nil
	case "/help":
		t.say(messages.Help())
		return cur, nil
	case "/channellist":
		names, err := h.channels.ListChannels(t.ctx, t.chatID)
		if err != nil {
			h.logger(t.ctx).Error().Err(err).Msg("list channels")
			t.say(messages.ErrorListChannels())
			return cur, nil
		}
		t.say(messages.ChannelList(names))
		return cur, nil
	case "/cancel":
		return h.cancel(t, cur)
	case "/upload":
		return h.startFlow(t, cur, types.FlowUpload, types.AwaitingVideo{}, messages.AskVideo())
	case "/addchannel":
		return h.startFlow(t, cur, types.FlowAddChannel, types.AwaitingChannelName{}, messages.AskChannelName())
	case "/register":
		return h.startFlow(t, cur, types.FlowRegister, types.AwaitingChannelName{}, messages.AskChannelName())
	case "/removechannel":
		return h.startFlow(t, cur, types.FlowRemoveChannel, types.AwaitingChannelRemove{}, messages.AskChannelToRemove())
	}
	t.say(messages.ErrorUnknownCommand())
	return cur, nil
}

// startFlow is only allowed from idle; an active flow is left untouched.
func (h *Handlers) startFlow(t *turn, cur *types.Session, flow types.Flow, first types.State, prompt string) (*types.Session, error) {
	if cur != nil {
		return busy(t, cur)
	}
	t.say(prompt)
	return types.NewSession(t.chatID, flow, first), nil
}

func (h *Handlers) cancel(t *turn, cur *types.Session) (*types.Session, error) {
	switch {
	case cur == nil:
		t.say(messages.NothingToCancel())
		return nil, nil
	case cur.Step() == types.StepUploading:
		t.say(messages.UploadInProgress())
		return cur, nil
	}
	t.sayWith(messages.Cancelled(), &types.Keyboard{Remove: true})
	return nil, nil
}
