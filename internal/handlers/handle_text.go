package handlers

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/BatmanBruc/bat-bot-uploader/internal/messages"
	"github.com/BatmanBruc/bat-bot-uploader/types"
)

var apiTypeKeyboard = &types.Keyboard{Rows: [][]string{{string(types.APITypePublic), string(types.APITypePrivate)}}}

// HandleText stores the text in the field the current step waits for and advances.
// Text with no active flow is ignored.
func (h *Handlers) HandleText(t *turn, ev types.Event, cur *types.Session) (*types.Session, error) {
	if cur == nil {
		return nil, nil
	}
	text := ev.Text

	switch st := cur.State.(type) {
	case types.AwaitingVideo:
		t.say(messages.AskVideo())
		return cur, nil

	case types.Uploading:
		t.say(messages.UploadInProgress())
		return cur, nil

	case types.AwaitingChannelName:
		if cur.Flow == types.FlowRegister {
			t.say(messages.AskUsername())
			return cur.Advance(types.AwaitingUsername{ChannelName: text}), nil
		}
		if err := h.channels.UpsertChannel(t.ctx, t.chatID, text); err != nil {
			return nil, fmt.Errorf("add channel: %w", err)
		}
		t.say(messages.ChannelAdded(text))
		return nil, nil

	case types.AwaitingChannelRemove:
		removed, err := h.channels.RemoveChannel(t.ctx, t.chatID, text)
		if err != nil {
			return nil, fmt.Errorf("remove channel: %w", err)
		}
		if removed {
			t.say(messages.ChannelRemoved(text))
		} else {
			t.say(messages.ChannelNotFound())
		}
		return nil, nil

	case types.AwaitingUsername:
		t.say(messages.AskAPIKey())
		return cur.Advance(types.AwaitingAPIKey{AwaitingUsername: st, Username: text}), nil

	case types.AwaitingAPIKey:
		t.say(messages.AskAPISecret())
		return cur.Advance(types.AwaitingAPISecret{AwaitingAPIKey: st, APIKey: text}), nil

	case types.AwaitingAPISecret:
		t.say(messages.AskEmail())
		return cur.Advance(types.AwaitingEmail{AwaitingAPISecret: st, APISecret: text}), nil

	case types.AwaitingEmail:
		if err := h.validate.Var(text, "required,email"); err != nil {
			t.say(messages.InvalidEmail())
			return cur, nil
		}
		t.say(messages.AskPassword())
		return cur.Advance(types.AwaitingPassword{AwaitingEmail: st, Email: text}), nil

	case types.AwaitingPassword:
		t.sayWith(messages.AskAPIType(), apiTypeKeyboard)
		return cur.Advance(types.AwaitingAPIType{AwaitingPassword: st, Password: text}), nil

	case types.AwaitingAPIType:
		apiType, ok := types.ParseAPIType(text)
		if !ok {
			t.sayWith(messages.InvalidAPIType(), apiTypeKeyboard)
			return cur, nil
		}
		channel, account := st.Registration(t.chatID, apiType)
		if err := h.channels.UpsertChannelWithAccount(t.ctx, channel, account); err != nil {
			return nil, fmt.Errorf("register channel: %w", err)
		}
		t.sayWith(messages.ChannelRegistered(channel.Name), &types.Keyboard{Remove: true})
		return nil, nil

	case types.AwaitingTitle:
		t.say(messages.AskHashtags())
		return cur.Advance(types.AwaitingHashtags{AwaitingTitle: st, Title: text}), nil

	case types.AwaitingHashtags:
		return h.startUpload(t, cur, types.Uploading{AwaitingHashtags: st, Hashtags: text})
	}

	return nil, fmt.Errorf("%w: %T at step %s", errUnexpectedState, cur.State, cur.Step())
}

// startUpload moves the conversation to uploading. The job reaches the workers
// once that session is stored; until then the chat counts as starting, so the
// uploading session is not taken for an orphan.
func (h *Handlers) startUpload(t *turn, cur *types.Session, st types.Uploading) (*types.Session, error) {
	t.job = &types.UploadJob{
		ID:             uuid.NewString(),
		ConversationID: t.chatID,
		MediaRef:       st.FileID,
		Title:          st.Title,
		Hashtags:       st.Hashtags,
	}
	h.setStarting(t.chatID, true)
	t.say(messages.UploadStarted())
	return cur.Advance(st), nil
}
