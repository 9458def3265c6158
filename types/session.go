package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// State is the step a conversation is in together with the fields collected so far.
// Every variant carries exactly the fields valid at its step.
type State interface {
	Step() Step
	Fields() map[string]string
	state()
}

type Session struct {
	ConversationID int64
	Flow           Flow
	State          State
	UpdatedAt      time.Time
}

func NewSession(conversationID int64, flow Flow, state State) *Session {
	return &Session{
		ConversationID: conversationID,
		Flow:           flow,
		State:          state,
		UpdatedAt:      time.Now().UTC(),
	}
}

// Advance returns a copy of the session moved to the next state.
func (s *Session) Advance(next State) *Session {
	return &Session{
		ConversationID: s.ConversationID,
		Flow:           s.Flow,
		State:          next,
		UpdatedAt:      time.Now().UTC(),
	}
}

func (s *Session) Step() Step {
	if s == nil || s.State == nil {
		return ""
	}
	return s.State.Step()
}

// Validate checks that the step belongs to the session's flow.
func (s *Session) Validate() error {
	if s.State == nil {
		return fmt.Errorf("%w: conversation %d has no state", ErrInvalidSession, s.ConversationID)
	}
	if !s.Flow.Valid() {
		return fmt.Errorf("%w: unknown flow %q", ErrInvalidSession, s.Flow)
	}
	if !s.Flow.Has(s.State.Step()) {
		return fmt.Errorf("%w: step %q is not part of flow %q", ErrInvalidSession, s.State.Step(), s.Flow)
	}
	return nil
}

type sessionJSON struct {
	ConversationID int64             `json:"conversation_id"`
	Flow           Flow              `json:"flow"`
	Step           Step              `json:"step"`
	Fields         map[string]string `json:"fields,omitempty"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

func (s Session) MarshalJSON() ([]byte, error) {
	if s.State == nil {
		return nil, fmt.Errorf("%w: conversation %d has no state", ErrInvalidSession, s.ConversationID)
	}
	return json.Marshal(sessionJSON{
		ConversationID: s.ConversationID,
		Flow:           s.Flow,
		Step:           s.State.Step(),
		Fields:         s.State.Fields(),
		UpdatedAt:      s.UpdatedAt,
	})
}

func (s *Session) UnmarshalJSON(data []byte) error {
	var raw sessionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	st, err := DecodeState(raw.Step, raw.Fields)
	if err != nil {
		return err
	}
	decoded := Session{
		ConversationID: raw.ConversationID,
		Flow:           raw.Flow,
		State:          st,
		UpdatedAt:      raw.UpdatedAt,
	}
	if err := decoded.Validate(); err != nil {
		return err
	}
	*s = decoded
	return nil
}

// DecodeState rebuilds a state from its logical {step, fields} form.
func DecodeState(step Step, fields map[string]string) (State, error) {
	need := func(key string) (string, error) {
		v, ok := fields[key]
		if !ok {
			return "", fmt.Errorf("%w: step %q requires field %q", ErrInvalidSession, step, key)
		}
		return v, nil
	}

	switch step {
	case StepAwaitingChannelName:
		return AwaitingChannelName{}, nil
	case StepAwaitingChannelRemove:
		return AwaitingChannelRemove{}, nil
	case StepAwaitingVideo:
		return AwaitingVideo{}, nil
	case StepAwaitingUsername:
		name, err := need(FieldChannelName)
		if err != nil {
			return nil, err
		}
		return AwaitingUsername{ChannelName: name}, nil
	case StepAwaitingAPIKey:
		prev, err := decodeAs[AwaitingUsername](StepAwaitingUsername, fields)
		if err != nil {
			return nil, err
		}
		v, err := need(FieldUsername)
		if err != nil {
			return nil, err
		}
		return AwaitingAPIKey{AwaitingUsername: prev, Username: v}, nil
	case StepAwaitingAPISecret:
		prev, err := decodeAs[AwaitingAPIKey](StepAwaitingAPIKey, fields)
		if err != nil {
			return nil, err
		}
		v, err := need(FieldAPIKey)
		if err != nil {
			return nil, err
		}
		return AwaitingAPISecret{AwaitingAPIKey: prev, APIKey: v}, nil
	case StepAwaitingEmail:
		prev, err := decodeAs[AwaitingAPISecret](StepAwaitingAPISecret, fields)
		if err != nil {
			return nil, err
		}
		v, err := need(FieldAPISecret)
		if err != nil {
			return nil, err
		}
		return AwaitingEmail{AwaitingAPISecret: prev, APISecret: v}, nil
	case StepAwaitingPassword:
		prev, err := decodeAs[AwaitingEmail](StepAwaitingEmail, fields)
		if err != nil {
			return nil, err
		}
		v, err := need(FieldEmail)
		if err != nil {
			return nil, err
		}
		return AwaitingPassword{AwaitingEmail: prev, Email: v}, nil
	case StepAwaitingAPIType:
		prev, err := decodeAs[AwaitingPassword](StepAwaitingPassword, fields)
		if err != nil {
			return nil, err
		}
		v, err := need(FieldPassword)
		if err != nil {
			return nil, err
		}
		return AwaitingAPIType{AwaitingPassword: prev, Password: v}, nil
	case StepAwaitingTitle:
		v, err := need(FieldFileID)
		if err != nil {
			return nil, err
		}
		return AwaitingTitle{FileID: v}, nil
	case StepAwaitingHashtags:
		prev, err := decodeAs[AwaitingTitle](StepAwaitingTitle, fields)
		if err != nil {
			return nil, err
		}
		v, err := need(FieldTitle)
		if err != nil {
			return nil, err
		}
		return AwaitingHashtags{AwaitingTitle: prev, Title: v}, nil
	case StepUploading:
		prev, err := decodeAs[AwaitingHashtags](StepAwaitingHashtags, fields)
		if err != nil {
			return nil, err
		}
		v, err := need(FieldHashtags)
		if err != nil {
			return nil, err
		}
		return Uploading{AwaitingHashtags: prev, Hashtags: v}, nil
	}
	return nil, fmt.Errorf("%w: unknown step %q", ErrInvalidSession, step)
}

func decodeAs[T State](step Step, fields map[string]string) (T, error) {
	var zero T
	st, err := DecodeState(step, fields)
	if err != nil {
		return zero, err
	}
	v, ok := st.(T)
	if !ok {
		return zero, fmt.Errorf("%w: step %q decoded as %T", ErrInvalidSession, step, st)
	}
	return v, nil
}

type AwaitingChannelName struct{}

func (AwaitingChannelName) Step() Step                { return StepAwaitingChannelName }
func (AwaitingChannelName) Fields() map[string]string { return map[string]string{} }
func (AwaitingChannelName) state()                    {}

type AwaitingChannelRemove struct{}

func (AwaitingChannelRemove) Step() Step                { return StepAwaitingChannelRemove }
func (AwaitingChannelRemove) Fields() map[string]string { return map[string]string{} }
func (AwaitingChannelRemove) state()                    {}

type AwaitingUsername struct {
	ChannelName string
}

func (AwaitingUsername) Step() Step { return StepAwaitingUsername }
func (s AwaitingUsername) Fields() map[string]string {
	return map[string]string{FieldChannelName: s.ChannelName}
}
func (AwaitingUsername) state() {}

type AwaitingAPIKey struct {
	AwaitingUsername
	Username string
}

func (AwaitingAPIKey) Step() Step { return StepAwaitingAPIKey }
func (s AwaitingAPIKey) Fields() map[string]string {
	f := s.AwaitingUsername.Fields()
	f[FieldUsername] = s.Username
	return f
}

type AwaitingAPISecret struct {
	AwaitingAPIKey
	APIKey string
}

func (AwaitingAPISecret) Step() Step { return StepAwaitingAPISecret }
func (s AwaitingAPISecret) Fields() map[string]string {
	f := s.AwaitingAPIKey.Fields()
	f[FieldAPIKey] = s.APIKey
	return f
}

type AwaitingEmail struct {
	AwaitingAPISecret
	APISecret string
}

func (AwaitingEmail) Step() Step { return StepAwaitingEmail }
func (s AwaitingEmail) Fields() map[string]string {
	f := s.AwaitingAPISecret.Fields()
	f[FieldAPISecret] = s.APISecret
	return f
}

type AwaitingPassword struct {
	AwaitingEmail
	Email string
}

func (AwaitingPassword) Step() Step { return StepAwaitingPassword }
func (s AwaitingPassword) Fields() map[string]string {
	f := s.AwaitingEmail.Fields()
	f[FieldEmail] = s.Email
	return f
}

type AwaitingAPIType struct {
	AwaitingPassword
	Password string
}

func (AwaitingAPIType) Step() Step { return StepAwaitingAPIType }
func (s AwaitingAPIType) Fields() map[string]string {
	f := s.AwaitingPassword.Fields()
	f[FieldPassword] = s.Password
	return f
}

// Registration returns the channel and account collected by the registration dialogue.
func (s AwaitingAPIType) Registration(conversationID int64, apiType APIType) (Channel, HostingAccount) {
	return Channel{ConversationID: conversationID, Name: s.ChannelName},
		HostingAccount{
			ConversationID: conversationID,
			Username:       s.Username,
			APIKey:         s.APIKey,
			APISecret:      s.APISecret,
			Email:          s.Email,
			Password:       s.Password,
			APIType:        apiType,
		}
}

type AwaitingVideo struct{}

func (AwaitingVideo) Step() Step                { return StepAwaitingVideo }
func (AwaitingVideo) Fields() map[string]string { return map[string]string{} }
func (AwaitingVideo) state()                    {}

type AwaitingTitle struct {
	FileID string
}

func (AwaitingTitle) Step() Step { return StepAwaitingTitle }
func (s AwaitingTitle) Fields() map[string]string {
	return map[string]string{FieldFileID: s.FileID}
}
func (AwaitingTitle) state() {}

type AwaitingHashtags struct {
	AwaitingTitle
	Title string
}

func (AwaitingHashtags) Step() Step { return StepAwaitingHashtags }
func (s AwaitingHashtags) Fields() map[string]string {
	f := s.AwaitingTitle.Fields()
	f[FieldTitle] = s.Title
	return f
}

// Uploading is held while the upload pipeline owns the conversation.
type Uploading struct {
	AwaitingHashtags
	Hashtags string
}

func (Uploading) Step() Step { return StepUploading }
func (s Uploading) Fields() map[string]string {
	f := s.AwaitingHashtags.Fields()
	f[FieldHashtags] = s.Hashtags
	return f
}
