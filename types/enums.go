package types

import "strings"

type Flow string

const (
	FlowAddChannel    Flow = "add_channel"
	FlowRegister      Flow = "register"
	FlowRemoveChannel Flow = "remove_channel"
	FlowUpload        Flow = "upload"
)

type Step string

const (
	StepAwaitingChannelName   Step = "awaiting_channel_name"
	StepAwaitingUsername      Step = "awaiting_username"
	StepAwaitingAPIKey        Step = "awaiting_api_key"
	StepAwaitingAPISecret     Step = "awaiting_api_secret"
	StepAwaitingEmail         Step = "awaiting_email"
	StepAwaitingPassword      Step = "awaiting_password"
	StepAwaitingAPIType       Step = "awaiting_api_type"
	StepAwaitingChannelRemove Step = "awaiting_channel_remove"
	StepAwaitingVideo         Step = "awaiting_video"
	StepAwaitingTitle         Step = "awaiting_title"
	StepAwaitingHashtags      Step = "awaiting_hashtags"
	StepUploading             Step = "uploading"
)

var flowSteps = map[Flow][]Step{
	FlowAddChannel: {StepAwaitingChannelName},
	FlowRegister: {
		StepAwaitingChannelName,
		StepAwaitingUsername,
		StepAwaitingAPIKey,
		StepAwaitingAPISecret,
		StepAwaitingEmail,
		StepAwaitingPassword,
		StepAwaitingAPIType,
	},
	FlowRemoveChannel: {StepAwaitingChannelRemove},
	FlowUpload:        {StepAwaitingVideo, StepAwaitingTitle, StepAwaitingHashtags, StepUploading},
}

func (f Flow) Has(step Step) bool {
	for _, s := range flowSteps[f] {
		if s == step {
			return true
		}
	}
	return false
}

func (f Flow) Valid() bool {
	_, ok := flowSteps[f]
	return ok
}

const (
	FieldFileID      = "file_id"
	FieldTitle       = "title"
	FieldHashtags    = "hashtags"
	FieldChannelName = "channel_name"
	FieldUsername    = "username"
	FieldAPIKey      = "api_key"
	FieldAPISecret   = "api_secret"
	FieldEmail       = "email"
	FieldPassword    = "password"
	FieldAPIType     = "api_type"
)

type UploadStatus string

const (
	UploadPending UploadStatus = "pending"
	UploadSuccess UploadStatus = "success"
	UploadFailed  UploadStatus = "failed"
)

type EventKind string

const (
	EventCommand EventKind = "command"
	EventText    EventKind = "text"
	EventMedia   EventKind = "media"
)

// APIType is the kind of hosting API key a registered account uses.
type APIType string

const (
	APITypePublic  APIType = "Public"
	APITypePrivate APIType = "Private"
)

// ParseAPIType accepts the type case-insensitively, with or without a trailing "key".
func ParseAPIType(s string) (APIType, bool) {
	v := strings.ToLower(strings.TrimSpace(s))
	v = strings.TrimSpace(strings.TrimSuffix(v, "key"))
	switch v {
	case "public":
		return APITypePublic, true
	case "private":
		return APITypePrivate, true
	}
	return "", false
}
