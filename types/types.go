package types

import (
	"context"
	"strings"
	"time"
)

type Channel struct {
	ConversationID int64
	Name           string
}

// HostingAccount holds the credentials collected by the extended registration.
type HostingAccount struct {
	ConversationID int64
	Username       string
	APIKey         string
	APISecret      string
	Email          string
	Password       string
	APIType        APIType
}

type UploadRecord struct {
	ID             int64
	ConversationID int64
	MediaRef       string
	Title          string
	Hashtags       string
	Status         UploadStatus
	PublishedURL   string
	CreatedAt      time.Time
	FinishedAt     *time.Time
}

type UploadJob struct {
	ID             string
	ConversationID int64
	MediaRef       string
	Title          string
	Hashtags       string
}

// Tags splits the hashtag text on whitespace. Tokens are passed through as typed.
func (j UploadJob) Tags() []string {
	return strings.Fields(j.Hashtags)
}

type Media struct {
	FileID   string
	FileName string
	MimeType string
	FileSize int64
	IsVideo  bool
}

// Event is one inbound user message, already classified by the transport.
type Event struct {
	ConversationID int64
	Kind           EventKind
	Command        string
	Args           string
	Text           string
	Media          *Media
}

// Keyboard is a reply keyboard offered with a prompt. Remove hides any keyboard shown before.
type Keyboard struct {
	Rows   [][]string
	Remove bool
}

type SessionBackend interface {
	// Get returns ErrSessionNotFound when the conversation is idle.
	Get(ctx context.Context, conversationID int64) (*Session, error)
	Put(ctx context.Context, session *Session) error
	Delete(ctx context.Context, conversationID int64) error
}

type ChannelStore interface {
	UpsertChannel(ctx context.Context, conversationID int64, name string) error
	ListChannels(ctx context.Context, conversationID int64) ([]string, error)
	RemoveChannel(ctx context.Context, conversationID int64, name string) (bool, error)
	UpsertChannelWithAccount(ctx context.Context, channel Channel, account HostingAccount) error
	GetHostingAccount(ctx context.Context, conversationID int64) (HostingAccount, bool, error)
}

type UploadLedger interface {
	CreateUpload(ctx context.Context, rec UploadRecord) (int64, error)
	MarkUploadSucceeded(ctx context.Context, id int64, url string) error
	MarkUploadFailed(ctx context.Context, id int64) error
}

type Notifier interface {
	SendMessage(ctx context.Context, conversationID int64, text string, kb *Keyboard) error
}

type MediaResolver interface {
	ResolveDownloadLocation(ctx context.Context, fileID string) (string, error)
}
