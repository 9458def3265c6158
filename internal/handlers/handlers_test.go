package handlers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BatmanBruc/bat-bot-uploader/internal/messages"
	"github.com/BatmanBruc/bat-bot-uploader/internal/session"
	"github.com/BatmanBruc/bat-bot-uploader/store"
	"github.com/BatmanBruc/bat-bot-uploader/types"
)

const chat int64 = 100

type fakeChannels struct {
	mu       sync.Mutex
	channels map[int64][]string
	accounts map[int64]types.HostingAccount
	err      error
}

func newFakeChannels() *fakeChannels {
	return &fakeChannels{channels: map[int64][]string{}, accounts: map[int64]types.HostingAccount{}}
}

func (f *fakeChannels) UpsertChannel(_ context.Context, id int64, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.channels[id] = []string{name}
	return nil
}

func (f *fakeChannels) ListChannels(_ context.Context, id int64) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.channels[id], nil
}

func (f *fakeChannels) RemoveChannel(_ context.Context, id int64, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	for _, n := range f.channels[id] {
		if n == name {
			delete(f.channels, id)
			delete(f.accounts, id)
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeChannels) UpsertChannelWithAccount(_ context.Context, ch types.Channel, acc types.HostingAccount) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.channels[ch.ConversationID] = []string{ch.Name}
	f.accounts[ch.ConversationID] = acc
	return nil
}

func (f *fakeChannels) GetHostingAccount(_ context.Context, id int64) (types.HostingAccount, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	acc, ok := f.accounts[id]
	return acc, ok, nil
}

type sent struct {
	text string
	kb   *types.Keyboard
}

type fakeNotifier struct {
	mu   sync.Mutex
	msgs []sent
}

func (n *fakeNotifier) SendMessage(_ context.Context, _ int64, text string, kb *types.Keyboard) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, sent{text: text, kb: kb})
	return nil
}

func (n *fakeNotifier) last() sent {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.msgs) == 0 {
		return sent{}
	}
	return n.msgs[len(n.msgs)-1]
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.msgs)
}

type fakeUploads struct {
	mu       sync.Mutex
	jobs     []types.UploadJob
	inFlight map[int64]bool
	err      error
}

func (f *fakeUploads) Enqueue(job types.UploadJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	if f.inFlight == nil {
		f.inFlight = map[int64]bool{}
	}
	f.inFlight[job.ConversationID] = true
	return nil
}

func (f *fakeUploads) InFlight(id int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inFlight[id]
}

type env struct {
	h        *Handlers
	backend  *store.MemorySessionStore
	sessions *session.Store
	channels *fakeChannels
	notifier *fakeNotifier
	uploads  *fakeUploads
}

func newEnv() *env {
	backend := store.NewMemorySessionStore(time.Hour)
	e := &env{
		backend:  backend,
		sessions: session.NewStore(backend),
		channels: newFakeChannels(),
		notifier: &fakeNotifier{},
		uploads:  &fakeUploads{},
	}
	e.h = NewHandlers(e.sessions, e.channels, e.notifier, e.uploads, zerolog.Nop())
	return e
}

func (e *env) command(t *testing.T, cmd string) string {
	t.Helper()
	require.NoError(t, e.h.Handle(context.Background(), types.Event{ConversationID: chat, Kind: types.EventCommand, Command: cmd, Text: cmd}))
	return e.notifier.last().text
}

func (e *env) text(t *testing.T, text string) string {
	t.Helper()
	require.NoError(t, e.h.Handle(context.Background(), types.Event{ConversationID: chat, Kind: types.EventText, Text: text}))
	return e.notifier.last().text
}

func (e *env) media(t *testing.T, m types.Media) string {
	t.Helper()
	require.NoError(t, e.h.Handle(context.Background(), types.Event{ConversationID: chat, Kind: types.EventMedia, Media: &m}))
	return e.notifier.last().text
}

func (e *env) session(t *testing.T) *types.Session {
	t.Helper()
	s, err := e.backend.Get(context.Background(), chat)
	if errors.Is(err, types.ErrSessionNotFound) {
		return nil
	}
	require.NoError(t, err)
	return s
}

var video = types.Media{FileID: "vid-1", MimeType: "video/mp4", IsVideo: true}

func TestUploadFlowEnqueuesJob(t *testing.T) {
	e := newEnv()

	assert.Equal(t, messages.AskVideo(), e.command(t, "/upload"))
	assert.Equal(t, types.StepAwaitingVideo, e.session(t).Step())

	assert.Equal(t, messages.AskTitle(), e.media(t, video))
	assert.Equal(t, messages.AskHashtags(), e.text(t, "My Title"))
	assert.Equal(t, messages.UploadStarted(), e.text(t, "#fun #cats"))

	sess := e.session(t)
	require.NotNil(t, sess)
	assert.Equal(t, types.StepUploading, sess.Step())

	require.Len(t, e.uploads.jobs, 1)
	job := e.uploads.jobs[0]
	assert.Equal(t, chat, job.ConversationID)
	assert.Equal(t, "vid-1", job.MediaRef)
	assert.Equal(t, "My Title", job.Title)
	assert.Equal(t, "#fun #cats", job.Hashtags)
	assert.Len(t, job.ID, 36)
}

func TestUploadingSessionRejectsInput(t *testing.T) {
	e := newEnv()
	e.command(t, "/upload")
	e.media(t, video)
	e.text(t, "t")
	e.text(t, "#a")

	assert.Equal(t, messages.UploadInProgress(), e.text(t, "hello"))
	assert.Equal(t, messages.UploadInProgress(), e.command(t, "/upload"))
	assert.Equal(t, messages.UploadInProgress(), e.command(t, "/cancel"))
	assert.Equal(t, messages.UploadInProgress(), e.media(t, video))
	assert.Equal(t, types.StepUploading, e.session(t).Step())
	assert.Len(t, e.uploads.jobs, 1)
}

func TestOrphanedUploadingSessionIsDropped(t *testing.T) {
	e := newEnv()
	orphan := types.NewSession(chat, types.FlowUpload, types.Uploading{
		AwaitingHashtags: types.AwaitingHashtags{AwaitingTitle: types.AwaitingTitle{FileID: "f"}, Title: "t"},
		Hashtags:         "#a",
	})
	require.NoError(t, e.backend.Put(context.Background(), orphan))

	assert.Equal(t, messages.AskVideo(), e.command(t, "/upload"))
	assert.Equal(t, types.StepAwaitingVideo, e.session(t).Step())
}

func TestEnqueueFailureClearsSession(t *testing.T) {
	e := newEnv()
	e.uploads.err = errors.New("upload queue is full")
	e.command(t, "/upload")
	e.media(t, video)
	e.text(t, "t")

	assert.Equal(t, messages.UploadQueueFull(), e.text(t, "#a"))
	assert.Nil(t, e.session(t))
}

type failingPutBackend struct {
	*store.MemorySessionStore
	mu     sync.Mutex
	putErr error
}

func (b *failingPutBackend) Put(ctx context.Context, sess *types.Session) error {
	b.mu.Lock()
	err := b.putErr
	b.mu.Unlock()
	if err != nil {
		return err
	}
	return b.MemorySessionStore.Put(ctx, sess)
}

func TestUploadNotQueuedWhenSessionCannotBeSaved(t *testing.T) {
	e := newEnv()
	backend := &failingPutBackend{MemorySessionStore: e.backend}
	e.sessions = session.NewStore(backend)
	e.h = NewHandlers(e.sessions, e.channels, e.notifier, e.uploads, zerolog.Nop())

	e.command(t, "/upload")
	e.media(t, video)
	e.text(t, "My Title")

	backend.mu.Lock()
	backend.putErr = errors.New("redis: connection refused")
	backend.mu.Unlock()

	err := e.h.Handle(context.Background(), types.Event{ConversationID: chat, Kind: types.EventText, Text: "#fun #cats"})
	require.Error(t, err)
	assert.Empty(t, e.uploads.jobs)
	assert.Equal(t, messages.ErrorDefault(), e.notifier.last().text)
	assert.Nil(t, e.session(t))
	assert.False(t, e.h.isStarting(chat))

	backend.mu.Lock()
	backend.putErr = nil
	backend.mu.Unlock()

	// the next hashtag text starts nothing: the flow restarted from idle
	e.text(t, "#fun #cats")
	assert.Empty(t, e.uploads.jobs)
}

func TestMediaHandling(t *testing.T) {
	e := newEnv()

	assert.Equal(t, messages.UseUploadFirst(), e.media(t, video))
	assert.Nil(t, e.session(t))

	e.command(t, "/upload")
	assert.Equal(t, messages.NotAVideo(), e.media(t, types.Media{FileID: "p", MimeType: "image/jpeg"}))
	assert.Equal(t, types.StepAwaitingVideo, e.session(t).Step())

	assert.Equal(t, messages.AskVideo(), e.text(t, "where is my video"), "text while waiting for a video re-prompts")
	assert.Equal(t, types.StepAwaitingVideo, e.session(t).Step())

	assert.Equal(t, messages.AskTitle(), e.media(t, types.Media{FileID: "doc", MimeType: "video/webm", IsVideo: true}))
	assert.Equal(t, messages.FlowBusy(), e.media(t, video), "a second video mid-flow changes nothing")
	st, ok := e.session(t).State.(types.AwaitingTitle)
	require.True(t, ok)
	assert.Equal(t, "doc", st.FileID)
}

func TestTextWithoutSessionIsIgnored(t *testing.T) {
	e := newEnv()
	require.NoError(t, e.h.Handle(context.Background(), types.Event{ConversationID: chat, Kind: types.EventText, Text: "hi"}))
	assert.Zero(t, e.notifier.count())
	assert.Nil(t, e.session(t))
}

func TestFlowCommandsRequireIdle(t *testing.T) {
	e := newEnv()
	e.command(t, "/addchannel")

	for _, cmd := range []string{"/upload", "/register", "/removechannel", "/addchannel"} {
		assert.Equal(t, messages.FlowBusy(), e.command(t, cmd), cmd)
	}
	sess := e.session(t)
	assert.Equal(t, types.FlowAddChannel, sess.Flow)
	assert.Equal(t, types.StepAwaitingChannelName, sess.Step())
}

func TestInformationalCommandsKeepState(t *testing.T) {
	e := newEnv()
	e.command(t, "/upload")

	assert.Equal(t, messages.StartWelcome(), e.command(t, "/start"))
	assert.Equal(t, [][]string{{"/upload"}}, e.notifier.last().kb.Rows)
	assert.Equal(t, messages.Help(), e.command(t, "/help"))
	assert.Equal(t, messages.ChannelList(nil), e.command(t, "/channellist"))
	assert.Equal(t, messages.ErrorUnknownCommand(), e.command(t, "/nope"))
	assert.Equal(t, types.StepAwaitingVideo, e.session(t).Step())
}

func TestCancel(t *testing.T) {
	e := newEnv()
	assert.Equal(t, messages.NothingToCancel(), e.command(t, "/cancel"))

	e.command(t, "/register")
	e.text(t, "chan")
	assert.Equal(t, messages.Cancelled(), e.command(t, "/cancel"))
	assert.True(t, e.notifier.last().kb.Remove)
	assert.Nil(t, e.session(t))
}

func TestAddAndRemoveChannel(t *testing.T) {
	e := newEnv()

	e.command(t, "/addchannel")
	assert.Equal(t, messages.ChannelAdded("My Channel"), e.text(t, "My Channel"))
	assert.Nil(t, e.session(t))
	assert.Equal(t, messages.ChannelList([]string{"My Channel"}), e.command(t, "/channellist"))

	e.command(t, "/removechannel")
	assert.Equal(t, messages.ChannelNotFound(), e.text(t, "Other"))
	assert.Nil(t, e.session(t))

	e.command(t, "/removechannel")
	assert.Equal(t, messages.ChannelRemoved("My Channel"), e.text(t, "My Channel"))
	assert.Equal(t, messages.ChannelList(nil), e.command(t, "/channellist"))
}

func TestExtendedRegistration(t *testing.T) {
	e := newEnv()

	assert.Equal(t, messages.AskChannelName(), e.command(t, "/register"))
	assert.Equal(t, messages.AskUsername(), e.text(t, "Travel"))
	assert.Equal(t, messages.AskAPIKey(), e.text(t, "alice"))
	assert.Equal(t, messages.AskAPISecret(), e.text(t, "key-1"))
	assert.Equal(t, messages.AskEmail(), e.text(t, "secret-1"))

	assert.Equal(t, messages.InvalidEmail(), e.text(t, "not-an-email"))
	assert.Equal(t, types.StepAwaitingEmail, e.session(t).Step())

	assert.Equal(t, messages.AskPassword(), e.text(t, "alice@example.com"))
	assert.Equal(t, messages.AskAPIType(), e.text(t, "pw"))
	assert.Equal(t, [][]string{{"Public", "Private"}}, e.notifier.last().kb.Rows)

	assert.Equal(t, messages.InvalidAPIType(), e.text(t, "Secret"))
	assert.Equal(t, types.StepAwaitingAPIType, e.session(t).Step())

	assert.Equal(t, messages.ChannelRegistered("Travel"), e.text(t, "private"))
	assert.True(t, e.notifier.last().kb.Remove)
	assert.Nil(t, e.session(t))

	acc, ok, err := e.channels.GetHostingAccount(context.Background(), chat)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, types.HostingAccount{
		ConversationID: chat,
		Username:       "alice",
		APIKey:         "key-1",
		APISecret:      "secret-1",
		Email:          "alice@example.com",
		Password:       "pw",
		APIType:        types.APITypePrivate,
	}, acc)
	assert.Equal(t, []string{"Travel"}, e.channels.channels[chat])
}

func TestStoreFailureClearsSessionWithGenericReply(t *testing.T) {
	e := newEnv()
	e.command(t, "/addchannel")
	e.channels.err = errors.New("db down")

	err := e.h.Handle(context.Background(), types.Event{ConversationID: chat, Kind: types.EventText, Text: "chan"})
	require.Error(t, err)
	assert.Equal(t, messages.ErrorDefault(), e.notifier.last().text)
	assert.Nil(t, e.session(t))
}

func TestListFailureKeepsSession(t *testing.T) {
	e := newEnv()
	e.command(t, "/upload")
	e.channels.err = errors.New("db down")

	assert.Equal(t, messages.ErrorListChannels(), e.command(t, "/channellist"))
	assert.Equal(t, types.StepAwaitingVideo, e.session(t).Step())
}

func TestTurnsForDifferentChatsAreIndependent(t *testing.T) {
	e := newEnv()
	var wg sync.WaitGroup
	for i := int64(1); i <= 20; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			ctx := context.Background()
			assert.NoError(t, e.h.Handle(ctx, types.Event{ConversationID: id, Kind: types.EventCommand, Command: "/upload"}))
			assert.NoError(t, e.h.Handle(ctx, types.Event{ConversationID: id, Kind: types.EventMedia, Media: &video}))
			assert.NoError(t, e.h.Handle(ctx, types.Event{ConversationID: id, Kind: types.EventText, Text: "title"}))
		}(i)
	}
	wg.Wait()

	for i := int64(1); i <= 20; i++ {
		s, err := e.backend.Get(context.Background(), i)
		require.NoError(t, err)
		assert.Equal(t, types.StepAwaitingHashtags, s.Step())
	}
}
