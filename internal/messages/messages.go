package messages

import (
	"fmt"
	"strings"
)

const ParseModeHTML = "HTML"

func Escape(s string) string {
	replacer := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		"\"", "&quot;",
		"'", "&#39;",
	)
	return replacer.Replace(strings.TrimSpace(s))
}

func StartWelcome() string {
	return "👋 <b>Welcome!</b>\nUpload videos to Dailymotion with /upload.\n\n" +
		"📺 Manage channels with /addchannel, /register, /channellist and /removechannel."
}

func Help() string {
	return "ℹ️ <b>Commands</b>\n" +
		"/upload - publish a video\n" +
		"/addchannel - save a channel name\n" +
		"/register - save a channel with its Dailymotion credentials\n" +
		"/channellist - show your channels\n" +
		"/removechannel - delete a channel\n" +
		"/cancel - abandon the current step"
}

func ErrorDefault() string {
	return "🚫 <b>Something went wrong</b>\nPlease start again."
}

func ErrorUnknownCommand() string {
	return "❓ <b>Unknown command</b>\nSee /help."
}

func FlowBusy() string {
	return "⚠️ <b>Finish or /cancel the current flow first.</b>"
}

func UploadInProgress() string {
	return "⏳ <b>Upload in progress</b>\nPlease wait for the result."
}

func Cancelled() string {
	return "↩️ Cancelled."
}

func NothingToCancel() string {
	return "Nothing to cancel."
}

func AskChannelName() string {
	return "📺 Enter channel name:"
}

func AskChannelToRemove() string {
	return "🗑 Enter channel name to remove:"
}

func ChannelAdded(name string) string {
	return fmt.Sprintf("✅ Channel <b>%s</b> added!", Escape(name))
}

func ChannelRegistered(name string) string {
	return fmt.Sprintf("✅ Channel <b>%s</b> registered with its Dailymotion account!", Escape(name))
}

func ChannelRemoved(name string) string {
	return fmt.Sprintf("🗑 Channel <b>%s</b> removed!", Escape(name))
}

func ChannelNotFound() string {
	return "🔍 Channel not found."
}

func ChannelList(names []string) string {
	if len(names) == 0 {
		return "📭 No channels found."
	}
	var b strings.Builder
	b.WriteString("📺 <b>Your channels:</b>")
	for _, n := range names {
		b.WriteString("\n• ")
		b.WriteString(Escape(n))
	}
	return b.String()
}

func ErrorListChannels() string {
	return "🚫 <b>Error listing channels.</b>"
}

func AskUsername() string {
	return "👤 Enter your Dailymotion username:"
}

func AskAPIKey() string {
	return "🔑 Enter your API key:"
}

func AskAPISecret() string {
	return "🔐 Enter your API secret:"
}

func AskEmail() string {
	return "📧 Enter the account e-mail:"
}

func InvalidEmail() string {
	return "📧 That does not look like an e-mail address. Try again:"
}

func AskPassword() string {
	return "🔒 Enter the account password:"
}

func AskAPIType() string {
	return "🧩 Choose the API key type: <b>Public</b> or <b>Private</b>"
}

func InvalidAPIType() string {
	return "🧩 Please answer <b>Public</b> or <b>Private</b>:"
}

func AskVideo() string {
	return "🎬 Send the video to upload to Dailymotion."
}

func UseUploadFirst() string {
	return "🎬 Use /upload first."
}

func NotAVideo() string {
	return "🎞 <b>That is not a video</b>\nSend a video file."
}

func AskTitle() string {
	return "📥 <b>Received video!</b>\nEnter the video title:"
}

func AskHashtags() string {
	return "🏷 Enter hashtags (e.g., #fun #video):"
}

func UploadStarted() string {
	return "⚙️ <b>Received details!</b>\nUploading to Dailymotion..."
}

func UploadQueueFull() string {
	return "⏳ <b>Too many uploads right now</b>\nPlease try again in a few minutes."
}

func ErrorSaveUpload() string {
	return "🚫 <b>Error saving upload details.</b>"
}

func ErrorDownload() string {
	return "🚫 <b>Error downloading video.</b>"
}

func UploadDone(url string) string {
	return fmt.Sprintf("✅ <b>Done!</b> Watch it here: %s", Escape(url))
}

func UploadFailed(err error) string {
	msg := "🚫 <b>Upload failed</b>"
	if err != nil {
		msg += "\n" + fmt.Sprintf("<code>%s</code>", Escape(err.Error()))
	}
	return msg
}

func UploadAborted() string {
	return "⛔️ <b>Upload interrupted</b>\nThe bot is restarting. Please /upload again."
}
