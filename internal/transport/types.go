package transport

import "context"

// Platform identifies an outbound chat platform.
type Platform string

const (
	PlatformTelegram Platform = "telegram"
)

// MediaKind describes the attachment type of a campaign message.
type MediaKind string

const (
	MediaNone     MediaKind = ""
	MediaPhoto    MediaKind = "photo"
	MediaVideo    MediaKind = "video"
	MediaDocument MediaKind = "document"
)

// CaptionLimit is the maximum caption length (in runes) the platform accepts
// on a media message. Longer captions must be truncated before dispatch.
const CaptionLimit = 1024

// TextLimit is the maximum length of a plain text message.
const TextLimit = 4096

// Target addresses one external channel/group, optionally a forum thread.
type Target struct {
	ChatID   int64
	ThreadID int // 0 if none
}

// Button is a single URL button attached below a message.
type Button struct {
	Label string
	URL   string
}

// Message is the outbound payload: text (or a media attachment with the text
// as caption) plus up to two URL buttons.
type Message struct {
	Text      string
	MediaRef  string // platform file id or fetchable URL; empty if no media
	MediaKind MediaKind
	Buttons   []Button
}

// MessageRef identifies a sent message on the platform.
type MessageRef struct {
	ChatID    int64
	MessageID int
}

// Sender is one outbound identity on a platform. Implementations must be safe
// for sequential re-use and must respect ctx cancellation/deadline.
type Sender interface {
	Platform() Platform
	// Label identifies the credential behind this sender (for logs/rotation).
	Label() string
	Send(ctx context.Context, to Target, msg Message) (MessageRef, error)
}
