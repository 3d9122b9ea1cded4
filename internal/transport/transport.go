package transport

import "errors"

// Failure classes, used by the bot loop's breaker to count strikes per
// kind of platform trouble.
const (
	FailNetwork = "network"
	FailDecode  = "decode"
	FailAPI     = "api"
)

// Failure wraps a platform error with its class.
type Failure struct {
	Class string
	Err   error
}

func (f *Failure) Error() string {
	return f.Class + ": " + f.Err.Error()
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// FailureClass extracts the class from a transport error, "unknown" for
// errors that carry none.
func FailureClass(err error) string {
	var f *Failure
	if errors.As(err, &f) {
		return f.Class
	}
	return "unknown"
}

// Transport is the messaging-platform abstraction consumed by the bot
// loop: it delivers (identity, text) updates and accepts reply text.
type Transport interface {
	GetUpdates(offset int64, timeout int) ([]Update, error)
	SendMessage(chatID int64, text string) error
	SendMenu(chatID int64, text string, buttons [][]Button) error
	SendTyping(chatID int64) error
}

// Update represents one incoming platform update.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

// Message represents an inbound message.
type Message struct {
	Chat Chat    `json:"chat"`
	Text *string `json:"text,omitempty"`
	Date int64   `json:"date"`
}

// Chat identifies a conversation participant.
type Chat struct {
	ID int64 `json:"id"`
}

// Button is one entry of an inline quick-action menu. Pressing it
// delivers Command back through GetUpdates as ordinary message text.
type Button struct {
	Label   string
	Command string
}
