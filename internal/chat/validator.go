package chat

import (
	"fmt"
	"unicode/utf8"
)

const (
	MaxMessageBytes  = 4096 // server rejects larger frames
	MaxTextChars     = 2000
	MaxVoiceDuration = 60 // seconds
)

// ValidateText checks a compose-field text before a placeholder is created
// for it, so that a send the server would reject never shows up in the log.
func ValidateText(text string) error {
	switch {
	case text == "":
		return fmt.Errorf("nothing to send")
	case !utf8.ValidString(text):
		return fmt.Errorf("text is not valid UTF-8")
	case len(text) > MaxMessageBytes:
		return fmt.Errorf("text is longer than %d bytes", MaxMessageBytes)
	case utf8.RuneCountInString(text) > MaxTextChars:
		return fmt.Errorf("text is longer than %d characters", MaxTextChars)
	}
	return nil
}

// ValidateVoiceDuration checks the recorded length of a voice message.
func ValidateVoiceDuration(seconds int) error {
	if seconds <= 0 {
		return fmt.Errorf("voice message has no duration")
	}
	if seconds > MaxVoiceDuration {
		return fmt.Errorf("voice message exceeds %d seconds", MaxVoiceDuration)
	}
	return nil
}

// Validate checks an outgoing message of any type before it is sent.
func (m Message) Validate() error {
	switch m.Type {
	case TypeText:
		return ValidateText(m.Content)
	case TypeVoice:
		return ValidateVoiceDuration(m.VoiceDuration)
	case TypeImage:
		return nil
	default:
		return fmt.Errorf("unknown content type %q", m.Type)
	}
}
