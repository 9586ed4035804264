package turn

import "fmt"

// Role identifies the author of a conversation message.
type Role string

const (
	RoleHuman Role = "human"
	RoleAI    Role = "ai"
)

// Message is one conversation entry.
type Message struct {
	Role    Role
	Content string
}

// Audio is one encoded clip moving through the pipeline.
type Audio struct {
	Data     []byte
	MIMEType string
	Size     int
}

// Fingerprint derives a cheap identity from the size and a short payload
// prefix. Two deliveries of the same synthesis result share a fingerprint.
func (a *Audio) Fingerprint() string {
	if a == nil {
		return ""
	}
	prefix := a.Data
	if len(prefix) > 16 {
		prefix = prefix[:16]
	}
	return fmt.Sprintf("%d:%x", a.Size, prefix)
}

// State is the unit of pipeline data. Stages never mutate a State in place;
// they extend a clone and return it, so a caller's copy stays intact.
type State struct {
	Messages   []Message
	AudioInput *Audio
	TTSOutput  *Audio
}

// Clone copies the message list and the audio descriptors. Audio bytes are
// shared; nothing downstream writes into them.
func (s State) Clone() State {
	out := State{
		Messages: append([]Message(nil), s.Messages...),
	}
	if s.AudioInput != nil {
		a := *s.AudioInput
		out.AudioInput = &a
	}
	if s.TTSOutput != nil {
		a := *s.TTSOutput
		out.TTSOutput = &a
	}
	return out
}

// LastMessage returns the newest entry, if any.
func (s State) LastMessage() (Message, bool) {
	if len(s.Messages) == 0 {
		return Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}
