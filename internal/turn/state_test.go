package turn

import (
	"bytes"
	"testing"
)

func TestStateCloneIsIndependent(t *testing.T) {
	orig := State{
		Messages:   []Message{{Role: RoleHuman, Content: "hi"}},
		AudioInput: &Audio{Data: []byte{1, 2, 3}, MIMEType: "audio/wav", Size: 3},
	}

	clone := orig.Clone()
	clone.Messages = append(clone.Messages, Message{Role: RoleAI, Content: "hello"})
	clone.AudioInput.MIMEType = "audio/webm"
	clone.TTSOutput = &Audio{Data: []byte{9}, Size: 1}

	if len(orig.Messages) != 1 {
		t.Fatalf("original messages grew to %d", len(orig.Messages))
	}
	if orig.AudioInput.MIMEType != "audio/wav" {
		t.Fatalf("original AudioInput.MIMEType = %q, want audio/wav", orig.AudioInput.MIMEType)
	}
	if orig.TTSOutput != nil {
		t.Fatalf("original TTSOutput = %+v, want nil", orig.TTSOutput)
	}
	if !bytes.Equal(clone.AudioInput.Data, orig.AudioInput.Data) {
		t.Fatalf("clone must share audio bytes")
	}
}

func TestAudioFingerprint(t *testing.T) {
	a := &Audio{Data: []byte{0x01, 0x02}, Size: 2}
	b := &Audio{Data: []byte{0x01, 0x02}, Size: 2}
	c := &Audio{Data: []byte{0x01, 0x03}, Size: 2}

	if a.Fingerprint() != b.Fingerprint() {
		t.Fatalf("identical clips: %q != %q", a.Fingerprint(), b.Fingerprint())
	}
	if a.Fingerprint() == c.Fingerprint() {
		t.Fatalf("distinct clips share fingerprint %q", a.Fingerprint())
	}
	if got, want := a.Fingerprint(), "2:0102"; got != want {
		t.Fatalf("Fingerprint() = %q, want %q", got, want)
	}

	var missing *Audio
	if missing.Fingerprint() != "" {
		t.Fatalf("nil fingerprint = %q, want empty", missing.Fingerprint())
	}
}

func TestAudioFingerprintUsesShortPrefix(t *testing.T) {
	long := &Audio{Data: bytes.Repeat([]byte{0xAB}, 64), Size: 64}
	want := "64:" + "abababababababababababababababab"
	if got := long.Fingerprint(); got != want {
		t.Fatalf("Fingerprint() = %q, want %q", got, want)
	}
}

func TestStateLastMessage(t *testing.T) {
	var empty State
	if _, ok := empty.LastMessage(); ok {
		t.Fatalf("LastMessage() on empty state reported ok")
	}

	s := State{Messages: []Message{
		{Role: RoleHuman, Content: "one"},
		{Role: RoleAI, Content: "two"},
	}}
	last, ok := s.LastMessage()
	if !ok || last.Content != "two" {
		t.Fatalf("LastMessage() = %+v, %v; want two, true", last, ok)
	}
}
