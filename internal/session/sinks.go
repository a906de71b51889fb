package session

import "driftpursuit/worldclient/internal/protocol"

type recordingAudio struct {
	s    *Session
	next protocol.AudioSink
}

func (a recordingAudio) PlaySound(sound uint16, volume uint8) {
	a.s.record("sound", map[string]any{"sound": sound, "volume": volume})
	if a.next != nil {
		a.next.PlaySound(sound, volume)
	}
}

type recordingChat struct {
	s    *Session
	next protocol.ChatSink
}

func (c recordingChat) AppendLine(channel uint8, text string) {
	c.s.record("chat", map[string]any{"channel": channel, "text": text})
	if c.next != nil {
		c.next.AppendLine(channel, text)
	}
}

// sinks wraps the configured side-effect sinks so a capture sees every cue.
func (s *Session) sinks() (protocol.AudioSink, protocol.ChatSink) {
	if s.opts.Recorder == nil {
		return s.opts.Audio, s.opts.Chat
	}
	return recordingAudio{s: s, next: s.opts.Audio}, recordingChat{s: s, next: s.opts.Chat}
}
