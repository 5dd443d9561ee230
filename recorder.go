package pairchat

import (
	"context"
	"fmt"
)

// ============================================================================
// Voice messages
// ============================================================================

// AudioClip is a finished voice recording ready to send.
type AudioClip struct {
	Data     []byte
	MimeType string
}

// Recorder captures audio. Start begins capture; Stop ends it and returns
// the clip. Implementations live with the presentation layer, tests use a
// canned fake.
type Recorder interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) (AudioClip, error)
}

// SendVoice uploads a clip and sends it as a voice message. The clip is
// staged as a timestamped webm file and goes through the regular send path,
// so it gets the same validation, progress tracking, and labeling as any
// other attachment.
func (s *Session) SendVoice(ctx context.Context, clip AudioClip) (Message, error) {
	if len(clip.Data) == 0 {
		return Message{}, validationErrorf("empty recording")
	}
	mime := clip.MimeType
	if mime == "" {
		mime = "audio/webm"
	}
	file := File{
		Name:     fmt.Sprintf("voice_message_%d.webm", s.now().UnixMilli()),
		MimeType: mime,
		Data:     clip.Data,
	}
	if errs := s.attachments.AddFiles(file); len(errs) > 0 {
		return Message{}, errs[0]
	}
	msg, failures, err := s.SendMessage(ctx, "")
	if err != nil {
		return Message{}, err
	}
	if len(failures) > 0 {
		return Message{}, failures[0].Err
	}
	return msg, nil
}

// RecordAndSend drives a recorder through one capture and sends the result.
// Single-flight: a second call while a recording is active returns a
// validation error.
func (s *Session) RecordAndSend(ctx context.Context, rec Recorder) (Message, error) {
	s.mu.Lock()
	if s.recording {
		s.mu.Unlock()
		return Message{}, validationErrorf("a recording is already active")
	}
	s.recording = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.recording = false
		s.mu.Unlock()
	}()

	if err := rec.Start(ctx); err != nil {
		return Message{}, remoteError("record", err)
	}
	clip, err := rec.Stop(ctx)
	if err != nil {
		return Message{}, remoteError("record", err)
	}
	return s.SendVoice(ctx, clip)
}

// Recording reports whether a capture is in progress.
func (s *Session) Recording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recording
}
