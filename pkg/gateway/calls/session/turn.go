package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vango-go/vai-phone/pkg/core/completion"
	"github.com/vango-go/vai-phone/pkg/core/voice/codec"
	"github.com/vango-go/vai-phone/pkg/gateway/calls/callrecord"
	"github.com/vango-go/vai-phone/pkg/gateway/calls/protocol"
)

const (
	msgTroubleTransfer = "I'm sorry, I'm having trouble right now. Let me transfer you to someone who can help."
	msgRepeat          = "I'm sorry, I didn't catch that. Could you please repeat what you said?"
	msgTransferFailed  = "I'm sorry, I couldn't transfer your call right now. Is there anything else I can help with?"

	reasonTechnicalError = "Technical error during AI processing"

	playbackSlack = time.Second
)

type turnKind int

const (
	turnGreeting turnKind = iota
	turnReply
)

type turnRequest struct {
	id      int
	kind    turnKind
	text    string
	history []completion.Message
}

type turnResult struct {
	id       int
	kind     turnKind
	spoken   []callrecord.Entry
	outcome  string
	err      error
	duration time.Duration
}

// turn is one pass of the completion-to-speech pipeline. It runs on its own
// goroutine and reports back through turnResult; it never touches the
// session loop's state.
type turn struct {
	s   *Session
	res turnResult
}

type utterance struct {
	mark  string
	done  <-chan struct{}
	audio time.Duration
}

func (s *Session) runTurn(ctx context.Context, req turnRequest) turnResult {
	t := &turn{s: s, res: turnResult{id: req.id, kind: req.kind}}
	started := s.now()
	switch req.kind {
	case turnGreeting:
		t.greet(ctx, req.text)
	default:
		t.reply(ctx, req.history)
	}
	t.res.duration = s.now().Sub(started)
	return t.res
}

func (t *turn) greet(ctx context.Context, text string) {
	t.res.outcome = "greeting"
	if _, err := t.speak(ctx, text); err != nil {
		if errors.Is(err, errEgress) {
			t.hangup(ctx, text, err)
			return
		}
		t.fail(ctx, "synthesis", err)
	}
}

func (t *turn) reply(ctx context.Context, history []completion.Message) {
	s := t.s
	agent := s.snapshot.Agent
	reply, err := s.completer.Complete(ctx, completion.Request{
		System:      s.systemPrompt,
		Messages:    history,
		Model:       agent.Model,
		Temperature: agent.Temperature,
		MaxTokens:   s.cfg.MaxTokens,
	})
	if err != nil {
		t.fail(ctx, "completion", err)
		return
	}

	text, reason, marked := ExtractTransfer(reply)
	if marked && s.snapshot.EscalationEnabled() {
		if text != "" {
			u, err := t.speak(ctx, text)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Warn("speak before transfer", "error", err)
			} else {
				t.waitPlayback(ctx, u)
			}
		}
		t.transfer(ctx, reason)
		return
	}
	if text == "" {
		t.fail(ctx, "completion", completion.ErrEmptyCompletion)
		return
	}

	t.res.outcome = "reply"
	if _, err := t.speak(ctx, text); err != nil {
		if errors.Is(err, errEgress) {
			t.hangup(ctx, text, err)
			return
		}
		t.fail(ctx, "synthesis", err)
	}
}

// fail speaks the fallback for a broken turn. With an escalation number the
// caller is handed to a human; otherwise they are asked to repeat.
func (t *turn) fail(ctx context.Context, stage string, cause error) {
	if ctx.Err() != nil {
		return
	}
	s := t.s
	s.metrics.RecordFallback(stage)
	s.metrics.RecordProviderError(stage)
	t.res.outcome = "fallback"
	t.res.err = fmt.Errorf("%s: %w", stage, cause)

	if s.snapshot.EscalationEnabled() {
		u, err := t.speak(ctx, msgTroubleTransfer)
		if err != nil {
			t.hangup(ctx, msgTroubleTransfer, err)
			return
		}
		t.waitPlayback(ctx, u)
		t.transfer(ctx, reasonTechnicalError)
		return
	}
	if _, err := t.speak(ctx, msgRepeat); err != nil {
		t.hangup(ctx, msgRepeat, err)
	}
}

func (t *turn) transfer(ctx context.Context, reason string) {
	if ctx.Err() != nil {
		return
	}
	s := t.s
	number := s.snapshot.EscalationNumber
	cctx, cancel := s.controlContext(ctx)
	err := s.calls.Transfer(cctx, s.callSID, number)
	cancel()
	if err != nil {
		s.metrics.RecordTransfer(false)
		s.logger.Error("transfer call", "error", err, "reason", reason)
		t.res.err = fmt.Errorf("transfer: %w", err)
		if ctx.Err() != nil {
			return
		}
		if _, err := t.speak(ctx, msgTransferFailed); err != nil {
			t.hangup(ctx, msgTransferFailed, err)
		}
		return
	}
	s.transferred.Store(true)
	s.metrics.RecordTransfer(true)
	t.res.outcome = "transfer"
	s.logger.Info("call transferred", "reason", reason)

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.PersistTimeout)
	defer cancel()
	if err := s.recorder.RecordTransfer(pctx, s.call.CallID, number, reason); err != nil {
		s.logger.Error("record transfer", "error", err)
	}
}

// hangup speaks text through call control and ends the call. It is the last
// resort when the media stream cannot carry audio.
func (t *turn) hangup(ctx context.Context, text string, cause error) {
	if ctx.Err() != nil {
		return
	}
	s := t.s
	s.logger.Error("speech failed, hanging up", "error", cause)
	s.hungUp.Store(true)
	t.res.outcome = "hangup"
	if t.res.err == nil {
		t.res.err = cause
	}
	cctx, cancel := s.controlContext(ctx)
	defer cancel()
	if err := s.calls.Hangup(cctx, s.callSID, text); err != nil {
		s.logger.Error("hang up call", "error", err)
		return
	}
	t.spoke(text)
}

// speak synthesizes text and queues it on the media stream followed by a
// mark. Synthesis errors are returned as is; write failures wrap errEgress.
func (t *turn) speak(ctx context.Context, text string) (*utterance, error) {
	s := t.s
	audio, err := s.synth.Synthesize(ctx, text, s.snapshot.VoiceID())
	if err != nil {
		return nil, err
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("synthesis returned no audio")
	}
	for _, frame := range codec.SplitFrames(audio, codec.FrameBytes) {
		if err := s.enqueue(ctx, protocol.NewMedia(s.streamSID, frame)); err != nil {
			return nil, wrapEgress(err)
		}
	}
	s.metrics.RecordAudio("out", len(audio))

	name := fmt.Sprintf("turn-%d", s.markSeq.Add(1))
	done := s.playback.expect(name)
	if err := s.enqueue(ctx, protocol.NewMark(s.streamSID, name)); err != nil {
		s.playback.resolve(name)
		return nil, wrapEgress(err)
	}
	t.spoke(text)
	return &utterance{
		mark:  name,
		done:  done,
		audio: time.Duration(codec.DurationMS(len(audio))) * time.Millisecond,
	}, nil
}

// waitPlayback blocks until the provider echoes the utterance's mark, or
// for roughly as long as the audio lasts, whichever comes first.
func (t *turn) waitPlayback(ctx context.Context, u *utterance) {
	if u == nil {
		return
	}
	wait := min(u.audio+playbackSlack, t.s.cfg.PlaybackWaitMax)
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-u.done:
	case <-timer.C:
		t.s.logger.Debug("playback mark not echoed", "mark", u.mark, "waited", wait)
	case <-ctx.Done():
	}
}

func (t *turn) spoke(text string) {
	t.res.spoken = append(t.res.spoken, callrecord.Entry{
		Role:      callrecord.RoleAssistant,
		Text:      text,
		Timestamp: t.s.now(),
	})
}

func wrapEgress(err error) error {
	if errors.Is(err, errEgress) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", errEgress, err)
}
