// Package session runs one phone call: it terminates the media stream,
// feeds caller audio to speech recognition, and drives the
// completion-to-speech turns that answer the caller.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vango-go/vai-phone/pkg/core/agents"
	"github.com/vango-go/vai-phone/pkg/core/completion"
	"github.com/vango-go/vai-phone/pkg/core/prompt"
	"github.com/vango-go/vai-phone/pkg/core/voice/stt"
	"github.com/vango-go/vai-phone/pkg/gateway/calls/callrecord"
	"github.com/vango-go/vai-phone/pkg/gateway/calls/protocol"
	"github.com/vango-go/vai-phone/pkg/gateway/calls/registry"
	"github.com/vango-go/vai-phone/pkg/gateway/metrics"
)

// State is where a session is in the call lifecycle.
type State int32

const (
	StateConnecting State = iota
	StateIdle
	StateTurn
	StateTransferring
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateIdle:
		return "streaming-idle"
	case StateTurn:
		return "turn-in-progress"
	case StateTransferring:
		return "transferring"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var errEgress = errors.New("media stream write failed")

// Transcriber is the live speech recognition stream for a call.
type Transcriber interface {
	Send(frame []byte) error
	Close() error
}

// TranscriberFunc opens a Transcriber that reports through handlers.
type TranscriberFunc func(ctx context.Context, handlers stt.Handlers) (Transcriber, error)

// Synthesizer turns reply text into line-encoded audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID string) ([]byte, error)
}

// CallController acts on the phone call outside the media stream.
type CallController interface {
	Transfer(ctx context.Context, callSID, number string) error
	Hangup(ctx context.Context, callSID, message string) error
}

// Call identifies the call a media stream belongs to.
type Call struct {
	CallID      string
	AgentID     string
	WorkspaceID string
	CallSID     string
}

type Config struct {
	WriteTimeout       time.Duration
	PingInterval       time.Duration
	MaxMessageBytes    int64
	PlaybackWaitMax    time.Duration
	MaxTokens          int
	OutboundQueueSize  int
	PersistTimeout     time.Duration
	// CallControlTimeout bounds a transfer or hangup request. Those requests
	// are not canceled with their turn.
	CallControlTimeout time.Duration
}

type Dependencies struct {
	Conn            *websocket.Conn
	Logger          *slog.Logger
	Registry        *registry.Registry
	Metrics         *metrics.Metrics
	Snapshot        *agents.Snapshot
	Call            Call
	OpenTranscriber TranscriberFunc
	Completer       completion.Completer
	Synthesizer     Synthesizer
	Calls           CallController
	Recorder        callrecord.Recorder
	SessionID       string
	Config          Config
	Now             func() time.Time
}

type Session struct {
	conn         *websocket.Conn
	logger       *slog.Logger
	registry     *registry.Registry
	metrics      *metrics.Metrics
	snapshot     *agents.Snapshot
	call         Call
	openSTT      TranscriberFunc
	completer    completion.Completer
	synth        Synthesizer
	calls        CallController
	recorder     callrecord.Recorder
	sessionID    string
	systemPrompt string
	cfg          Config
	now          func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	state      atomic.Int32
	outbound   chan []byte
	writerDone chan struct{}
	events     chan sttEvent
	turnDone   chan turnResult
	playback   *playbackTracker
	markSeq    atomic.Int64

	// Set by the turn worker the moment a transfer succeeds so teardown
	// sees it even if the stream stops before the turn result is read.
	transferred atomic.Bool
	hungUp      atomic.Bool

	// Fixed once the start event is handled.
	streamSID string
	callSID   string
}

type inboundFrame struct {
	messageType int
	data        []byte
	err         error
}

type sttEventKind int

const (
	sttFinal sttEventKind = iota
	sttError
	sttClosed
)

type sttEvent struct {
	kind sttEventKind
	text string
	err  error
}

func New(deps Dependencies) (*Session, error) {
	if deps.Conn == nil {
		return nil, fmt.Errorf("connection is required")
	}
	if deps.Snapshot == nil {
		return nil, fmt.Errorf("agent snapshot is required")
	}
	if deps.Completer == nil {
		return nil, fmt.Errorf("completer is required")
	}
	if deps.Synthesizer == nil {
		return nil, fmt.Errorf("synthesizer is required")
	}
	if deps.Calls == nil {
		return nil, fmt.Errorf("call controller is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Recorder == nil {
		deps.Recorder = callrecord.Discard{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Config.OutboundQueueSize <= 0 {
		deps.Config.OutboundQueueSize = 256
	}
	if deps.Config.PlaybackWaitMax <= 0 {
		deps.Config.PlaybackWaitMax = 8 * time.Second
	}
	if deps.Config.MaxTokens <= 0 {
		deps.Config.MaxTokens = completion.DefaultMaxTokens
	}
	if deps.Config.PersistTimeout <= 0 {
		deps.Config.PersistTimeout = 5 * time.Second
	}
	if deps.Config.CallControlTimeout <= 0 {
		deps.Config.CallControlTimeout = 10 * time.Second
	}

	snap := deps.Snapshot
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		conn:         deps.Conn,
		logger:       deps.Logger.With("session_id", deps.SessionID, "call_id", deps.Call.CallID, "agent_id", deps.Call.AgentID),
		registry:     deps.Registry,
		metrics:      deps.Metrics,
		snapshot:     snap,
		call:         deps.Call,
		openSTT:      deps.OpenTranscriber,
		completer:    deps.Completer,
		synth:        deps.Synthesizer,
		calls:        deps.Calls,
		recorder:     deps.Recorder,
		sessionID:    deps.SessionID,
		systemPrompt: prompt.Build(snap.Agent, snap.Persona, snap.Knowledge),
		cfg:          deps.Config,
		now:          deps.Now,
		ctx:          ctx,
		cancel:       cancel,
		outbound:     make(chan []byte, deps.Config.OutboundQueueSize),
		writerDone:   make(chan struct{}),
		events:       make(chan sttEvent, 16),
		turnDone:     make(chan turnResult, 1),
		playback:     newPlaybackTracker(),
	}
	s.state.Store(int32(StateConnecting))
	return s, nil
}

// State reports the session's current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Cancel ends the session. It satisfies registry.Entry.
func (s *Session) Cancel() {
	if s == nil || s.cancel == nil {
		return
	}
	s.cancel()
}

// SystemPrompt is the prompt built for this call.
func (s *Session) SystemPrompt() string {
	return s.systemPrompt
}

// Run drives the call until the stream stops, the connection drops, or the
// session is canceled. It returns the transport error that ended the call,
// if any.
func (s *Session) Run() error {
	defer s.cancel()

	if s.cfg.MaxMessageBytes > 0 {
		s.conn.SetReadLimit(s.cfg.MaxMessageBytes)
	}

	readCh := make(chan inboundFrame, 64)
	writerErrCh := make(chan error, 1)
	go s.readLoop(readCh)
	go func() {
		defer close(s.writerDone)
		w := outboundWriter{
			ws:     s.conn,
			ctx:    s.ctx,
			cfg:    s.cfg,
			frames: s.outbound,
		}
		writerErrCh <- w.Run()
	}()

	var (
		history     = newHistoryManager()
		transcriber Transcriber
		startedAt   time.Time
		turnID      int
		turnCancel  context.CancelFunc
		egressBroke bool
	)

	startTurn := func(req turnRequest) {
		turnID++
		req.id = turnID
		ctx, cancel := context.WithCancel(s.ctx)
		turnCancel = cancel
		s.state.Store(int32(StateTurn))
		go func() {
			s.turnDone <- s.runTurn(ctx, req)
		}()
	}

	finishTurn := func(res turnResult) {
		if res.kind == turnGreeting {
			history.appendGreeting(res.spoken)
		} else {
			history.appendSpoken(res.spoken)
		}
		if res.outcome != "" {
			s.metrics.RecordTurn(res.outcome, res.duration)
		}
		if res.err != nil {
			s.logger.Warn("turn failed", "turn", res.id, "outcome", res.outcome, "error", res.err)
		}
	}

	teardown := func(status callrecord.Status, cause error) error {
		s.state.Store(int32(StateClosed))
		s.playback.closeAll()
		if turnCancel != nil {
			// A transfer already sent to the provider runs to completion, so
			// wait for the turn before the record is written.
			turnCancel()
			turnCancel = nil
			wait := time.NewTimer(s.cfg.CallControlTimeout + s.cfg.PersistTimeout)
			select {
			case res := <-s.turnDone:
				finishTurn(res)
			case <-wait.C:
				s.logger.Warn("turn still running at teardown", "turn", turnID)
			}
			wait.Stop()
		}
		if transcriber != nil {
			if err := transcriber.Close(); err != nil {
				s.logger.Debug("close transcriber", "error", err)
			}
		}
		if s.streamSID == "" {
			s.logger.Info("media stream closed before start", "error", cause)
			return cause
		}

		switch {
		case s.transferred.Load():
			status = callrecord.StatusTransferred
		case s.hungUp.Load():
			status = callrecord.StatusFailed
		}
		ended := s.now()
		duration := ended.Sub(startedAt)
		final := callrecord.Final{
			Status:          status,
			Transcript:      history.transcriptSnapshot(),
			DurationSeconds: int(duration / time.Second),
			EndedAt:         ended,
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PersistTimeout)
		if err := s.recorder.Finalize(ctx, s.call.CallID, final); err != nil {
			s.logger.Error("finalize call record", "error", err)
		}
		cancel()

		s.registry.RemoveEntry(s.streamSID, s)
		s.metrics.RecordCallEnd(string(status), duration)
		s.logger.Info("call ended",
			"stream_sid", s.streamSID,
			"status", status,
			"duration_seconds", final.DurationSeconds,
			"turns", turnID,
		)
		return cause
	}

	handleStart := func(msg protocol.Start) {
		if s.streamSID != "" {
			s.logger.Warn("duplicate start event ignored", "stream_sid", msg.StreamID())
			return
		}
		s.streamSID = msg.StreamID()
		s.callSID = strings.TrimSpace(s.call.CallSID)
		if s.callSID == "" {
			s.callSID = strings.TrimSpace(msg.Start.CallSID)
		}
		startedAt = s.now()
		s.logger = s.logger.With("stream_sid", s.streamSID)

		s.registry.Add(s.streamSID, s)
		s.metrics.RecordCallStart()
		s.logger.Info("media stream started", "call_sid", s.callSID)

		ctx, cancel := context.WithTimeout(s.ctx, s.cfg.PersistTimeout)
		if err := s.recorder.MarkInProgress(ctx, s.call.CallID, startedAt); err != nil {
			s.logger.Error("mark call in progress", "error", err)
		}
		cancel()

		if s.openSTT != nil {
			t, err := s.openSTT(s.ctx, stt.Handlers{
				OnFinal: func(text string) { s.pushEvent(sttEvent{kind: sttFinal, text: text}) },
				OnError: func(err error) { s.pushEvent(sttEvent{kind: sttError, err: err}) },
				OnClose: func() { s.pushEvent(sttEvent{kind: sttClosed}) },
			})
			if err != nil {
				s.logger.Error("open transcriber", "error", err)
				s.metrics.RecordProviderError("stt")
			} else {
				transcriber = t
			}
		}

		startTurn(turnRequest{kind: turnGreeting, text: s.snapshot.Greeting()})
	}

	for {
		select {
		case <-s.ctx.Done():
			return teardown(callrecord.StatusFailed, nil)

		case err := <-writerErrCh:
			writerErrCh = nil
			if err == nil {
				continue
			}
			s.logger.Warn("media stream writer failed", "error", err)
			egressBroke = true
			if s.State() != StateTurn {
				return teardown(callrecord.StatusFailed, err)
			}

		case frame, ok := <-readCh:
			if !ok {
				return teardown(callrecord.StatusCompleted, nil)
			}
			if frame.err != nil {
				if websocket.IsCloseError(frame.err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return teardown(callrecord.StatusCompleted, nil)
				}
				return teardown(callrecord.StatusFailed, frame.err)
			}
			if frame.messageType != websocket.TextMessage {
				continue
			}
			msg, err := protocol.DecodeMessage(frame.data)
			if err != nil {
				var de *protocol.DecodeError
				if errors.As(err, &de) && de.Event == protocol.EventStart && s.streamSID == "" {
					s.rejectStart(de)
					return teardown(callrecord.StatusFailed, err)
				}
				s.logger.Warn("invalid media stream frame", "error", err)
				continue
			}
			switch m := msg.(type) {
			case protocol.Connected:
				s.logger.Debug("media stream connected", "protocol", m.Protocol)
			case protocol.Start:
				handleStart(m)
			case protocol.Media:
				if len(m.Audio) == 0 || transcriber == nil {
					continue
				}
				s.metrics.RecordAudio("in", len(m.Audio))
				if err := transcriber.Send(m.Audio); err != nil {
					s.logger.Debug("forward audio", "error", err)
				}
			case protocol.Mark:
				s.playback.resolve(m.Mark.Name)
			case protocol.DTMF:
				s.logger.Debug("dtmf received", "digit", m.DTMF.Digit)
			case protocol.Stop:
				return teardown(callrecord.StatusCompleted, nil)
			}

		case ev := <-s.events:
			switch ev.kind {
			case sttFinal:
				text := strings.TrimSpace(ev.text)
				if text == "" {
					continue
				}
				if st := s.State(); st != StateIdle {
					s.logger.Debug("transcript dropped", "state", st.String(), "text", text)
					s.metrics.RecordDroppedTranscript()
					continue
				}
				history.appendUser(text, s.now())
				startTurn(turnRequest{kind: turnReply, history: history.messagesSnapshot()})
			case sttError:
				s.logger.Warn("transcription error", "error", ev.err)
				s.metrics.RecordProviderError("stt")
			case sttClosed:
				s.logger.Info("transcription stream closed")
			}

		case res := <-s.turnDone:
			turnCancel()
			turnCancel = nil
			finishTurn(res)
			switch {
			case s.transferred.Load():
				s.state.Store(int32(StateTransferring))
			case egressBroke:
				return teardown(callrecord.StatusFailed, errEgress)
			case s.hungUp.Load():
				return teardown(callrecord.StatusFailed, nil)
			default:
				s.state.Store(int32(StateIdle))
			}
		}
	}
}

// rejectStart ends a stream whose start event cannot be served. Nothing has
// been registered or persisted yet.
func (s *Session) rejectStart(de *protocol.DecodeError) {
	s.logger.Warn("media stream start rejected", "code", de.Code, "error", de)
	s.metrics.RecordRejected("invalid_start")
	timeout := s.cfg.WriteTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, de.Message)
	if err := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(timeout)); err != nil {
		s.logger.Debug("write close frame", "error", err)
	}
}

// controlContext bounds a call-control request. It is detached from the
// turn: the provider may close the stream before the request returns.
func (s *Session) controlContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.cfg.CallControlTimeout)
}

func (s *Session) pushEvent(ev sttEvent) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

func (s *Session) readLoop(out chan<- inboundFrame) {
	defer close(out)
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case out <- inboundFrame{err: err}:
			case <-s.ctx.Done():
			}
			return
		}
		select {
		case out <- inboundFrame{messageType: messageType, data: data}:
		case <-s.ctx.Done():
			return
		}
	}
}

// enqueue queues one outbound message, blocking while the queue is full.
func (s *Session) enqueue(ctx context.Context, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case s.outbound <- payload:
		return nil
	case <-s.writerDone:
		return errEgress
	case <-ctx.Done():
		return ctx.Err()
	}
}
