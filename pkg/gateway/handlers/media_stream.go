package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/vango-go/vai-phone/pkg/core"
	"github.com/vango-go/vai-phone/pkg/core/agents"
	"github.com/vango-go/vai-phone/pkg/core/completion"
	"github.com/vango-go/vai-phone/pkg/gateway/apierror"
	"github.com/vango-go/vai-phone/pkg/gateway/calls/callrecord"
	"github.com/vango-go/vai-phone/pkg/gateway/calls/registry"
	"github.com/vango-go/vai-phone/pkg/gateway/calls/session"
	"github.com/vango-go/vai-phone/pkg/gateway/config"
	"github.com/vango-go/vai-phone/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-phone/pkg/gateway/metrics"
	"github.com/vango-go/vai-phone/pkg/gateway/mw"
)

const agentLoadTimeout = 10 * time.Second

// Query parameters Twilio is told to send on the media stream URL.
var mediaStreamParams = []string{"callId", "agentId", "workspaceId", "callSid"}

// MediaStreamHandler handles /media-stream websocket connections from the
// telephony provider, one call per connection.
type MediaStreamHandler struct {
	Config    config.Config
	Logger    *slog.Logger
	Lifecycle *lifecycle.Lifecycle
	Registry  *registry.Registry
	Metrics   *metrics.Metrics

	Agents      agents.Loader
	Transcribe  session.TranscriberFunc
	Completer   completion.Completer
	Synthesizer session.Synthesizer
	Calls       session.CallController
	Recorder    callrecord.Recorder
}

func (h MediaStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("request_id", reqID)

	if r.Method != http.MethodGet {
		writeCoreErrorJSON(w, reqID, &core.Error{Type: core.ErrInvalidRequest, Message: "method not allowed", Code: "method_not_allowed"}, http.StatusMethodNotAllowed)
		return
	}
	if h.Lifecycle.IsDraining() {
		h.Metrics.RecordRejected("draining")
		writeCoreErrorJSON(w, reqID, &core.Error{Type: core.ErrOverloaded, Message: "gateway is draining", Code: "draining"}, http.StatusServiceUnavailable)
		return
	}

	q := r.URL.Query()
	for _, param := range mediaStreamParams {
		if strings.TrimSpace(q.Get(param)) == "" {
			h.Metrics.RecordRejected("missing_param")
			writeCoreErrorJSON(w, reqID, core.NewInvalidRequestErrorWithParam("missing required query parameter "+param, param), http.StatusBadRequest)
			return
		}
	}
	call := session.Call{
		CallID:      strings.TrimSpace(q.Get("callId")),
		AgentID:     strings.TrimSpace(q.Get("agentId")),
		WorkspaceID: strings.TrimSpace(q.Get("workspaceId")),
		CallSID:     strings.TrimSpace(q.Get("callSid")),
	}
	logger = logger.With("call_id", call.CallID, "agent_id", call.AgentID)

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("media stream upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	snap, err := h.loadAgent(r.Context(), call)
	if err != nil {
		ce, _ := apierror.FromError(err, reqID)
		reason := "agent_load_failed"
		if errors.Is(err, agents.ErrAgentNotFound) {
			reason = "agent_not_found"
		}
		h.Metrics.RecordRejected(reason)
		logger.Warn("rejecting media stream", "reason", reason, "error", err)
		h.closeWS(conn, websocket.ClosePolicyViolation, ce.Message)
		return
	}

	sessionID := "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	s, err := session.New(session.Dependencies{
		Conn:            conn,
		Logger:          logger,
		Registry:        h.Registry,
		Metrics:         h.Metrics,
		Snapshot:        snap,
		Call:            call,
		OpenTranscriber: h.Transcribe,
		Completer:       h.Completer,
		Synthesizer:     h.Synthesizer,
		Calls:           h.Calls,
		Recorder:        h.Recorder,
		SessionID:       sessionID,
		Config: session.Config{
			WriteTimeout:       h.Config.WSWriteTimeout,
			PingInterval:       h.Config.WSPingInterval,
			MaxMessageBytes:    h.Config.MaxMessageBytes,
			PlaybackWaitMax:    h.Config.PlaybackWaitMax,
			MaxTokens:          h.Config.MaxCompletionTokens,
			CallControlTimeout: h.Config.ProviderTimeout,
		},
	})
	if err != nil {
		logger.Error("failed to initialize call session", "error", err)
		h.closeWS(conn, websocket.CloseInternalServerErr, "internal error")
		return
	}

	if err := s.Run(); err != nil {
		logger.Warn("call session ended with error", "session_id", sessionID, "error", err)
	}
}

func (h MediaStreamHandler) loadAgent(ctx context.Context, call session.Call) (*agents.Snapshot, error) {
	if h.Agents == nil {
		return nil, errors.New("agent loader is not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, agentLoadTimeout)
	defer cancel()
	snap, err := h.Agents.Load(ctx, call.AgentID)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, agents.ErrAgentNotFound
	}
	if snap.Agent.WorkspaceID != "" && snap.Agent.WorkspaceID != call.WorkspaceID {
		// An agent id from another workspace is treated as unknown.
		return nil, agents.ErrAgentNotFound
	}
	return snap, nil
}

func (h MediaStreamHandler) closeWS(conn *websocket.Conn, code int, text string) {
	timeout := h.Config.WSWriteTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	msg := websocket.FormatCloseMessage(code, text)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(timeout))
}
