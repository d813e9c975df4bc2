package signal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"sharecast/internal/core/domain"
	"sharecast/pkg/logger"
	"sharecast/pkg/retry"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Message ids of the media server's screenshare protocol.
const (
	MsgStart         = "start"
	MsgStartResponse = "startResponse"
	MsgICECandidate  = "iceCandidate"
	MsgPlayStart     = "playStart"
	MsgStop          = "stop"
	MsgError         = "error"
)

const (
	RoleSend = "send"
	RoleRecv = "recv"
)

var ErrSessionClosed = errors.New("signaling session closed")

type Message struct {
	ID          string                   `json:"id"`
	Type        string                   `json:"type,omitempty"`
	Role        string                   `json:"role,omitempty"`
	ContentType string                   `json:"contentType,omitempty"`
	HasAudio    bool                     `json:"hasAudio,omitempty"`
	SDPOffer    string                   `json:"sdpOffer,omitempty"`
	SDPAnswer   string                   `json:"sdpAnswer,omitempty"`
	Candidate   *webrtc.ICECandidateInit `json:"candidate,omitempty"`
	Code        int                      `json:"code,omitempty"`
	Reason      string                   `json:"reason,omitempty"`
}

type ClientConfig struct {
	URL          string
	Header       http.Header
	PingInterval time.Duration
	PongTimeout  time.Duration
	WriteTimeout time.Duration
	// AnswerTimeout bounds Start; zero waits for ctx only.
	AnswerTimeout time.Duration
	Retry         retry.Config
}

// Client dials signaling sessions against the media server.
type Client struct {
	cfg    ClientConfig
	dialer *websocket.Dialer
	logger *zap.SugaredLogger
}

func NewClient(cfg ClientConfig, logger *zap.SugaredLogger) *Client {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 15 * time.Second
	}
	if cfg.PongTimeout <= cfg.PingInterval {
		cfg.PongTimeout = 3 * cfg.PingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	return &Client{
		cfg:    cfg,
		dialer: websocket.DefaultDialer,
		logger: logger,
	}
}

// Dial opens one signaling session, retrying per the client's retry config.
func (c *Client) Dial(ctx context.Context) (*Session, error) {
	conn, err := retry.Do(ctx, c.cfg.Retry, func() (*websocket.Conn, error) {
		conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, c.cfg.Header)
		return conn, err
	})
	if err != nil {
		return nil, fmt.Errorf("dial signaling server: %w", err)
	}

	s := &Session{
		conn:      conn,
		cfg:       c.cfg,
		logger:    c.logger,
		responses: make(chan Message, 1),
		done:      make(chan struct{}),
	}
	go s.readLoop()
	go s.pingLoop()
	return s, nil
}

// Session is one negotiated media session (publish or view).
type Session struct {
	conn   *websocket.Conn
	cfg    ClientConfig
	logger *zap.SugaredLogger

	writeMu   sync.Mutex
	responses chan Message

	mu          sync.Mutex
	started     bool
	closing     bool
	onCandidate func(webrtc.ICECandidateInit)
	onError     func(error)

	done      chan struct{}
	closeOnce sync.Once
}

// OnCandidate registers the handler for remote ICE candidates.
func (s *Session) OnCandidate(fn func(webrtc.ICECandidateInit)) {
	s.mu.Lock()
	s.onCandidate = fn
	s.mu.Unlock()
}

// OnError registers the handler for failures after Start succeeded.
func (s *Session) OnError(fn func(error)) {
	s.mu.Lock()
	s.onError = fn
	s.mu.Unlock()
}

// Start sends the start request and waits for the SDP answer.
func (s *Session) Start(ctx context.Context, req Message) (string, error) {
	if s.cfg.AnswerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.AnswerTimeout)
		defer cancel()
	}

	req.ID = MsgStart
	if err := s.send(req); err != nil {
		return "", err
	}

	select {
	case resp := <-s.responses:
		if resp.ID == MsgError {
			return "", fmt.Errorf("%w: %s (code %d)", domain.ErrShareRejected, resp.Reason, resp.Code)
		}
		s.mu.Lock()
		s.started = true
		s.mu.Unlock()
		return resp.SDPAnswer, nil
	case <-s.done:
		return "", ErrSessionClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close sends a stop request when possible and closes the connection.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	s.mu.Unlock()

	_ = s.send(Message{ID: MsgStop})

	s.writeMu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(s.cfg.WriteTimeout))
	s.writeMu.Unlock()

	s.shutdown()
	return s.conn.Close()
}

func (s *Session) send(msg Message) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	if err := s.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("send %s: %w", msg.ID, err)
	}
	return nil
}

func (s *Session) readLoop() {
	s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
		return nil
	})

	for {
		var msg Message
		if err := s.conn.ReadJSON(&msg); err != nil {
			s.fail(fmt.Errorf("signaling connection lost: %w", err))
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
		s.handle(msg)
	}
}

func (s *Session) handle(msg Message) {
	s.mu.Lock()
	started := s.started
	onCandidate := s.onCandidate
	s.mu.Unlock()

	switch msg.ID {
	case MsgStartResponse:
		s.deliver(msg)
	case MsgError:
		if !started {
			s.deliver(msg)
			return
		}
		s.fail(fmt.Errorf("%w: %s (code %d)", domain.ErrShareRejected, msg.Reason, msg.Code))
	case MsgICECandidate:
		if msg.Candidate != nil && onCandidate != nil {
			onCandidate(*msg.Candidate)
		}
	case MsgPlayStart:
		s.logger.Debugw("Media server started playing",
			logger.Coded("signal_play_start", nil)...)
	case MsgStop:
		s.fail(domain.ErrBridgeClosed)
	default:
		s.logger.Debugw("Ignoring signaling message",
			logger.Coded("signal_unknown_message", nil, "id", msg.ID)...)
	}
}

func (s *Session) deliver(msg Message) {
	select {
	case s.responses <- msg:
	default:
		s.logger.Warnw("Dropping unexpected signaling response",
			logger.Coded("signal_unexpected_response", nil, "id", msg.ID)...)
	}
}

// fail reports err once to the error handler unless the session is being
// closed locally or has not started yet.
func (s *Session) fail(err error) {
	s.mu.Lock()
	report := s.started && !s.closing
	s.closing = true
	onError := s.onError
	s.mu.Unlock()

	s.shutdown()
	s.conn.Close()

	if report && onError != nil {
		onError(err)
	}
}

func (s *Session) shutdown() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *Session) pingLoop() {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.WriteTimeout))
			s.writeMu.Unlock()
			if err != nil {
				s.logger.Debugw("Signaling ping failed",
					logger.Coded("signal_ping_failed", err)...)
				return
			}
		}
	}
}
