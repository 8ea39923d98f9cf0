package protocol

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"regexp"
	"strings"
	"sync"
	"time"
)

var (
	ErrNotConnected = errors.New("hub not connected")
	ErrTimeout      = errors.New("hub did not reply in time")
)

type PtclConfig struct {
	Shard string
	Url   string
	// Reconn is the pause between dial attempts.
	Reconn time.Duration
	// Timeout bounds a Request when the caller's ctx has no deadline.
	Timeout time.Duration
	// EmitOut receives messages addressed to us that are not replies.
	EmitOut func(*Message)
}

// Protocol speaks TO:VERB:NOUN[:ARGS...]:FROM lines with the device hub.
// Requests are serialised; the first message addressed to this shard after a
// request is its reply.
type Protocol struct {
	cfg PtclConfig

	connMu sync.RWMutex
	ws     *WebSocket

	reqMu sync.Mutex

	waiterMu sync.Mutex
	waiter   chan *Message
}

func NewProtocol(cfg PtclConfig) *Protocol {
	if cfg.Reconn <= 0 {
		cfg.Reconn = 2 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	return &Protocol{cfg: cfg}
}

func (ptcl *Protocol) Shard() string { return ptcl.cfg.Shard }

func (ptcl *Protocol) Connected() bool {
	ptcl.connMu.RLock()
	defer ptcl.connMu.RUnlock()
	return ptcl.ws != nil
}

// Request sends [TO, VERB, NOUN, ARGS...] and waits for the reply.
func (ptcl *Protocol) Request(ctx context.Context, fields []string) (*Message, error) {
	ptcl.reqMu.Lock()
	defer ptcl.reqMu.Unlock()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ptcl.cfg.Timeout)
		defer cancel()
	}

	w := ptcl.installWaiter()
	defer ptcl.clearWaiter()

	if err := ptcl.Transmit(fields); err != nil {
		return nil, err
	}

	select {
	case msg := <-w:
		return msg, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, ctx.Err()
	}
}

func (ptcl *Protocol) Transmit(v any) error {
	var msg string

	switch m := v.(type) {
	case Message:
		m.From = ptcl.cfg.Shard
		msg = m.String()
	case string:
		msg = fmt.Sprintf("%s:%s", m, ptcl.cfg.Shard)
	case []string:
		msg = fmt.Sprintf("%s:%s", strings.Join(m, ":"), ptcl.cfg.Shard)
	default:
		return fmt.Errorf("unsupported message type %T", v)
	}

	ptcl.connMu.RLock()
	ws := ptcl.ws
	ptcl.connMu.RUnlock()
	if ws == nil {
		return ErrNotConnected
	}

	if err := ws.Write([]byte(msg)); err != nil {
		log.Error("Failed to transmit", "msg", msg, "err", err)
		return err
	}
	return nil
}

// Run keeps the hub connection alive until ctx is done.
func (ptcl *Protocol) Run(ctx context.Context) error {
	for {
		ws, err := DialWebSocket(ctx, ptcl.cfg.Url)
		if err != nil {
			log.Debug("Hub dial failed", "url", ptcl.cfg.Url, "err", err)
		} else {
			log.Info("Hub connected", "url", ptcl.cfg.Url)
			ptcl.setConn(ws)
			ptcl.readLoop(ctx, ws)
			ptcl.setConn(nil)
			ws.Close()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(ptcl.cfg.Reconn):
			log.Warn("Trying to reconnect on", "url", ptcl.cfg.Url)
		}
	}
}

func (ptcl *Protocol) readLoop(ctx context.Context, ws *WebSocket) {
	stop := context.AfterFunc(ctx, func() { ws.Close() })
	defer stop()

	for {
		in := ws.Read()
		switch in.kind {
		case CONN_CLOSE:
			return

		case READ_FAILURE:
			if ctx.Err() == nil {
				log.Error("Failed to read", "err", in.err)
			}
			return

		case READ_OK:
			if !ptcl.checkRecipient(in.msg) {
				continue
			}

			msg, err := Parse(string(in.msg))
			if err != nil {
				log.Warn("Failed to parse", "msg", string(in.msg), "err", err)
				continue
			}
			ptcl.deliver(msg)
		}
	}
}

func (ptcl *Protocol) deliver(msg *Message) {
	ptcl.waiterMu.Lock()
	w := ptcl.waiter
	if w != nil {
		ptcl.waiter = nil
	}
	ptcl.waiterMu.Unlock()

	if w != nil {
		w <- msg
		return
	}
	if ptcl.cfg.EmitOut != nil {
		ptcl.cfg.EmitOut(msg)
	}
}

func (ptcl *Protocol) setConn(ws *WebSocket) {
	ptcl.connMu.Lock()
	ptcl.ws = ws
	ptcl.connMu.Unlock()
}

func (ptcl *Protocol) installWaiter() chan *Message {
	ptcl.waiterMu.Lock()
	defer ptcl.waiterMu.Unlock()
	ptcl.waiter = make(chan *Message, 1)
	return ptcl.waiter
}

func (ptcl *Protocol) clearWaiter() {
	ptcl.waiterMu.Lock()
	defer ptcl.waiterMu.Unlock()
	ptcl.waiter = nil
}

func (ptcl *Protocol) checkRecipient(msg []byte) bool {
	to, _, _ := strings.Cut(string(msg), ":")
	return to == ptcl.cfg.Shard || to == "ALL"
}

// Parse validates one hub line.
func Parse(line string) (*Message, error) {
	s := strings.TrimSpace(line)
	if s == "" {
		return nil, errors.New("empty message")
	}
	if strings.ContainsAny(s, " \t\r\n") {
		// frames are single-line
		return nil, fmt.Errorf("invalid whitespace present")
	}
	parts := strings.Split(s, ":")
	if len(parts) < 4 {
		return nil, fmt.Errorf("too few fields: got %d, want >= 4", len(parts))
	}

	to := parts[0]
	verb := parts[1]
	noun := parts[2]
	from := parts[len(parts)-1]
	args := append([]string(nil), parts[3:len(parts)-1]...)

	if !isToken(to) && !isHexID(to) && to != "ALL" {
		return nil, fmt.Errorf("invalid TO token: %q", to)
	}
	if !isToken(from) && !isHexID(from) {
		return nil, fmt.Errorf("invalid FROM token: %q", from)
	}
	if !isToken(noun) || !isToken(verb) {
		return nil, fmt.Errorf("invalid NOUN/VERB: %q %q", noun, verb)
	}
	for i, a := range args {
		if !isToken(a) {
			return nil, fmt.Errorf("invalid ARG[%d]: %q", i, a)
		}
	}

	return &Message{
		To:   to,
		Verb: strings.ToUpper(verb),
		Noun: strings.ToUpper(noun),
		Args: args,
		From: from,
	}, nil
}

var (
	tokenRe = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)
	hexIDRe = regexp.MustCompile(`^[0-9A-F]{2}$`)
)

func isToken(s string) bool {
	return tokenRe.MatchString(s)
}

// IsToken reports whether s may appear as a single message field.
func IsToken(s string) bool { return isToken(s) }

func isHexID(s string) bool {
	return hexIDRe.MatchString(strings.ToUpper(s))
}

type Message struct {
	To   string
	Verb string
	Noun string
	Args []string
	From string
}

func (m *Message) String() string {
	parts := make([]string, 0, 4+len(m.Args))
	parts = append(parts, m.To, m.Verb, m.Noun)
	parts = append(parts, m.Args...)
	parts = append(parts, m.From)
	return strings.Join(parts, ":")
}

func (m *Message) IsError() bool { return m.Verb == "ERR" }

func (m *Message) Error(reason string, args ...string) {
	m.Verb = "ERR"
	m.Noun = reason
	m.Args = args
}

func (m *Message) Ok(reason string, args ...string) {
	m.Verb = "OK"
	m.Noun = reason
	m.Args = args
}
