// Package ipc is the daemon's control socket: one JSON request and one JSON
// reply per connection.
package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	log "log/slog"
	"net"
	"os"
	"sync"
	"time"
)

const SocketPath = "/tmp/vox.sock"

const (
	CmdWake   = "wake"
	CmdStatus = "status"
	CmdReload = "reload"
	CmdStats  = "stats"
	CmdSay    = "say"
	// CmdTrigger is the old name of CmdWake.
	CmdTrigger = "trigger"
)

var ErrUnknownCommand = errors.New("unknown command")

type ControlMessage struct {
	Cmd  string   `json:"cmd"`
	Args []string `json:"args,omitempty"`
}

type ControlReply struct {
	OK    bool           `json:"ok"`
	State string         `json:"state,omitempty"`
	Error string         `json:"error,omitempty"`
	Data  map[string]any `json:"data,omitempty"`
}

// Fail builds an error reply.
func Fail(err error) ControlReply {
	return ControlReply{Error: err.Error()}
}

type Handler func(ctx context.Context, msg ControlMessage) ControlReply

type Server struct {
	path    string
	ln      net.Listener
	handler Handler
	wg      sync.WaitGroup
}

// Listen binds the unix socket at path, replacing a stale one.
func Listen(path string, handler Handler) (*Server, error) {
	if path == "" {
		path = SocketPath
	}
	os.Remove(path)

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", path, err)
	}
	return &Server{path: path, ln: ln, handler: handler}, nil
}

func (s *Server) Path() string { return s.path }

// Serve accepts connections until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.ln.Close()
	}()
	defer os.Remove(s.path)
	defer s.wg.Wait()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Warn("Control accept failed", "err", err)
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(30 * time.Second))

	var msg ControlMessage
	if err := json.NewDecoder(conn).Decode(&msg); err != nil {
		log.Warn("Bad control message", "err", err)
		json.NewEncoder(conn).Encode(Fail(fmt.Errorf("decode: %w", err)))
		return
	}
	log.Debug("Control", "cmd", msg.Cmd, "args", msg.Args)

	reply := s.handler(ctx, msg)
	if err := json.NewEncoder(conn).Encode(reply); err != nil {
		log.Warn("Control reply failed", "err", err)
	}
}

// Send delivers msg to the daemon at path and returns its reply.
func Send(ctx context.Context, path string, msg ControlMessage) (ControlReply, error) {
	if path == "" {
		path = SocketPath
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return ControlReply{}, err
	}
	defer conn.Close()
	if dl, ok := ctx.Deadline(); ok {
		conn.SetDeadline(dl)
	}

	if err := json.NewEncoder(conn).Encode(msg); err != nil {
		return ControlReply{}, err
	}

	var reply ControlReply
	if err := json.NewDecoder(conn).Decode(&reply); err != nil {
		return ControlReply{}, fmt.Errorf("read reply: %w", err)
	}
	if !reply.OK && reply.Error != "" {
		return reply, errors.New(reply.Error)
	}
	return reply, nil
}
