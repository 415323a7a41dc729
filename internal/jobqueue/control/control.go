// Package control implements the small unix-domain-socket control
// protocol jobqueuectl's subcommands (stop/status/abort) use to talk to
// a running "start" daemon. Newline-delimited JSON over a unix socket is
// the simplest transport that needs neither a third-party RPC framework
// nor an HTTP surface the spec's Non-goals otherwise carve out.
package control

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"

	"github.com/google/uuid"

	"github.com/yungbote/taskforge/internal/jobqueue/queue"
)

// DefaultSocketPath is used when no explicit path is configured.
const DefaultSocketPath = "/tmp/jobqueuectl.sock"

// Request is one control-socket command.
type Request struct {
	Command string    `json:"command"` // "stop", "status", "abort"
	Queue   string    `json:"queue,omitempty"`
	JobID   uuid.UUID `json:"job_id,omitempty"`
}

// Response is the daemon's reply to a Request.
type Response struct {
	OK     bool          `json:"ok"`
	Error  string        `json:"error,omitempty"`
	Queues []QueueStatus `json:"queues,omitempty"`
}

// QueueStatus summarizes one queue for the "status" command.
type QueueStatus struct {
	Name       string `json:"name"`
	Size       int    `json:"size"`
	Processing int    `json:"processing"`
}

// Server listens on a unix socket and dispatches Requests against reg.
type Server struct {
	reg        *queue.Registry
	socketPath string
	listener   net.Listener
}

// NewServer builds a control Server. Call Serve to begin accepting
// connections, and Close to remove the socket file.
func NewServer(reg *queue.Registry, socketPath string) *Server {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	return &Server{reg: reg, socketPath: socketPath}
}

// Serve begins accepting control connections. It returns only on a
// listener error (including after Close).
func (s *Server) Serve() error {
	_ = os.Remove(s.socketPath)
	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on control socket: %w", err)
	}
	s.listener = ln
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.handle(conn)
	}
}

// Close stops accepting connections and removes the socket file.
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	err := s.listener.Close()
	_ = os.Remove(s.socketPath)
	return err
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	var req Request
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		writeResponse(conn, Response{Error: fmt.Sprintf("decode request: %v", err)})
		return
	}
	writeResponse(conn, s.dispatch(req))
}

func (s *Server) dispatch(req Request) Response {
	switch req.Command {
	case "status":
		return s.status(req.Queue)
	case "abort":
		q, ok := s.reg.GetQueue(req.Queue)
		if !ok {
			return Response{Error: fmt.Sprintf("unknown queue %q", req.Queue)}
		}
		if err := q.Abort(context.Background(), req.JobID); err != nil {
			return Response{Error: err.Error()}
		}
		return Response{OK: true}
	case "stop":
		if err := s.reg.StopQueues(context.Background()); err != nil {
			return Response{Error: err.Error()}
		}
		return Response{OK: true}
	default:
		return Response{Error: fmt.Sprintf("unknown command %q", req.Command)}
	}
}

func (s *Server) status(name string) Response {
	names := s.reg.Names()
	if name != "" {
		names = []string{name}
	}
	var out []QueueStatus
	for _, n := range names {
		q, ok := s.reg.GetQueue(n)
		if !ok {
			continue
		}
		size, processing, err := q.Status(context.Background())
		if err != nil {
			continue
		}
		out = append(out, QueueStatus{Name: n, Size: size, Processing: processing})
	}
	return Response{OK: true, Queues: out}
}

func writeResponse(conn net.Conn, resp Response) {
	_ = json.NewEncoder(conn).Encode(resp)
}

// Dial connects to a running daemon's control socket and issues req,
// returning its Response.
func Dial(socketPath string, req Request) (Response, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return Response{}, fmt.Errorf("dial control socket: %w", err)
	}
	defer conn.Close()
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return Response{}, fmt.Errorf("encode request: %w", err)
	}
	var resp Response
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return Response{}, fmt.Errorf("read response: %w", err)
		}
		return Response{}, fmt.Errorf("no response from daemon")
	}
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	return resp, nil
}
