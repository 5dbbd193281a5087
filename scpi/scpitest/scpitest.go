// Package scpitest provides a loopback SCPI instrument for tests.
package scpitest

import (
	"bufio"
	"net"
	"strings"
	"sync"
	"testing"
)

// Responder produces the reply to a query.  ok=false sends nothing.
type Responder func(cmd string) (reply string, ok bool)

// Server is a line-oriented TCP instrument listening on localhost.
// Every received line is recorded; lines containing '?' are answered by
// the Responder.
type Server struct {
	Addr string

	mu      sync.Mutex
	log     []string
	respond Responder
}

// New starts a Server which is closed when the test ends
func New(t testing.TB, respond Responder) *Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal("could not listen:", err)
	}
	s := &Server{Addr: ln.Addr().String(), respond: respond}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go s.serve(conn)
		}
	}()
	return s
}

// Static answers from a fixed table of query -> reply
func Static(table map[string]string) Responder {
	return func(cmd string) (string, bool) {
		r, ok := table[cmd]
		return r, ok
	}
}

func (s *Server) serve(conn net.Conn) {
	defer conn.Close()
	sc := bufio.NewScanner(conn)
	for sc.Scan() {
		line := sc.Text()
		s.mu.Lock()
		s.log = append(s.log, line)
		s.mu.Unlock()
		if !strings.Contains(line, "?") || s.respond == nil {
			continue
		}
		if reply, ok := s.respond(line); ok {
			conn.Write([]byte(reply + "\n"))
		}
	}
}

// Commands returns a copy of every line received so far
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.log))
	copy(out, s.log)
	return out
}
