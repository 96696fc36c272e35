// Package smtptest provides an in-process SMTP relay for tests.
package smtptest

import (
	"bufio"
	"crypto/tls"
	"encoding/base64"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Options configures the test relay.
type Options struct {
	// TLS makes the listener speak TLS from the first byte (SMTPS, port 465 style).
	TLS *tls.Config
	// StartTLS advertises and serves STARTTLS with this config.
	StartTLS *tls.Config
	// Username and Password enable AUTH PLAIN and require it before MAIL FROM.
	Username string
	Password string
	// RejectRcpt returns true for addresses the relay refuses with 550.
	RejectRcpt func(addr string) bool
	// DataDelay holds every session open before accepting the message body.
	DataDelay time.Duration
}

// Message is one accepted message.
type Message struct {
	From string
	To   []string
	Data string
}

// Server is a minimal SMTP relay listening on 127.0.0.1.
type Server struct {
	opts     Options
	listener net.Listener

	mu       sync.Mutex
	messages []Message
	wg       sync.WaitGroup

	active    atomic.Int32
	maxActive atomic.Int32
	sessions  atomic.Int32
}

// Start listens on a random local port and serves until Close.
func Start(opts Options) (*Server, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	if opts.TLS != nil {
		listener = tls.NewListener(listener, opts.TLS)
	}

	s := &Server{opts: opts, listener: listener}
	s.wg.Add(1)
	go s.serve()
	return s, nil
}

// Host returns the listening host.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.listener.Addr().String())
	return host
}

// Port returns the listening port.
func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.listener.Addr().String())
	p, _ := strconv.Atoi(port)
	return p
}

// Messages returns accepted messages in acceptance order.
func (s *Server) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Sessions returns the number of connections served so far.
func (s *Server) Sessions() int {
	return int(s.sessions.Load())
}

// MaxConcurrent returns the highest number of simultaneously open sessions.
func (s *Server) MaxConcurrent() int {
	return int(s.maxActive.Load())
}

// Close stops the listener and waits for open sessions to end.
func (s *Server) Close() error {
	err := s.listener.Close()
	s.wg.Wait()
	return err
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer conn.Close()
			s.track(func() { s.handle(conn) })
		}()
	}
}

func (s *Server) track(fn func()) {
	s.sessions.Add(1)
	n := s.active.Add(1)
	for {
		cur := s.maxActive.Load()
		if n <= cur || s.maxActive.CompareAndSwap(cur, n) {
			break
		}
	}
	defer s.active.Add(-1)
	fn()
}

type session struct {
	conn   net.Conn
	r      *bufio.Reader
	w      *bufio.Writer
	tls    bool
	authed bool
	from   string
	to     []string
}

func (ss *session) reply(line string) {
	_, _ = ss.w.WriteString(line + "\r\n")
	_ = ss.w.Flush()
}

func (s *Server) handle(conn net.Conn) {
	_ = conn.SetDeadline(time.Now().Add(30 * time.Second))

	_, isTLS := conn.(*tls.Conn)
	ss := &session{conn: conn, r: bufio.NewReader(conn), w: bufio.NewWriter(conn), tls: isTLS}
	ss.reply("220 localhost ESMTP smtptest")

	for {
		line, err := ss.r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		verb := strings.ToUpper(line)

		switch {
		case strings.HasPrefix(verb, "EHLO"):
			ext := []string{"250-localhost", "250-SIZE 10240000", "250-8BITMIME"}
			if s.opts.StartTLS != nil && !ss.tls {
				ext = append(ext, "250-STARTTLS")
			}
			if s.opts.Username != "" {
				ext = append(ext, "250-AUTH PLAIN")
			}
			ext = append(ext, "250 HELP")
			ss.reply(strings.Join(ext, "\r\n"))
		case strings.HasPrefix(verb, "HELO"):
			ss.reply("250 localhost")
		case verb == "STARTTLS" && s.opts.StartTLS != nil && !ss.tls:
			ss.reply("220 Ready to start TLS")
			tlsConn := tls.Server(conn, s.opts.StartTLS)
			if err := tlsConn.Handshake(); err != nil {
				return
			}
			ss.conn = tlsConn
			ss.r = bufio.NewReader(tlsConn)
			ss.w = bufio.NewWriter(tlsConn)
			ss.tls = true
		case strings.HasPrefix(verb, "AUTH PLAIN"):
			ss.reply(s.auth(ss, strings.TrimSpace(line[len("AUTH PLAIN"):])))
		case strings.HasPrefix(verb, "MAIL FROM:"):
			if s.opts.Username != "" && !ss.authed {
				ss.reply("530 Authentication required")
				continue
			}
			ss.from = trimPath(line[len("MAIL FROM:"):])
			ss.to = nil
			ss.reply("250 OK")
		case strings.HasPrefix(verb, "RCPT TO:"):
			addr := trimPath(line[len("RCPT TO:"):])
			if s.opts.RejectRcpt != nil && s.opts.RejectRcpt(addr) {
				ss.reply("550 No such user here")
				continue
			}
			ss.to = append(ss.to, addr)
			ss.reply("250 OK")
		case verb == "DATA":
			ss.reply("354 End data with <CR><LF>.<CR><LF>")
			data, err := readData(ss.r)
			if err != nil {
				return
			}
			if s.opts.DataDelay > 0 {
				time.Sleep(s.opts.DataDelay)
			}
			s.mu.Lock()
			s.messages = append(s.messages, Message{From: ss.from, To: ss.to, Data: data})
			s.mu.Unlock()
			ss.reply("250 OK queued")
		case verb == "RSET" || verb == "NOOP":
			ss.reply("250 OK")
		case verb == "*":
			ss.reply("501 Authentication cancelled")
		case verb == "QUIT":
			ss.reply("221 Bye")
			return
		default:
			ss.reply("500 Syntax error")
		}
	}
}

func (s *Server) auth(ss *session, initial string) string {
	if s.opts.Username == "" {
		return "502 Command not implemented"
	}
	if initial == "" {
		ss.reply("334 ")
		line, err := ss.r.ReadString('\n')
		if err != nil {
			return "501 Syntax error"
		}
		initial = strings.TrimSpace(line)
	}

	raw, err := base64.StdEncoding.DecodeString(initial)
	if err != nil {
		return "501 Syntax error"
	}
	parts := strings.Split(string(raw), "\x00")
	if len(parts) != 3 || parts[1] != s.opts.Username || parts[2] != s.opts.Password {
		return "535 Authentication credentials invalid"
	}

	ss.authed = true
	return "235 Authentication successful"
}

func readData(r *bufio.Reader) (string, error) {
	var b strings.Builder
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return "", err
		}
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "." {
			return b.String(), nil
		}
		// Undo dot-stuffing.
		trimmed = strings.TrimPrefix(trimmed, ".")
		b.WriteString(trimmed)
		b.WriteString("\r\n")
	}
}

func trimPath(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, ' '); i >= 0 {
		s = s[:i]
	}
	return strings.Trim(s, "<>")
}
