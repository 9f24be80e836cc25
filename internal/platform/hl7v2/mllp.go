package hl7v2

import (
	"bytes"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// StartBlock is the MLLP start-of-message byte (VT / vertical tab).
	StartBlock = 0x0B

	// EndBlock is the MLLP end-of-message byte (FS / file separator).
	EndBlock = 0x1C

	// CarriageReturn is the trailing CR after the end block.
	CarriageReturn = 0x0D

	// maxMessageSize is the buffer cap for a single MLLP message (1 MB).
	maxMessageSize = 1 << 20

	// maxIdleTimeouts bounds consecutive read timeouts while a partial frame
	// sits in the buffer. A sender that stalls mid-message is disconnected
	// after readTimeout*maxIdleTimeouts instead of pinning the connection.
	maxIdleTimeouts = 4
)

var (
	// readTimeout is the read deadline applied to each inbound connection.
	readTimeout = 30 * time.Second

	writeTimeout = 10 * time.Second
)

// Frame wraps raw message bytes in MLLP framing:
//
//	<0x0B> + message + <0x1C><0x0D>
func Frame(data []byte) []byte {
	frame := make([]byte, 0, len(data)+3)
	frame = append(frame, StartBlock)
	frame = append(frame, data...)
	frame = append(frame, EndBlock, CarriageReturn)
	return frame
}

// Unframe extracts message bytes from an MLLP frame. It finds the first start
// block, then the end block + CR after it, and returns the enclosed message,
// the remaining bytes, and whether a complete frame was present. Partial
// frames are left untouched for the caller to keep accumulating.
func Unframe(data []byte) (message []byte, rest []byte, found bool) {
	startIdx := bytes.IndexByte(data, StartBlock)
	if startIdx == -1 {
		return nil, data, false
	}

	endSeq := []byte{EndBlock, CarriageReturn}
	endIdx := bytes.Index(data[startIdx+1:], endSeq)
	if endIdx == -1 {
		return nil, data, false
	}
	endIdx = startIdx + 1 + endIdx

	return data[startIdx+1 : endIdx], data[endIdx+2:], true
}

// MessageHandler processes one parsed inbound message and returns the raw
// acknowledgement to send back, or "" to send no response.
type MessageHandler func(msg *Message) string

// Server listens for HL7 v2.x messages over MLLP/TCP. Messages that fail to
// parse are answered with an AE acknowledgement; the connection stays open.
type Server struct {
	addr     string
	handler  MessageHandler
	logger   zerolog.Logger
	listener net.Listener
	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewServer creates an MLLP server listening on addr, dispatching parsed
// messages to handler.
func NewServer(addr string, handler MessageHandler, logger zerolog.Logger) *Server {
	return &Server{
		addr:    addr,
		handler: handler,
		logger:  logger.With().Str("component", "mllp").Logger(),
		conns:   make(map[net.Conn]struct{}),
		done:    make(chan struct{}),
	}
}

// Start begins accepting connections. The accept loop runs in a background
// goroutine.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("mllp: listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop()
	}()
	return nil
}

// Stop closes the listener and all tracked connections and waits for the
// handler goroutines to drain.
func (s *Server) Stop() error {
	close(s.done)

	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}

	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return err
}

// Addr returns the bound listener address, useful when started on port 0.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			s.logger.Error().Err(err).Msg("accept failed")
			return
		}

		s.trackConn(conn, true)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.trackConn(conn, false)
			defer conn.Close()
			s.serveConn(conn)
		}()
	}
}

func (s *Server) trackConn(conn net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
}

// serveConn reads framed messages from one connection until it goes idle,
// closes, or shutdown begins.
func (s *Server) serveConn(conn net.Conn) {
	buf := make([]byte, 0, 4096)
	readBuf := make([]byte, 4096)
	idleTimeouts := 0

	for {
		select {
		case <-s.done:
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))

		n, err := conn.Read(readBuf)
		if n > 0 {
			idleTimeouts = 0
			buf = append(buf, readBuf[:n]...)

			if len(buf) > maxMessageSize {
				s.logger.Warn().Int("size", len(buf)).Msg("message exceeds max size, closing connection")
				return
			}

			for {
				msgBytes, rest, found := Unframe(buf)
				if !found {
					break
				}
				buf = rest
				s.respond(conn, msgBytes)
			}
		}

		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				if len(buf) == 0 {
					return
				}
				idleTimeouts++
				if idleTimeouts >= maxIdleTimeouts {
					s.logger.Warn().Int("buffered", len(buf)).Msg("stalled partial frame, closing connection")
					return
				}
				continue
			}
			return
		}
	}
}

// respond parses one message, obtains an ack from the handler (or an AE ack
// on parse failure), and writes it back framed.
func (s *Server) respond(conn net.Conn, raw []byte) {
	var reply string

	msg, err := Parse(raw)
	if err != nil {
		s.logger.Warn().Err(err).Msg("rejecting malformed message")
		reply = GenerateAck(nil, AckError, err.Error())
	} else {
		reply = s.handler(msg)
	}

	if reply == "" {
		return
	}

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := conn.Write(Frame([]byte(reply))); err != nil {
		s.logger.Error().Err(err).Msg("ack write failed")
	}
}
