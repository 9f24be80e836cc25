package hl7v2

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strconv"
	"time"
)

// TransportError reports a failure at the MLLP transport layer: connection
// refused, timeout, or a truncated frame. The transport itself never retries;
// retry policy belongs to the caller.
type TransportError struct {
	Reason string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("mllp transport: %s: %v", e.Reason, e.Err)
	}
	return "mllp transport: " + e.Reason
}

func (e *TransportError) Unwrap() error { return e.Err }

// Send opens a fresh TCP connection to host:port, writes payload framed in
// MLLP markers, and reads the framed reply, returning it with the markers
// stripped. One connection per call: partner interface engines do not assume
// connection reuse.
//
// The whole exchange is bounded by timeout and by ctx; cancelling ctx aborts
// an in-flight read promptly. A reply whose end marker never arrives is a
// truncated-frame failure, never returned as data.
func Send(ctx context.Context, host string, port int, payload []byte, timeout time.Duration) ([]byte, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &TransportError{Reason: "connect to " + addr, Err: err}
	}
	defer conn.Close()

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetDeadline(deadline)

	// Force pending reads to fail as soon as the context is cancelled.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			conn.SetDeadline(time.Now())
		case <-watchDone:
		}
	}()

	if _, err := conn.Write(Frame(payload)); err != nil {
		return nil, &TransportError{Reason: "write frame", Err: err}
	}

	var reply []byte
	readBuf := make([]byte, 4096)
	for {
		n, err := conn.Read(readBuf)
		if n > 0 {
			reply = append(reply, readBuf[:n]...)
			if len(reply) > maxMessageSize {
				return nil, &TransportError{Reason: "reply exceeds max message size"}
			}
			if bytes.IndexByte(reply, EndBlock) != -1 {
				break
			}
		}
		if err != nil {
			if len(reply) > 0 {
				return nil, &TransportError{Reason: "truncated reply", Err: err}
			}
			return nil, &TransportError{Reason: "read reply", Err: err}
		}
	}

	return stripFraming(reply), nil
}

// stripFraming removes the MLLP envelope (leading start block, trailing end
// block and CR) from a reply. Interior carriage returns are segment
// separators and stay untouched.
func stripFraming(data []byte) []byte {
	if i := bytes.IndexByte(data, StartBlock); i != -1 {
		data = data[i+1:]
	}
	if i := bytes.IndexByte(data, EndBlock); i != -1 {
		data = data[:i]
	}
	return data
}
