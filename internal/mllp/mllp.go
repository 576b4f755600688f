// Package mllp implements the Minimal Lower Layer Protocol framing used to
// carry HL7 v2 messages over TCP: <SB>payload<EB><CR>.
package mllp

import (
	"bufio"
	"errors"
	"io"
	"time"

	"hie/internal/apperror"
)

const (
	// StartBlock (VT, 0x0B) marks the beginning of a frame.
	StartBlock = 0x0B
	// EndBlock (FS, 0x1C) marks the end of a frame's payload.
	EndBlock = 0x1C
	// CarriageReturn (CR, 0x0D) optionally follows EndBlock.
	CarriageReturn = 0x0D

	// DefaultMaxFrameSize bounds a single frame's payload, matching the
	// legacy adapter's 10MB ceiling.
	DefaultMaxFrameSize = 10 * 1024 * 1024

	// trailerPeekTimeout bounds how long ReadFrame waits to see whether a
	// CR follows EndBlock before deciding the sender omitted it.
	trailerPeekTimeout = 100 * time.Millisecond
)

// deadlineSetter is satisfied by net.Conn; ReadFrame/WriteFrame use it to
// enforce read/write deadlines without depending on net directly, which
// keeps this package usable against any deadline-aware stream (useful for
// tests backed by net.Pipe or in-memory conns).
type deadlineSetter interface {
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// Wrap prepends StartBlock and appends EndBlock+CarriageReturn to payload.
// Pure: it never inspects or validates payload contents.
func Wrap(payload []byte) []byte {
	out := make([]byte, 0, len(payload)+3)
	out = append(out, StartBlock)
	out = append(out, payload...)
	out = append(out, EndBlock, CarriageReturn)
	return out
}

// ReadFrame reads one complete MLLP frame from r, enforcing readTimeout as
// an overall deadline (when conn implements deadlineSetter) and maxSize as
// a ceiling on the accumulated payload.
//
// It discards any bytes preceding StartBlock, tolerating keepalives and
// stray whitespace from misbehaving senders. A trailing CarriageReturn is
// consumed if present, but its absence is not an error — some deployed
// HL7 senders omit it.
func ReadFrame(r *bufio.Reader, conn deadlineSetter, readTimeout time.Duration, maxSize int) ([]byte, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}
	if conn != nil && readTimeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return nil, apperror.Wrap(err, apperror.CodeConnection, "failed to set read deadline")
		}
	}

	if err := discardUntilStart(r); err != nil {
		return nil, err
	}

	buf := make([]byte, 0, 4096)
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, readErr(err)
		}

		if b == EndBlock {
			return finishFrame(r, conn, buf)
		}

		buf = append(buf, b)
		if len(buf) > maxSize {
			return nil, apperror.New(apperror.CodeFrame, "frame exceeds maximum size").
				WithDetails("max_size", maxSize)
		}
	}
}

// discardUntilStart consumes bytes up to and including the first StartBlock.
func discardUntilStart(r *bufio.Reader) error {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return readErr(err)
		}
		if b == StartBlock {
			return nil
		}
	}
}

// finishFrame optionally consumes a trailing CarriageReturn after EndBlock,
// using a short sub-deadline so absence of CR doesn't stall the reader.
func finishFrame(r *bufio.Reader, conn deadlineSetter, payload []byte) ([]byte, error) {
	if conn != nil {
		_ = conn.SetReadDeadline(time.Now().Add(trailerPeekTimeout))
	}

	next, err := r.Peek(1)
	if err == nil && len(next) == 1 && next[0] == CarriageReturn {
		_, _ = r.Discard(1)
		return payload, nil
	}

	// No CR within the sub-deadline, or the next byte isn't CR: return the
	// payload as-is, leaving whatever follows for the next ReadFrame call.
	return payload, nil
}

// readErr maps a stream read error to an apperror.
func readErr(err error) error {
	if errors.Is(err, io.EOF) {
		return apperror.Wrap(err, apperror.CodeConnection, "connection closed before frame completed")
	}
	if isTimeout(err) {
		return apperror.Wrap(err, apperror.CodeTimeout, "read timed out")
	}
	return apperror.Wrap(err, apperror.CodeConnection, "connection read failed")
}

type timeoutError interface {
	Timeout() bool
}

func isTimeout(err error) bool {
	var te timeoutError
	if errors.As(err, &te) {
		return te.Timeout()
	}
	return false
}

// WriteFrame wraps payload in MLLP framing and writes it to w, enforcing
// writeTimeout as a deadline (when conn implements deadlineSetter) and
// flushing before returning.
func WriteFrame(w *bufio.Writer, conn deadlineSetter, payload []byte, writeTimeout time.Duration) error {
	if conn != nil && writeTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
			return apperror.Wrap(err, apperror.CodeConnection, "failed to set write deadline")
		}
	}

	if _, err := w.Write(Wrap(payload)); err != nil {
		return writeErr(err)
	}
	if err := w.Flush(); err != nil {
		return writeErr(err)
	}
	return nil
}

func writeErr(err error) error {
	if isTimeout(err) {
		return apperror.Wrap(err, apperror.CodeTimeout, "write timed out")
	}
	return apperror.Wrap(err, apperror.CodeConnection, "connection write failed")
}
