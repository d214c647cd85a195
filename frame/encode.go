package frame

import (
	"io"
	"strconv"
	"strings"
	"unicode/utf8"
)

// A Writer serializes frames onto an io.Writer, one Write call per frame so
// that a frame is never split across writes at this layer. The Writer is
// not safe for concurrent use; the owner serializes access.
type Writer struct {
	w       io.Writer
	version Protocol
	lineEnd string
}

// NewWriter returns a Writer emitting frames for the given revision with LF
// line endings.
func NewWriter(w io.Writer, version Protocol) *Writer {
	return &Writer{w: w, version: version, lineEnd: "\n"}
}

// SetVersion switches the escaping rules. Called once after version
// negotiation; subsequent frames use the new revision.
func (wr *Writer) SetVersion(v Protocol) {
	wr.version = v
}

// UseCRLF switches outbound line endings to CR LF. Only STOMP 1.2 allows
// it; the caller enforces the version precondition.
func (wr *Writer) UseCRLF(on bool) {
	if on {
		wr.lineEnd = "\r\n"
	} else {
		wr.lineEnd = "\n"
	}
}

// Write encodes one frame: command line, header lines, blank line, body,
// NUL. Duplicate header keys and NUL bytes in header text are rejected
// before anything reaches the wire.
func (wr *Writer) Write(f *Frame) error {
	if f.Command == "" {
		return ErrEmptyCommand
	}

	buf := GetBuffer()
	defer PutBuffer(buf)

	buf.WriteString(f.Command)
	buf.WriteString(wr.lineEnd)

	suppress := false
	hasLength := false
	seen := make(map[string]bool, f.Header.Len())
	for i := 0; i < f.Header.Len(); i++ {
		k, v := f.Header.GetAt(i)
		if k == SuppressContentLength {
			suppress = true
			continue
		}
		if seen[k] {
			return ErrDuplicateHeader
		}
		seen[k] = true
		if k == ContentLength {
			hasLength = true
		}
		if strings.ContainsRune(k, 0) || strings.ContainsRune(v, 0) {
			return ErrNulInHeader
		}
		if wr.version.AtLeast(V11) {
			if !utf8.ValidString(k) || !utf8.ValidString(v) {
				return ErrInvalidUTF8
			}
		}
		buf.WriteString(escapeHeader(wr.version, k))
		buf.WriteByte(':')
		buf.WriteString(escapeHeader(wr.version, v))
		buf.WriteString(wr.lineEnd)
	}

	if len(f.Body) > 0 && !hasLength && !suppress {
		buf.WriteString(ContentLength)
		buf.WriteByte(':')
		buf.WriteString(strconv.Itoa(len(f.Body)))
		buf.WriteString(wr.lineEnd)
	}

	buf.WriteString(wr.lineEnd)
	buf.Write(f.Body)
	buf.WriteByte(0)

	_, err := wr.w.Write(buf.Bytes())
	return err
}

// WriteHeartBeat emits a single LINE-END byte sequence, the keep-alive of
// STOMP 1.1+. The caller holds the same lock it holds for Write, so a
// heartbeat never lands inside another frame.
func (wr *Writer) WriteHeartBeat() error {
	_, err := io.WriteString(wr.w, wr.lineEnd)
	return err
}
