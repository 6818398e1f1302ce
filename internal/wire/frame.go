// Package wire implements the semicolon-delimited ASCII frame format shared
// by the coordinator and worker roles. Every frame is a kind tag followed by
// zero or more fields, each field (including the last) terminated by ';'.
package wire

import (
	"errors"
	"strings"
)

// MaxFrameSize bounds a single encoded frame. Oversize frames are rejected
// by Decode rather than silently truncated.
const MaxFrameSize = 512

// Kind tags the catalogue of frames exchanged between coordinator and
// worker roles.
type Kind string

const (
	KindPing     Kind = "ping"
	KindPong     Kind = "pong"
	KindConf     Kind = "conf"
	KindIPs      Kind = "ips"
	KindDiscover Kind = "discover"
	KindDisc     Kind = "disc"
	KindStart    Kind = "start"
	KindLEAck    Kind = "le_ack"
	KindLEQuery  Kind = "le_m?"
	KindResults  Kind = "results"
	KindRConf    Kind = "rconf"
	KindFailure  Kind = "failure"
)

// ErrOversize is returned by Decode when the input exceeds MaxFrameSize.
var ErrOversize = errors.New("wire: frame exceeds maximum size")

// ErrMalformed is returned by Decode when the input does not end in ';' or
// contains no kind tag.
var ErrMalformed = errors.New("wire: malformed frame")

// Frame is a decoded wire message: a kind tag plus its ordered fields.
type Frame struct {
	Kind   Kind
	Fields []string
}

// Encode renders kind and fields into the wire format, terminating every
// field (including the last) with ';'.
func Encode(kind Kind, fields ...string) []byte {
	var b strings.Builder
	b.WriteString(string(kind))
	b.WriteByte(';')
	for _, f := range fields {
		b.WriteString(f)
		b.WriteByte(';')
	}
	return []byte(b.String())
}

// Decode splits raw bytes into a Frame. It requires a trailing ';' and
// rejects frames larger than MaxFrameSize. Segments are returned in order;
// the caller uses a Cursor to pull fields off a decoded frame when it wants
// extract-as-you-go semantics matching the source protocol's cursor walk.
func Decode(raw []byte) (Frame, error) {
	if len(raw) > MaxFrameSize {
		return Frame{}, ErrOversize
	}
	s := string(raw)
	if s == "" || !strings.HasSuffix(s, ";") {
		return Frame{}, ErrMalformed
	}
	// Trailing ';' means a trailing empty segment after Split; drop it.
	segments := strings.Split(s, ";")
	segments = segments[:len(segments)-1]
	if len(segments) == 0 || segments[0] == "" {
		return Frame{}, ErrMalformed
	}
	return Frame{Kind: Kind(segments[0]), Fields: segments[1:]}, nil
}

// Cursor walks a Frame's fields one at a time, the structured equivalent of
// the source's extractMsgSegment(cursor) pointer-advance idiom.
type Cursor struct {
	fields []string
	pos    int
}

// NewCursor returns a Cursor over f's fields.
func NewCursor(f Frame) *Cursor {
	return &Cursor{fields: f.Fields}
}

// Next returns the next field and true, or "" and false once exhausted.
func (c *Cursor) Next() (string, bool) {
	if c.pos >= len(c.fields) {
		return "", false
	}
	v := c.fields[c.pos]
	c.pos++
	return v, true
}

// Remaining reports how many fields are left unread.
func (c *Cursor) Remaining() int {
	return len(c.fields) - c.pos
}
