// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httputil"
	"net/textproto"
	"strconv"
	"strings"
)

const (
	// DefaultChunkSize is the largest body chunk emitted by a Decoder.
	DefaultChunkSize = 32 * 1024

	// DefaultMaxHeaderBytes bounds a start line with its header block, and
	// a chunked trailer section.
	DefaultMaxHeaderBytes = 1 << 20

	// headerSlack covers bytes buffered past the end of a header block.
	headerSlack = 4096
)

var (
	// ErrMalformed is reported once a Decoder has lost request framing.
	ErrMalformed = errors.New("wire: malformed input, framing lost")

	// ErrHeaderTooLarge is returned by the transport reader once a header
	// block exceeds its limit.
	ErrHeaderTooLarge = errors.New("wire: header block too large")
)

// Decoder turns an HTTP/1.x request stream into inbound events.
type Decoder struct {
	br        *bufio.Reader
	tp        *textproto.Reader
	lim       *headerLimit
	chunkSize int
	maxHeader int64

	// body is non-nil while a request body is being decoded.
	body      io.Reader
	remaining int64 // -1 for chunked bodies
	closed    *Closed
}

var _ Source = (*Decoder)(nil)

// NewDecoder creates a decoder reading from r. chunkSize bounds the size of
// emitted body chunks; zero selects DefaultChunkSize.
func NewDecoder(r io.Reader, chunkSize int) *Decoder {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	lim := &headerLimit{r: r, n: -1}
	br := bufio.NewReaderSize(lim, chunkSize)
	return &Decoder{
		br:        br,
		tp:        textproto.NewReader(br),
		lim:       lim,
		chunkSize: chunkSize,
		maxHeader: DefaultMaxHeaderBytes,
	}
}

// SetMaxHeaderBytes bounds the bytes read for one header block. Zero or less
// selects DefaultMaxHeaderBytes.
func (d *Decoder) SetMaxHeaderBytes(n int) {
	if n <= 0 {
		n = DefaultMaxHeaderBytes
	}
	d.maxHeader = int64(n)
}

// limitHeader caps transport reads until the returned func is called.
func (d *Decoder) limitHeader() func() {
	d.lim.n = d.maxHeader + headerSlack
	return func() { d.lim.n = -1 }
}

// Next implements Source.
func (d *Decoder) Next() Inbound {
	if d.closed != nil {
		return *d.closed
	}
	if d.body != nil {
		return d.nextContent()
	}
	return d.nextStartLine()
}

func (d *Decoder) nextStartLine() Inbound {
	defer d.limitHeader()()

	var line string
	for {
		l, err := d.tp.ReadLine()
		if err != nil {
			if errors.Is(err, ErrHeaderTooLarge) {
				return d.unrecognized(d.tooLarge("request line"))
			}
			if errors.Is(err, io.EOF) {
				return d.close(nil)
			}
			return d.close(err)
		}
		// RFC 9112 (section 2.2): ignore at least one empty line before the request line.
		if l != "" {
			line = l
			break
		}
	}

	if strings.HasPrefix(line, "HTTP/") {
		// Consume the header block so the reason is reported once.
		_, _ = d.tp.ReadMIMEHeader()
		return d.unrecognized("response status line received where a request was expected")
	}

	method, rest, ok1 := strings.Cut(line, " ")
	target, proto, ok2 := strings.Cut(rest, " ")
	if !ok1 || !ok2 || method == "" || target == "" {
		return d.unrecognized(fmt.Sprintf("malformed request line %q", line))
	}
	if _, _, ok := http.ParseHTTPVersion(proto); !ok {
		return d.unrecognized(fmt.Sprintf("malformed protocol version %q", proto))
	}

	mime, err := d.tp.ReadMIMEHeader()
	if err != nil {
		if errors.Is(err, ErrHeaderTooLarge) {
			return d.unrecognized(d.tooLarge("header block"))
		}
		if isTransportError(err) {
			return d.close(err)
		}
		return d.unrecognized(fmt.Sprintf("malformed header block: %v", err))
	}
	ev := StartLine{
		Method: method,
		Target: target,
		Proto:  proto,
		Header: http.Header(mime),
	}

	switch {
	case chunked(ev.Header):
		d.body = httputil.NewChunkedReader(d.br)
		d.remaining = -1
		return ev
	case ev.Header.Get("Content-Length") != "":
		n, err := strconv.ParseInt(strings.TrimSpace(ev.Header.Get("Content-Length")), 10, 64)
		if err != nil || n < 0 {
			return d.unrecognized(fmt.Sprintf("invalid content length %q", ev.Header.Get("Content-Length")))
		}
		if n == 0 {
			ev.Complete = true
			return ev
		}
		// A short body that already arrived with the header block is fused
		// into the start line.
		if n <= int64(d.chunkSize) && int64(d.br.Buffered()) >= n {
			ev.Content = make([]byte, n)
			if _, err := io.ReadFull(d.br, ev.Content); err != nil {
				return d.close(err)
			}
			ev.Complete = true
			return ev
		}
		d.body = d.br
		d.remaining = n
		return ev
	default:
		ev.Complete = true
		return ev
	}
}

func (d *Decoder) nextContent() Inbound {
	want := d.chunkSize
	if d.remaining >= 0 && d.remaining < int64(want) {
		want = int(d.remaining)
	}
	buf := make([]byte, want)

	if d.remaining >= 0 {
		n, err := io.ReadFull(d.body, buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return d.close(err)
		}
		d.remaining -= int64(n)
		if d.remaining == 0 {
			d.body = nil
			return LastContent{Data: buf[:n]}
		}
		return Content{Data: buf[:n]}
	}

	n, err := d.body.Read(buf)
	switch {
	case err == nil:
		if n == 0 {
			return d.nextContent()
		}
		return Content{Data: buf[:n]}
	case errors.Is(err, io.EOF):
		d.body = nil
		if err := d.readTrailer(); err != nil {
			if errors.Is(err, ErrHeaderTooLarge) {
				return d.unrecognized(d.tooLarge("trailer section"))
			}
			return d.close(err)
		}
		if n == 0 {
			return LastContent{}
		}
		return LastContent{Data: buf[:n]}
	case isTransportError(err):
		return d.close(err)
	default:
		return d.unrecognized(fmt.Sprintf("malformed chunked body: %v", err))
	}
}

// readTrailer consumes the trailer section after the last chunk.
func (d *Decoder) readTrailer() error {
	defer d.limitHeader()()
	if _, err := d.tp.ReadMIMEHeader(); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (d *Decoder) tooLarge(what string) string {
	return fmt.Sprintf("%s exceeds %d bytes", what, d.maxHeader)
}

func (d *Decoder) unrecognized(reason string) Inbound {
	d.body = nil
	d.closed = &Closed{Err: ErrMalformed}
	return Unrecognized{Reason: reason}
}

func (d *Decoder) close(err error) Inbound {
	d.body = nil
	d.closed = &Closed{Err: err}
	return *d.closed
}

func chunked(h http.Header) bool {
	for _, v := range h.Values("Transfer-Encoding") {
		for _, coding := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(coding), "chunked") {
				return true
			}
		}
	}
	return false
}

func isTransportError(err error) bool {
	var netErr net.Error
	return errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.As(err, &netErr)
}

// headerLimit caps the bytes pulled from the transport while n is not
// negative.
type headerLimit struct {
	r io.Reader
	n int64
}

func (l *headerLimit) Read(p []byte) (int, error) {
	if l.n < 0 {
		return l.r.Read(p)
	}
	if l.n == 0 {
		return 0, ErrHeaderTooLarge
	}
	if int64(len(p)) > l.n {
		p = p[:l.n]
	}
	n, err := l.r.Read(p)
	l.n -= int64(n)
	return n, err
}
