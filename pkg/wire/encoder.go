// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
)

// ErrOutOfOrder is returned when outbound events do not follow the
// ResponseHead, Content..., LastContent sequence.
var ErrOutOfOrder = errors.New("wire: outbound event out of order")

// Encoder frames outbound events as HTTP/1.1 responses.
type Encoder struct {
	bw     *bufio.Writer
	closer io.Closer

	inResponse bool
	chunked    bool
	noBody     bool
}

var _ Writer = (*Encoder)(nil)

// NewEncoder creates an encoder writing to w. If w is also an io.Closer,
// Close closes it.
func NewEncoder(w io.Writer) *Encoder {
	e := &Encoder{bw: bufio.NewWriter(w)}
	if c, ok := w.(io.Closer); ok {
		e.closer = c
	}
	return e
}

// Write implements Writer.
func (e *Encoder) Write(ev Outbound) error {
	switch ev := ev.(type) {
	case ResponseHead:
		if e.inResponse {
			return ErrOutOfOrder
		}
		return e.writeHead(ev)
	case Content:
		if !e.inResponse {
			return ErrOutOfOrder
		}
		return e.writeData(ev.Data)
	case LastContent:
		if !e.inResponse {
			return ErrOutOfOrder
		}
		if err := e.writeData(ev.Data); err != nil {
			return err
		}
		e.inResponse = false
		if e.chunked && !e.noBody {
			_, err := e.bw.WriteString("0\r\n\r\n")
			return err
		}
		return nil
	default:
		return fmt.Errorf("wire: unknown outbound event %T", ev)
	}
}

func (e *Encoder) writeHead(h ResponseHead) error {
	proto := h.Proto
	if proto == "" {
		proto = "HTTP/1.1"
	}
	header := h.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Del("Transfer-Encoding")

	e.noBody = h.NoBody
	e.chunked = false
	switch {
	case h.ContentLength >= 0:
		header.Set("Content-Length", strconv.FormatInt(h.ContentLength, 10))
	case h.NoBody:
	default:
		header.Del("Content-Length")
		header.Set("Transfer-Encoding", "chunked")
		e.chunked = true
	}

	if _, err := fmt.Fprintf(e.bw, "%s %03d %s\r\n", proto, h.Status, http.StatusText(h.Status)); err != nil {
		return err
	}
	if err := header.Write(e.bw); err != nil {
		return err
	}
	if _, err := e.bw.WriteString("\r\n"); err != nil {
		return err
	}
	e.inResponse = true
	return nil
}

func (e *Encoder) writeData(p []byte) error {
	if len(p) == 0 || e.noBody {
		return nil
	}
	if e.chunked {
		if _, err := fmt.Fprintf(e.bw, "%x\r\n", len(p)); err != nil {
			return err
		}
		if _, err := e.bw.Write(p); err != nil {
			return err
		}
		_, err := e.bw.WriteString("\r\n")
		return err
	}
	_, err := e.bw.Write(p)
	return err
}

// Flush implements Writer.
func (e *Encoder) Flush() error {
	return e.bw.Flush()
}

// Close implements Writer.
func (e *Encoder) Close() error {
	if e.closer == nil {
		return nil
	}
	return e.closer.Close()
}
