// Package stream turns a raw chat response body into a lazy sequence of text
// increments, regardless of whether the server answered with a token stream,
// plain text, or a single structured payload.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"unicode/utf8"
)

// ErrExhausted is returned when Each is called on a decoder that has already
// consumed its body. Decoders are single-use.
var ErrExhausted = errors.New("stream: decoder already consumed")

const readBufferSize = 4096

// Decoder reads a response body incrementally and yields one text increment
// per inbound chunk. Partial UTF-8 sequences at chunk boundaries are buffered
// until the remaining bytes arrive, so increments never split a character.
type Decoder struct {
	body     io.ReadCloser
	buf      []byte
	pending  []byte
	consumed bool
}

// NewDecoder wraps a response body. The decoder owns the body and closes it
// when Each returns.
func NewDecoder(body io.ReadCloser) *Decoder {
	return &Decoder{
		body: body,
		buf:  make([]byte, readBufferSize),
	}
}

// Each reads the body to exhaustion, invoking fn once per non-empty text
// increment in arrival order. The sequence is finite and not restartable.
// A nil return means the channel closed normally; zero increments may have
// been yielded, and substituting placeholder content is the caller's job.
func (d *Decoder) Each(ctx context.Context, fn func(chunk string) error) error {
	if d.consumed {
		return ErrExhausted
	}
	d.consumed = true

	defer func() {
		if err := d.body.Close(); err != nil {
			slog.Warn("failed to close stream body", "error", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := d.body.Read(d.buf)
		if n > 0 {
			if chunk := d.decode(d.buf[:n]); chunk != "" {
				if cbErr := fn(chunk); cbErr != nil {
					return cbErr
				}
			}
		}
		if err == io.EOF {
			// Whatever is still buffered can no longer be completed into a
			// valid sequence; emit it as-is rather than dropping bytes.
			if len(d.pending) > 0 {
				rest := string(d.pending)
				d.pending = nil
				return fn(rest)
			}
			return nil
		}
		if err != nil {
			// A cancelled context surfaces as a read error on the body;
			// report the cancellation, not the wrapped read failure.
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("read stream: %w", err)
		}
	}
}

// decode prepends any carried partial sequence to p and returns the longest
// prefix that ends on a rune boundary, keeping the incomplete tail for the
// next chunk.
func (d *Decoder) decode(p []byte) string {
	data := p
	if len(d.pending) > 0 {
		data = append(d.pending, p...)
		d.pending = nil
	}

	complete, rest := splitIncompleteRune(data)
	if len(rest) > 0 {
		d.pending = append([]byte(nil), rest...)
	}
	return string(complete)
}

// splitIncompleteRune cuts data before a trailing incomplete UTF-8 sequence,
// if any. Only the last utf8.UTFMax-1 bytes can hold one.
func splitIncompleteRune(data []byte) (complete, rest []byte) {
	for i := len(data) - 1; i >= 0 && len(data)-i < utf8.UTFMax; i-- {
		b := data[i]
		if b < utf8.RuneSelf {
			break
		}
		if utf8.RuneStart(b) {
			if !utf8.FullRune(data[i:]) {
				return data[:i], data[i:]
			}
			break
		}
	}
	return data, nil
}

// atomicPayload is the structured single-payload response shape. The server
// answers with either a reply field or a message field depending on the
// endpoint revision.
type atomicPayload struct {
	Reply   string `json:"reply"`
	Message string `json:"message"`
}

// AtomicText extracts a human-readable string from a structured payload:
// first of reply text, message text, or the raw payload serialized as text.
// Malformed JSON falls back to the raw text rather than failing the exchange.
func AtomicText(raw []byte) string {
	var payload atomicPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		slog.Warn("malformed structured payload, using raw text", "error", err)
		return string(raw)
	}
	if payload.Reply != "" {
		return payload.Reply
	}
	if payload.Message != "" {
		return payload.Message
	}
	return string(raw)
}
