package stream

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
)

// DoneMarker is the payload that terminates an upstream stream.
const DoneMarker = "[DONE]"

const (
	maxLogPayload = 200
	readBufSize   = 64 * 1024
	// Lines longer than this are dropped like any other undecodable line.
	maxLineBytes = 64 * 1024 * 1024
)

var errInvalidJSON = errors.New("invalid JSON payload") //nolint:gochecknoglobals // sentinel error

// Frame is one decoded line of the upstream stream.
type Frame struct {
	// Payload is the JSON text with any "data:" prefix removed. It is the
	// exact text that gets forwarded downstream.
	Payload []byte
	// Done is set for the terminal marker; Payload is nil in that case.
	Done bool
}

// Decoder turns upstream lines into frames. It is forward-only and stops
// after the terminal marker.
type Decoder struct {
	reader  *bufio.Reader
	maxLine int
	done    bool
	skipped int
}

// NewDecoder reads SSE-shaped lines from r.
func NewDecoder(r io.Reader) *Decoder {
	return NewDecoderSize(r, maxLineBytes)
}

// NewDecoderSize is NewDecoder with a custom line limit. Upstream items
// (function call outputs, long answers) can be large, so the limit only
// guards memory; an oversized line is skipped and the stream continues.
func NewDecoderSize(r io.Reader, maxLine int) *Decoder {
	return &Decoder{reader: bufio.NewReaderSize(r, readBufSize), maxLine: maxLine}
}

// Next returns the next frame. It returns io.EOF once the terminal marker
// has been returned or the upstream closed without one. Any other error is
// a transport failure and is fatal for the stream.
func (d *Decoder) Next() (Frame, error) {
	if d.done {
		return Frame{}, io.EOF
	}

	for {
		line, tooLong, err := d.readLine()
		if err != nil && !errors.Is(err, io.EOF) {
			d.done = true
			return Frame{}, fmt.Errorf("stream.Decoder.Next: %w", err)
		}
		// The upstream may close without a final newline.
		eof := err != nil
		if eof {
			d.done = true
		}

		switch {
		case tooLong:
			log.Warn().Int("limit", d.maxLine).Msg("stream: dropping oversized line")
			d.skipped++
		case len(line) > 0:
			if frame, ok := d.decodeLine(string(line)); ok {
				if frame.Done {
					d.done = true
				}
				return frame, nil
			}
		}

		if eof {
			return Frame{}, io.EOF
		}
	}
}

// readLine returns the next line including its terminator. A line longer
// than maxLine is consumed up to its newline and reported as tooLong.
func (d *Decoder) readLine() ([]byte, bool, error) {
	var (
		line    []byte
		tooLong bool
	)
	for {
		chunk, err := d.reader.ReadSlice('\n')
		if !tooLong {
			if len(line)+len(chunk) > d.maxLine {
				tooLong, line = true, nil
			} else {
				line = append(line, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return line, tooLong, err
	}
}

// Skipped returns how many non-blank lines were dropped as undecodable.
func (d *Decoder) Skipped() int {
	return d.skipped
}

func (d *Decoder) decodeLine(line string) (Frame, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return Frame{}, false
	}
	if trimmed == "data: "+DoneMarker || trimmed == DoneMarker {
		return Frame{Done: true}, true
	}

	body, isData := stripDataPrefix(trimmed)
	if body == "" {
		return Frame{}, false
	}
	if body == DoneMarker {
		return Frame{Done: true}, true
	}

	if !isData && isSSEField(trimmed) {
		log.Debug().Str("line", truncate(trimmed)).Msg("stream: ignoring non-data SSE field")
		d.skipped++
		return Frame{}, false
	}

	payload := []byte(body)
	if !json.Valid(payload) {
		log.Warn().Err(errInvalidJSON).Str("payload", truncate(body)).Msg("stream: failed to parse JSON from stream")
		d.skipped++
		return Frame{}, false
	}

	return Frame{Payload: payload}, true
}

func stripDataPrefix(line string) (string, bool) {
	switch {
	case strings.HasPrefix(line, "data: "):
		return strings.TrimSpace(line[len("data: "):]), true
	case strings.HasPrefix(line, "data:"):
		return strings.TrimSpace(line[len("data:"):]), true
	default:
		return line, false
	}
}

// isSSEField reports SSE lines that can never carry a payload: comments and
// the event/id/retry fields.
func isSSEField(line string) bool {
	if strings.HasPrefix(line, ":") {
		return true
	}
	for _, field := range []string{"event:", "id:", "retry:"} {
		if strings.HasPrefix(line, field) {
			return true
		}
	}
	return false
}

func truncate(s string) string {
	return TruncateUTF8(s, maxLogPayload)
}

// TruncateUTF8 cuts s to at most n bytes without splitting a rune.
func TruncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
