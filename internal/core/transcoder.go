package core

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

const (
	sseDataPrefix   = "data:"
	sseDoneSentinel = "[DONE]"

	// Written into the outgoing stream when the upstream read fails
	// mid-response, so the reader sees the cut-off instead of silence.
	streamErrorMarker = "\n\n[connection to advisor lost]"
)

// completionChunk is the shape of one provider event payload. Only the
// incremental text is of interest; everything else is ignored.
type completionChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// eventParser incrementally splits an event stream into text fragments.
// It owns a carry-over buffer holding the tail of the last chunk that
// has not yet been completed by a newline.
type eventParser struct {
	buf []byte
}

// feed appends a chunk and returns the text fragments of every line
// completed by it, in order.
func (p *eventParser) feed(chunk []byte) []string {
	p.buf = append(p.buf, chunk...)

	var fragments []string
	for {
		nl := bytes.IndexByte(p.buf, '\n')
		if nl < 0 {
			break
		}
		line := string(p.buf[:nl])
		p.buf = p.buf[nl+1:]
		if frag, ok := parseEventLine(line); ok {
			fragments = append(fragments, frag)
		}
	}
	return fragments
}

// flush drains the buffered partial line. The upstream may end without
// a trailing newline, so the tail goes through the same line logic.
func (p *eventParser) flush() []string {
	if len(p.buf) == 0 {
		return nil
	}
	line := string(p.buf)
	p.buf = nil
	if frag, ok := parseEventLine(line); ok {
		return []string{frag}
	}
	return nil
}

// parseEventLine extracts the text fragment carried by one stream line,
// if any. Blank lines, comments, the end sentinel and malformed payloads
// all yield nothing; a single bad frame never aborts the stream.
func parseEventLine(line string) (string, bool) {
	line = strings.TrimSuffix(line, "\r")
	if line == "" || strings.HasPrefix(line, ":") {
		return "", false
	}
	if !strings.HasPrefix(line, sseDataPrefix) {
		return "", false
	}
	payload := strings.TrimPrefix(strings.TrimPrefix(line, sseDataPrefix), " ")
	if payload == sseDoneSentinel {
		return "", false
	}
	var chunk completionChunk
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		return "", false // drop malformed frame
	}
	if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
		return "", false
	}
	return chunk.Choices[0].Delta.Content, true
}

// Transcoder drains one upstream event stream, re-emitting extracted
// text to an outgoing writer as it arrives while accumulating the full
// reply. State is owned by a single request; a Transcoder is not reused.
type Transcoder struct {
	parser eventParser
	acc    strings.Builder
	text   string
	done   chan struct{}
}

func NewTranscoder() *Transcoder {
	return &Transcoder{done: make(chan struct{})}
}

// Run reads upstream until exhaustion, transport error, or a failed
// write to out (a disconnected client), whichever comes first. It
// always resolves Done exactly once; Text then holds everything that
// was emitted, possibly truncated.
func (t *Transcoder) Run(upstream io.Reader, out io.Writer) {
	defer func() {
		t.text = t.acc.String()
		close(t.done)
	}()

	buf := make([]byte, 4096)
	for {
		n, err := upstream.Read(buf)
		if n > 0 {
			if !t.emitAll(t.parser.feed(buf[:n]), out) {
				return // client gone, stop consuming
			}
		}
		if err == io.EOF {
			t.emitAll(t.parser.flush(), out)
			return
		}
		if err != nil {
			// Surface the cut-off in-band rather than ending silently.
			t.acc.WriteString(streamErrorMarker)
			io.WriteString(out, streamErrorMarker)
			flushWriter(out)
			return
		}
	}
}

func (t *Transcoder) emitAll(fragments []string, out io.Writer) bool {
	for _, frag := range fragments {
		t.acc.WriteString(frag)
		if _, err := io.WriteString(out, frag); err != nil {
			return false
		}
		flushWriter(out)
	}
	return true
}

// Done is closed once Run has finished, on every path.
func (t *Transcoder) Done() <-chan struct{} {
	return t.done
}

// Text returns the full accumulated reply. Valid only after Done.
func (t *Transcoder) Text() string {
	<-t.done
	return t.text
}

func flushWriter(w io.Writer) {
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}
