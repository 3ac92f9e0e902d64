package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
)

// EventKind discriminates the decoded event variants.
type EventKind string

const (
	// EventConversationID carries the conversation identifier assigned by
	// the backend. It may appear anywhere in the stream.
	EventConversationID EventKind = "conversation_id"
	// EventFragment carries one incremental piece of assistant text.
	EventFragment EventKind = "fragment"
)

// Event is one unit of meaning decoded from the raw response stream. The end
// of the stream is signalled by the event sequence terminating, either on the
// "[DONE]" sentinel or on the transport closing.
type Event struct {
	Kind           EventKind
	ConversationID string
	Fragment       string
}

const (
	framePrefix  = "data: "
	doneSentinel = "[DONE]"
)

// frame is the structured payload the backend emits on a data line. Raw text
// payloads that fail to parse as this record are surfaced verbatim as
// fragments.
type frame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
	Error          string `json:"error"`
}

// Events decodes the framed chat stream read from r into a lazy, finite
// sequence of events. The transport may split frames arbitrarily across
// reads; a partial trailing line is carried over until completed. Lines that
// do not start with the "data: " prefix are ignored. The sequence is
// single-use and bound to r; it terminates when the "[DONE]" sentinel is seen
// or r is exhausted, and yields a non-nil error if the read fails mid-stream
// or the backend reports a generation error in-band.
func Events(r io.Reader) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		var carry []byte
		buf := make([]byte, 4096)
		for {
			n, readErr := r.Read(buf)
			if n > 0 {
				carry = append(carry, buf[:n]...)
				for {
					idx := bytes.IndexByte(carry, '\n')
					if idx < 0 {
						break
					}
					line := string(carry[:idx])
					carry = carry[idx+1:]

					done, cont := emitLine(line, yield)
					if done || !cont {
						return
					}
				}
			}
			if readErr != nil {
				if errors.Is(readErr, io.EOF) {
					// Transport closed without the sentinel; treat as a
					// normal end of sequence. A trailing partial line is
					// decoder-internal noise.
					return
				}
				yield(Event{}, fmt.Errorf("read stream: %w", readErr))
				return
			}
		}
	}
}

// emitLine decodes one complete line. It reports whether the stream
// terminator was seen and whether the consumer wants more events.
func emitLine(line string, yield func(Event, error) bool) (done, cont bool) {
	line = strings.TrimSuffix(line, "\r")
	if !strings.HasPrefix(line, framePrefix) {
		return false, true
	}
	payload := line[len(framePrefix):]
	if payload == doneSentinel {
		return true, false
	}

	var f frame
	if err := json.Unmarshal([]byte(payload), &f); err != nil {
		// The backend tolerates raw text frames interleaved with structured
		// ones; surface the payload verbatim.
		if strings.TrimSpace(payload) == "" {
			return false, true
		}
		return false, yield(Event{Kind: EventFragment, Fragment: payload}, nil)
	}

	if f.Error != "" {
		yield(Event{}, fmt.Errorf("backend error: %s", f.Error))
		return true, false
	}
	if f.ConversationID != "" {
		if !yield(Event{Kind: EventConversationID, ConversationID: f.ConversationID}, nil) {
			return false, false
		}
	}
	if f.Content != "" {
		if !yield(Event{Kind: EventFragment, Fragment: f.Content}, nil) {
			return false, false
		}
	}
	return false, true
}
