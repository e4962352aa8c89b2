package chat

import (
	"encoding/json"
	"log"
	"strings"
)

// deltaEnvelope is the shape of a thread.message.delta payload. Only the
// first text content block contributes to the reply.
type deltaEnvelope struct {
	Delta struct {
		Content []struct {
			Type string `json:"type"`
			Text struct {
				Value string `json:"value"`
			} `json:"text"`
		} `json:"content"`
	} `json:"delta"`
}

// DeltaAggregator reconstructs the reply text from a sequence of partial
// message-delta payloads. Malformed events are skipped and counted; one bad
// event never aborts an otherwise healthy stream.
type DeltaAggregator struct {
	buf     strings.Builder
	skipped int
}

// NewDeltaAggregator creates an empty aggregator.
func NewDeltaAggregator() *DeltaAggregator {
	return &DeltaAggregator{}
}

// Consume parses one raw delta payload and appends its text fragment to the
// buffer. It returns the fragment and whether one was extracted.
func (a *DeltaAggregator) Consume(data []byte) (string, bool) {
	if len(data) == 0 {
		a.skipped++
		log.Printf("Delta aggregator: skipping empty delta payload")
		return "", false
	}

	var envelope deltaEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		a.skipped++
		log.Printf("Delta aggregator: skipping unparseable delta payload: %v", err)
		return "", false
	}

	content := envelope.Delta.Content
	if len(content) == 0 {
		a.skipped++
		log.Printf("Delta aggregator: delta payload has no content blocks")
		return "", false
	}

	first := content[0]
	if first.Type != "text" {
		a.skipped++
		log.Printf("Delta aggregator: first content block is %q, not text", first.Type)
		return "", false
	}

	a.buf.WriteString(first.Text.Value)
	return first.Text.Value, true
}

// Result returns the accumulated reply, trimmed of surrounding whitespace,
// and whether any content was produced at all.
func (a *DeltaAggregator) Result() (string, bool) {
	text := strings.TrimSpace(a.buf.String())
	return text, text != ""
}

// Skipped returns how many events were discarded as malformed.
func (a *DeltaAggregator) Skipped() int { return a.skipped }
