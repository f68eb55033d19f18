package tags

import (
	"context"
	"strings"
)

// maxMarkerBody bounds how many characters after '[' the parser will scan
// looking for a closing ']' before giving up on treating it as a tag
// marker. This is the "carry buffer" from the design: long enough to hold
// the longest configured tag name (plus an optional leading '/'), short
// enough that ordinary bracketed JSON content in a buffered section's
// payload (arrays, objects) is never mistaken for a marker.
const maxMarkerBody = 24

// Event is one unit of output from the processor: either a streamed token
// or a fully buffered section, tagged with which logical channel it
// belongs to.
type Event struct {
	Tag     Tag
	Content string
}

// Parser is the tag stream processor's state machine. It consumes text in
// arbitrary chunks (tag markers may be split across chunk boundaries) and
// produces Events as soon as they can be classified.
//
// A Parser is not safe for concurrent use; each request gets its own.
type Parser struct {
	tagSet map[Tag]TagConfig

	buf string // carry buffer: bytes not yet classified
	raw strings.Builder

	open    bool
	openTag Tag
	openCfg TagConfig
	content strings.Builder

	debugEmitted bool
}

// New creates a Parser configured with the given per-tag modes. Use
// DefaultTagSet for the baseline recognized tag set.
func New(tagSet map[Tag]TagConfig) *Parser {
	return &Parser{tagSet: tagSet}
}

// Feed appends one chunk of model output and returns any events it made
// classifiable. Chunks may split a tag marker at any byte offset.
func (p *Parser) Feed(chunk string) []Event {
	if chunk == "" {
		return nil
	}
	p.raw.WriteString(chunk)
	p.buf += chunk
	return p.drain()
}

// Close signals end of stream. Any section still open is implicitly
// closed, any unclassified carry buffer is flushed as literal content,
// and the synthetic debug event is emitted exactly once.
func (p *Parser) Close() []Event {
	var events []Event
	if p.buf != "" {
		events = append(events, p.emitLiteral(p.buf)...)
		p.buf = ""
	}
	if p.open {
		events = append(events, p.closeCurrentSection()...)
	}
	if !p.debugEmitted {
		p.debugEmitted = true
		events = append(events, Event{Tag: TagDebug, Content: p.raw.String()})
	}
	return events
}

// drain classifies as much of the carry buffer as is unambiguous,
// appending literal content, opening/closing sections, and leaving any
// trailing partial marker in p.buf for the next Feed.
func (p *Parser) drain() []Event {
	var events []Event
	for p.buf != "" {
		idx := strings.IndexByte(p.buf, '[')
		if idx == -1 {
			events = append(events, p.emitLiteral(p.buf)...)
			p.buf = ""
			break
		}
		if idx > 0 {
			events = append(events, p.emitLiteral(p.buf[:idx])...)
			p.buf = p.buf[idx:]
		}

		limited := p.buf[1:]
		if len(limited) > maxMarkerBody {
			limited = limited[:maxMarkerBody]
		}
		j := strings.IndexByte(limited, ']')
		if j == -1 {
			if len(p.buf)-1 >= maxMarkerBody {
				// Too far to the next ']' to plausibly be a tag name; the
				// leading '[' is ordinary content.
				events = append(events, p.emitLiteral(p.buf[:1])...)
				p.buf = p.buf[1:]
				continue
			}
			// Might still complete into a marker once more data arrives.
			break
		}

		inner := p.buf[1 : 1+j]
		if !validName(inner) {
			events = append(events, p.emitLiteral(p.buf[:1])...)
			p.buf = p.buf[1:]
			continue
		}

		markerLen := 1 + j + 1
		marker := p.buf[:markerLen]
		p.buf = p.buf[markerLen:]

		if strings.HasPrefix(inner, "/") {
			events = append(events, p.handleClose(strings.ToUpper(inner[1:]), marker)...)
		} else {
			events = append(events, p.handleOpen(strings.ToUpper(inner), marker)...)
		}
	}
	return events
}

// validName reports whether a bracket's inner text could plausibly be a
// tag name: an optional leading '/' followed by one or more ASCII letters
// or underscores. JSON content ("[]", "[1,2]", "[{\"a\":1}]") never
// matches this, since its first character after '[' is not a letter.
func validName(inner string) bool {
	s := strings.TrimPrefix(inner, "/")
	if s == "" {
		return false
	}
	for _, r := range s {
		if r == '_' || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') {
			continue
		}
		return false
	}
	return true
}

func (p *Parser) handleOpen(name, marker string) []Event {
	tag, known := tagByName(name)
	if !known {
		return p.emitLiteral(marker)
	}

	var events []Event
	if p.open {
		// A new opening marker — of any tag, including the same one —
		// implicitly closes whatever section is currently open.
		events = append(events, p.closeCurrentSection()...)
	}

	cfg, configured := p.tagSet[tag]
	if !configured {
		cfg = TagConfig{Mode: Buffer}
	}
	p.open = true
	p.openTag = tag
	p.openCfg = cfg
	p.content.Reset()
	return events
}

func (p *Parser) handleClose(name, marker string) []Event {
	tag, known := tagByName(name)
	if !known || !p.open || tag != p.openTag {
		// Close-tag-without-open (or mismatched close): literal content.
		return p.emitLiteral(marker)
	}
	return p.closeCurrentSection()
}

func (p *Parser) closeCurrentSection() []Event {
	tag, cfg := p.openTag, p.openCfg
	p.open = false
	p.openTag = TagUnknown

	var events []Event
	if cfg.Mode == Buffer || cfg.Mode == StreamAndBuffer {
		bufTag := tag
		if cfg.Mode == StreamAndBuffer && cfg.BufferAs != TagUnknown {
			bufTag = cfg.BufferAs
		}
		events = append(events, Event{Tag: bufTag, Content: p.content.String()})
	}
	p.content.Reset()
	return events
}

// emitLiteral routes a run of plain content to whatever section is
// currently open (streaming it immediately for Stream/StreamAndBuffer
// tags, buffering it silently for Buffer tags), or surfaces it as
// TagUnknown content when nothing is open. Never drops input.
func (p *Parser) emitLiteral(s string) []Event {
	if s == "" {
		return nil
	}
	if !p.open {
		return []Event{{Tag: TagUnknown, Content: s}}
	}
	switch p.openCfg.Mode {
	case Stream:
		return []Event{{Tag: p.openTag, Content: s}}
	case StreamAndBuffer:
		p.content.WriteString(s)
		return []Event{{Tag: p.openTag, Content: s}}
	default: // Buffer
		p.content.WriteString(s)
		return nil
	}
}

// Process runs a Parser over a channel of input chunks, emitting Events on
// the returned channel as soon as they are classifiable. The returned
// channel is closed after Close()'s final events (including the debug
// event) have been sent. Process returns early if ctx is cancelled,
// without emitting the debug event.
func Process(ctx context.Context, tokens <-chan string, tagSet map[Tag]TagConfig) <-chan Event {
	out := make(chan Event)
	go func() {
		defer close(out)
		p := New(tagSet)
		for {
			select {
			case <-ctx.Done():
				return
			case chunk, ok := <-tokens:
				if !ok {
					for _, e := range p.Close() {
						select {
						case out <- e:
						case <-ctx.Done():
							return
						}
					}
					return
				}
				for _, e := range p.Feed(chunk) {
					select {
					case out <- e:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return out
}
