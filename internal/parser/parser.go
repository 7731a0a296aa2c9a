// Package parser implements the OutputParser (spec component C5): an
// incremental scanner over streamed assistant text that recognizes embedded
// tool calls and workflow triggers, tolerating partial tags split across
// chunk boundaries.
//
// encoding/xml is deliberately not used here: the teacher corpus has no
// streaming/partial XML decoder, and a generic decoder cannot resume across
// an incomplete tag the way this parser's Feed/Flush pair does. See
// DESIGN.md for the grounding note.
package parser

import (
	"regexp"
	"strings"
)

// Kind enumerates the structures this parser recognizes once a tag closes.
type Kind string

const (
	KindToolCall        Kind = "tool_call"
	KindWorkflowTrigger  Kind = "workflow_trigger"
	KindThought          Kind = "thought"
	KindMalformed        Kind = "malformed"
)

// The Tag* constants enumerate the reserved tags the tie-break in spec
// section 4.5 routes to the WorkflowManager instead of the ToolExecutor.
// This is the fixed tag-set the spec's open question asked for (SPEC_FULL.md
// sections 3-9): any tag not in this set is a tool call.
const (
	TagPlan         = "plan"
	TagTaskList     = "task_list"
	TagCreateWorker = "create_worker"
	TagThought      = "thought"
)

var reservedTags = map[string]bool{
	TagPlan:         true,
	TagTaskList:     true,
	TagCreateWorker: true,
	TagThought:      true,
}

// ToolCall is a parsed `<toolName><action>…</action><paramN>…</paramN></toolName>` call.
type ToolCall struct {
	Name   string
	Action string
	Params map[string]string
	Raw    string
}

// TaskElement is one `<task .../>` entry inside a parsed `<task_list>`.
type TaskElement struct {
	Attrs map[string]string
}

// WorkflowTrigger is a parsed `<plan>`, `<task_list>`, or `<create_worker>` tag.
type WorkflowTrigger struct {
	Tag   string
	Attrs map[string]string
	Body  string
	Tasks []TaskElement // populated only for task_list
}

// Event is one unit yielded by the parser once a top-level tag closes (or,
// for Malformed, once it gives up on one).
type Event struct {
	Kind     Kind
	ToolCall *ToolCall
	Workflow *WorkflowTrigger
	Thought  string
	Span     string // offending text, set only for Malformed
}

// Parser scans streamed text for complete top-level tags. Feed is called
// once per chunk; Flush is called once at end-of-stream to resolve (or
// reject as malformed) whatever is left buffered.
type Parser struct {
	buf strings.Builder
}

// New returns a Parser with an empty buffer.
func New() *Parser { return &Parser{} }

// selfCloseTagRe is tried before openTagRe: a greedy attrs group in a single
// combined pattern would happily swallow a trailing "/" into the attrs
// capture (the overall match still succeeds with the optional "/?" matching
// zero times), so self-closing detection needs its own, more specific
// pattern checked first.
var selfCloseTagRe = regexp.MustCompile(`^<([a-zA-Z_][a-zA-Z0-9_]*)((?:\s+[^<>]*)?)/>`)
var openTagRe = regexp.MustCompile(`^<([a-zA-Z_][a-zA-Z0-9_]*)((?:\s+[^<>]*)?)>`)

// Feed appends chunk to the internal buffer and extracts any top-level tags
// that are now complete. Plain prose outside of tags is discarded; callers
// that need the full assistant text track it separately from the chunk
// stream (this parser's job is structure extraction only).
func (p *Parser) Feed(chunk string) []Event {
	p.buf.WriteString(chunk)
	return p.drain(false)
}

// Flush signals end-of-stream. Any tag still open at this point could never
// close, so it is reported as Malformed and the buffer is reset.
func (p *Parser) Flush() []Event {
	return p.drain(true)
}

func (p *Parser) drain(eof bool) []Event {
	var events []Event
	for {
		s := p.buf.String()
		idx := strings.IndexByte(s, '<')
		if idx < 0 {
			p.buf.Reset()
			return events
		}
		rest := s[idx:]

		if m := selfCloseTagRe.FindStringSubmatchIndex(rest); m != nil {
			name := rest[m[2]:m[3]]
			attrsRaw := rest[m[4]:m[5]]
			tagEnd := m[1]
			ev := buildEvent(name, attrsRaw, "", rest[:tagEnd])
			events = append(events, ev)
			p.consume(s, idx+tagEnd)
			continue
		}

		m := openTagRe.FindStringSubmatchIndex(rest)
		if m == nil {
			// Either genuinely malformed ("<" not followed by a valid tag
			// name) or a tag name/attrs straddling the chunk boundary. Only
			// the latter is worth waiting for; distinguish by checking
			// whether rest could still become a valid opener.
			if eof || isDefinitelyMalformed(rest) {
				events = append(events, Event{Kind: KindMalformed, Span: rest})
				p.buf.Reset()
				return events
			}
			p.buf.Reset()
			p.buf.WriteString(rest)
			return events
		}

		name := rest[m[2]:m[3]]
		attrsRaw := rest[m[4]:m[5]]
		tagEnd := m[1]

		closeTag := "</" + name + ">"
		bodyStart := tagEnd
		closeIdx := strings.Index(rest[bodyStart:], closeTag)
		if closeIdx < 0 {
			if eof {
				events = append(events, Event{Kind: KindMalformed, Span: rest})
				p.buf.Reset()
				return events
			}
			p.buf.Reset()
			p.buf.WriteString(rest)
			return events
		}
		body := rest[bodyStart : bodyStart+closeIdx]
		fullEnd := bodyStart + closeIdx + len(closeTag)
		ev := buildEvent(name, attrsRaw, body, rest[:fullEnd])
		events = append(events, ev)
		p.consume(s, idx+fullEnd)
	}
}

// consume drops everything up to and including position end (measured from
// the start of the last full buffer snapshot s) from the parser's buffer.
func (p *Parser) consume(s string, end int) {
	p.buf.Reset()
	p.buf.WriteString(s[end:])
}

// isDefinitelyMalformed reports whether rest can never become a valid
// opening tag no matter how much more text arrives (e.g. "<1foo>" or a "<"
// followed by whitespace/another "<").
func isDefinitelyMalformed(rest string) bool {
	if len(rest) < 2 {
		return false // "<" alone: could still be the start of a tag name
	}
	c := rest[1]
	isNameStart := c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
	return !isNameStart
}

func buildEvent(name, attrsRaw, body, raw string) Event {
	if reservedTags[name] {
		if name == TagThought {
			return Event{Kind: KindThought, Thought: body}
		}
		trigger := &WorkflowTrigger{
			Tag:   name,
			Attrs: parseAttrs(attrsRaw),
			Body:  body,
		}
		if name == TagTaskList {
			trigger.Tasks = parseTasks(body)
		}
		return Event{Kind: KindWorkflowTrigger, Workflow: trigger}
	}

	call := &ToolCall{Name: name, Raw: raw, Params: map[string]string{}}
	for _, sub := range extractSubTags(body) {
		if sub.name == "action" {
			call.Action = sub.body
			continue
		}
		call.Params[sub.name] = sub.body
	}
	return Event{Kind: KindToolCall, ToolCall: call}
}

type subTag struct {
	name string
	body string
}

// extractSubTags finds `<name>body</name>` children within a tool call's
// body (the `<action>` and `<paramN>` elements spec section 4.5 describes).
// Self-closing children (e.g. `<task .../>` inside `<task_list>`) are
// handled separately by extractSelfClosing, so an opener matched here that
// turns out to be self-closing is simply skipped.
func extractSubTags(body string) []subTag {
	var out []subTag
	rest := body
	for {
		idx := strings.IndexByte(rest, '<')
		if idx < 0 {
			break
		}
		rest = rest[idx:]
		if selfCloseTagRe.MatchString(rest) {
			rest = rest[1:]
			continue
		}
		m := openTagRe.FindStringSubmatchIndex(rest)
		if m == nil {
			if len(rest) == 0 {
				break
			}
			rest = rest[1:]
			continue
		}
		name := rest[m[2]:m[3]]
		tagEnd := m[1]
		closeTag := "</" + name + ">"
		closeIdx := strings.Index(rest[tagEnd:], closeTag)
		if closeIdx < 0 {
			break
		}
		out = append(out, subTag{name: name, body: strings.TrimSpace(rest[tagEnd : tagEnd+closeIdx])})
		rest = rest[tagEnd+closeIdx+len(closeTag):]
	}
	return out
}

func parseTasks(body string) []TaskElement {
	var tasks []TaskElement
	for _, sub := range extractSelfClosing(body, "task") {
		tasks = append(tasks, TaskElement{Attrs: sub})
	}
	return tasks
}

// extractSelfClosing finds every `<name attr="v" .../>` occurrence in body,
// requiring a word boundary after name so e.g. "task" doesn't match inside
// "tasking".
func extractSelfClosing(body, name string) []map[string]string {
	re := regexp.MustCompile(`<` + name + `(\s+[^<>]*)?/>`)
	matches := re.FindAllStringSubmatch(body, -1)
	out := make([]map[string]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, parseAttrs(m[1]))
	}
	return out
}

var attrRe = regexp.MustCompile(`([a-zA-Z_][a-zA-Z0-9_-]*)\s*=\s*"([^"]*)"`)

func parseAttrs(raw string) map[string]string {
	attrs := map[string]string{}
	for _, m := range attrRe.FindAllStringSubmatch(raw, -1) {
		attrs[m[1]] = m[2]
	}
	return attrs
}
