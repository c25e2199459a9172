// Package extract incrementally recovers delimited file blocks from a streamed model response.
//
// A block has the wire form:
//
//	---FILE: relative/path.ext---
//	<literal file content>
//	---END FILE---
//
// Fragments may split markers at any byte; output does not depend on how the stream is chunked.
package extract

import "strings"

const (
	// OpenMarker starts a file block. The path follows on the same line, terminated by MarkerTail.
	OpenMarker = "---FILE:"
	// MarkerTail terminates the path portion of an opening marker.
	MarkerTail = "---"
	// CloseMarker ends the currently open file block.
	CloseMarker = "---END FILE---"
)

// Kind identifies the type of an extracted event.
type Kind string

const (
	// KindText carries one raw input fragment verbatim.
	KindText Kind = "text"
	// KindFile carries one completed file block.
	KindFile Kind = "file"
)

// File is one completed file block.
type File struct {
	Path     string
	Language string
	Content  string
}

// Event is one extractor output in production order.
type Event struct {
	Kind Kind
	Text string
	File File
}

// Unterminated describes a block that was still open when the stream ended.
type Unterminated struct {
	Path    string
	Content string
}

type state int

const (
	stateScanning state = iota
	stateInsideFile
)

// Extractor is a two-state scanner over an unbounded text stream. It is not safe for concurrent use;
// one run owns one extractor.
type Extractor struct {
	state   state
	path    string
	pending string
	// searchFrom skips the prefix of pending already known not to contain CloseMarker.
	searchFrom int
}

// New returns an extractor in the scanning state.
func New() *Extractor {
	return &Extractor{}
}

// Feed consumes one fragment. The first event is always the fragment itself as text, followed by one
// file event per block whose closing marker is now available, in closing-marker order.
func (x *Extractor) Feed(fragment string) []Event {
	events := []Event{{Kind: KindText, Text: fragment}}
	x.pending += fragment
	for {
		file, ok := x.next()
		if !ok {
			return events
		}
		events = append(events, Event{Kind: KindFile, File: file})
	}
}

// Close ends the stream. A block still open is reported but never delivered as a file.
func (x *Extractor) Close() (Unterminated, bool) {
	defer x.reset()
	if x.state != stateInsideFile {
		return Unterminated{}, false
	}
	return Unterminated{Path: x.path, Content: x.pending}, true
}

// InsideFile reports whether a block is currently open.
func (x *Extractor) InsideFile() bool {
	return x.state == stateInsideFile
}

func (x *Extractor) next() (File, bool) {
	for {
		if x.state == stateScanning {
			if !x.openBlock() {
				return File{}, false
			}
			continue
		}

		file, closed := x.closeBlock()
		if !closed {
			return File{}, false
		}
		if file.Content == "" {
			continue
		}
		return file, true
	}
}

// openBlock advances past text outside any block and reports whether a block was opened.
func (x *Extractor) openBlock() bool {
	for {
		idx := strings.Index(x.pending, OpenMarker)
		if idx < 0 {
			x.pending = undecidedSuffix(x.pending)
			return false
		}

		rest := x.pending[idx+len(OpenMarker):]
		end := strings.Index(rest, MarkerTail)
		newline := strings.IndexByte(rest, '\n')
		if newline >= 0 && (end < 0 || newline < end) {
			// Marker broken by a line end: literal text.
			x.pending = rest
			continue
		}
		if end < 0 {
			x.pending = x.pending[idx:]
			return false
		}

		path := strings.TrimSpace(rest[:end])
		if path == "" {
			x.pending = rest
			continue
		}

		x.state = stateInsideFile
		x.path = path
		x.pending = rest[end+len(MarkerTail):]
		x.searchFrom = 0
		return true
	}
}

func (x *Extractor) closeBlock() (File, bool) {
	idx := strings.Index(x.pending[x.searchFrom:], CloseMarker)
	if idx < 0 {
		if resume := len(x.pending) - len(CloseMarker) + 1; resume > x.searchFrom {
			x.searchFrom = resume
		}
		return File{}, false
	}
	idx += x.searchFrom

	file := File{
		Path:     x.path,
		Language: LanguageFor(x.path),
		Content:  trimBlockContent(x.pending[:idx]),
	}
	x.state = stateScanning
	x.path = ""
	x.pending = x.pending[idx+len(CloseMarker):]
	x.searchFrom = 0
	return file, true
}

func (x *Extractor) reset() {
	x.state = stateScanning
	x.path = ""
	x.pending = ""
	x.searchFrom = 0
}

// undecidedSuffix keeps the longest tail of s that could still grow into OpenMarker.
func undecidedSuffix(s string) string {
	longest := len(OpenMarker) - 1
	if len(s) < longest {
		longest = len(s)
	}
	for n := longest; n > 0; n-- {
		if s[len(s)-n:] == OpenMarker[:n] {
			return s[len(s)-n:]
		}
	}
	return ""
}

// trimBlockContent drops exactly one leading and one trailing line break.
func trimBlockContent(content string) string {
	switch {
	case strings.HasPrefix(content, "\r\n"):
		content = content[2:]
	case strings.HasPrefix(content, "\n"):
		content = content[1:]
	}
	switch {
	case strings.HasSuffix(content, "\r\n"):
		content = content[:len(content)-2]
	case strings.HasSuffix(content, "\n"):
		content = content[:len(content)-1]
	}
	return content
}
