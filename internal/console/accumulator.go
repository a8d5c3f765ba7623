package console

import (
	"errors"
	"strings"

	"github.com/yuin/gopher-lua/parse"
)

// Accumulator gathers input lines until they form a syntactically
// complete chunk. A construct opened on one line (a function body, an
// open table) keeps the accumulator pending until a later line closes
// it. Not safe for concurrent use; the host serializes access.
type Accumulator struct {
	lines []string
}

// AddLine appends line to the buffer and reports whether the buffered
// text now forms a complete chunk. When it does, the joined text is
// returned and the buffer is cleared.
func (a *Accumulator) AddLine(line string) (string, bool) {
	a.lines = append(a.lines, line)
	text := strings.Join(a.lines, "\n")
	if incompleteChunk(text) {
		return "", false
	}
	a.lines = a.lines[:0]
	return text, true
}

// Pending reports whether the accumulator holds lines awaiting
// completion.
func (a *Accumulator) Pending() bool {
	return len(a.lines) > 0
}

// Clear discards any buffered lines.
func (a *Accumulator) Clear() {
	a.lines = a.lines[:0]
}

// incompleteChunk reports whether text is a prefix of a valid chunk
// cut off before its end. The lexer marks errors raised at end of
// input with the parse.EOF line sentinel; any other parse error means
// the text is malformed rather than unfinished, and the chunk is
// treated as complete so execution surfaces the real error.
func incompleteChunk(text string) (incomplete bool) {
	defer func() {
		if recover() != nil {
			incomplete = false
		}
	}()
	_, err := parse.Parse(strings.NewReader(text), "console")
	if err == nil {
		return false
	}
	var perr *parse.Error
	if errors.As(err, &perr) {
		return perr.Pos.Line == parse.EOF
	}
	return false
}
