// Package partial extracts a single string field out of an incomplete JSON
// document as it streams in.
//
// The answerer streams a JSON object, but clients must only ever see the
// answer_markdown value growing. An Extractor is fed the cumulative buffer
// after every chunk and returns the newly visible part of the field, with
// backslash escapes already decoded. The raw JSON surface never leaks.
package partial

import (
	"regexp"
	"strings"
)

// DefaultField is the answer field streamed to clients.
const DefaultField = "answer_markdown"

// Extractor incrementally decodes one string field from cumulative JSON
// buffers. Not safe for concurrent use; one pipeline owns one Extractor.
type Extractor struct {
	marker  *regexp.Regexp
	emitted int
}

// NewExtractor returns an Extractor for DefaultField.
func NewExtractor() *Extractor {
	return NewFieldExtractor(DefaultField)
}

// NewFieldExtractor returns an Extractor for an arbitrary field name.
func NewFieldExtractor(field string) *Extractor {
	return &Extractor{marker: markerFor(field)}
}

// Feed consumes the cumulative buffer and returns the delta since the last
// call plus the full accumulated value. The accumulated value never shrinks
// for growing buffers.
func (e *Extractor) Feed(buffer string) (delta, accumulated string) {
	accumulated = extract(buffer, e.marker)
	if len(accumulated) > e.emitted {
		delta = accumulated[e.emitted:]
		e.emitted = len(accumulated)
	}
	return delta, accumulated
}

// Extract returns the decoded value of field visible in a partial JSON
// buffer. Missing marker yields "".
func Extract(buffer, field string) string {
	return extract(buffer, markerFor(field))
}

func markerFor(field string) *regexp.Regexp {
	return regexp.MustCompile(`"` + regexp.QuoteMeta(field) + `"\s*:\s*"`)
}

// extract walks characters after the opening quote, honouring backslash
// escapes, and stops at the first unescaped closing quote or at the end of
// the buffer. A dangling backslash at the buffer end is held back until the
// escape completes in a later feed.
func extract(buffer string, marker *regexp.Regexp) string {
	loc := marker.FindStringIndex(buffer)
	if loc == nil {
		return ""
	}

	var out strings.Builder
	for i := loc[1]; i < len(buffer); {
		c := buffer[i]
		switch c {
		case '\\':
			if i+1 >= len(buffer) {
				return out.String()
			}
			switch next := buffer[i+1]; next {
			case 'n':
				out.WriteByte('\n')
			case 't':
				out.WriteByte('\t')
			case '"':
				out.WriteByte('"')
			case '\\':
				out.WriteByte('\\')
			default:
				out.WriteByte(next)
			}
			i += 2
		case '"':
			return out.String()
		default:
			out.WriteByte(c)
			i++
		}
	}
	return out.String()
}
