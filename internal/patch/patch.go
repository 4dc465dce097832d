// patch.go applies validated line-wise substitutions to file content. Changes
// are applied from the highest line number to the lowest so earlier indices
// stay valid when a substitution inserts lines, and every line keeps its
// original terminator so CRLF files survive a round trip.
package patch

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

var (
	ErrNoChanges      = errors.New("no changes to apply")
	ErrLineOutOfRange = errors.New("line number out of range")
	ErrDuplicateLine  = errors.New("duplicate line number in changes")
	ErrNulByte        = errors.New("fixed line contains NUL byte")
	ErrInvalidUTF8    = errors.New("fixed line is not valid UTF-8")
)

// Change is a single line substitution. LineNumber is 1-based against the
// original file. A FixedLine containing embedded newlines replaces the target
// line with several lines; an empty FixedLine leaves an empty line in place.
type Change struct {
	LineNumber  int    `json:"line_number"`
	FixedLine   string `json:"fixed_line"`
	Explanation string `json:"explanation,omitempty"`
}

// Validate checks a change set against the target content: at least one
// change, every line number within the file, no duplicate targets, and every
// replacement NUL-free and UTF-8 clean.
func Validate(content string, changes []Change) error {
	if len(changes) == 0 {
		return ErrNoChanges
	}
	total := len(splitLines(content))
	seen := make(map[int]struct{}, len(changes))
	for _, ch := range changes {
		if ch.LineNumber < 1 || ch.LineNumber > total {
			return fmt.Errorf("%w: line %d of %d", ErrLineOutOfRange, ch.LineNumber, total)
		}
		if _, dup := seen[ch.LineNumber]; dup {
			return fmt.Errorf("%w: line %d", ErrDuplicateLine, ch.LineNumber)
		}
		seen[ch.LineNumber] = struct{}{}
		if strings.Contains(ch.FixedLine, "\x00") {
			return fmt.Errorf("%w: line %d", ErrNulByte, ch.LineNumber)
		}
		if !utf8.ValidString(ch.FixedLine) {
			return fmt.Errorf("%w: line %d", ErrInvalidUTF8, ch.LineNumber)
		}
	}
	return nil
}

// Apply validates the change set and produces the patched content.
func Apply(content string, changes []Change) (string, error) {
	if err := Validate(content, changes); err != nil {
		return "", err
	}
	lines := splitLines(content)

	ordered := make([]Change, len(changes))
	copy(ordered, changes)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].LineNumber > ordered[j].LineNumber
	})

	for _, ch := range ordered {
		idx := ch.LineNumber - 1
		term := lines[idx].eol
		sep := term
		if sep == "" {
			sep = dominantEOL(lines)
		}
		segs := strings.Split(ch.FixedLine, "\n")
		repl := make([]line, len(segs))
		for i, s := range segs {
			eol := sep
			if i == len(segs)-1 {
				eol = term
			}
			repl[i] = line{text: strings.TrimSuffix(s, "\r"), eol: eol}
		}
		lines = append(lines[:idx], append(repl, lines[idx+1:]...)...)
	}

	var sb strings.Builder
	for _, ln := range lines {
		sb.WriteString(ln.text)
		sb.WriteString(ln.eol)
	}
	return sb.String(), nil
}

// line is one content line with the terminator it carried in the original
// file. The last line of a file without a trailing newline has an empty eol.
type line struct {
	text string
	eol  string
}

func splitLines(content string) []line {
	if content == "" {
		return nil
	}
	var lines []line
	start := 0
	for i := 0; i < len(content); i++ {
		if content[i] != '\n' {
			continue
		}
		text := content[start:i]
		eol := "\n"
		if strings.HasSuffix(text, "\r") {
			text = text[:len(text)-1]
			eol = "\r\n"
		}
		lines = append(lines, line{text: text, eol: eol})
		start = i + 1
	}
	if start < len(content) {
		lines = append(lines, line{text: content[start:]})
	}
	return lines
}

// dominantEOL picks the terminator for lines inserted at the end of a file,
// where the replaced line had none.
func dominantEOL(lines []line) string {
	crlf, lf := 0, 0
	for _, ln := range lines {
		switch ln.eol {
		case "\r\n":
			crlf++
		case "\n":
			lf++
		}
	}
	if crlf > lf {
		return "\r\n"
	}
	return "\n"
}
