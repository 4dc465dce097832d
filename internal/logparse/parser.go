// parser.go turns a raw run log into an ordered sequence of error blocks. The
// parser is line oriented and stateless across calls: matchers run in a fixed
// order, contiguous lines for the same (file, line) collapse into one block,
// and stack traces attach their deepest frame to the error that raised them.
// ANSI escapes and leading timestamps are stripped before matching, so
// interleaved stdout/stderr noise at worst closes a block early.
package logparse

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	maxBlocks            = 256
	maxContinuationLines = 8
	maxMessageBytes      = 4096

	levelError   = "error"
	levelWarning = "warning"
)

var (
	reANSI         = regexp.MustCompile(`\x1b(?:\[[0-9;]*[A-Za-z]|\][^\x07]*\x07)`)
	reISOStamp     = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:?\d{2})?\s+`)
	reBracketStamp = regexp.MustCompile(`^\[\d{4}-\d{2}-\d{2}[ T]\d{2}:\d{2}:\d{2}[^\]]*\]\s*`)

	// Step boundaries: archive section markers emitted by the log download
	// path, GitHub Actions group annotations, GitLab section markers.
	reArchiveMarker = regexp.MustCompile(`^===== (.+?) =====$`)
	reGroupStart    = regexp.MustCompile(`^##\[group\](.*)$`)
	reSectionStart  = regexp.MustCompile(`^section_start:\d+:([A-Za-z0-9_.-]+)`)
	reStepOrdinal   = regexp.MustCompile(`^\d+_`)

	reAnnotation    = regexp.MustCompile(`^##\[(error|warning)\](.*)$`)
	reBracketLevel  = regexp.MustCompile(`^\[(ERROR|WARNING)\]\s+(\S.*)$`)
	reTSC           = regexp.MustCompile(`^\s*([\w\-./\\]+)\((\d+),(\d+)\): (error|warning) TS\d+: .+$`)
	rePyFile        = regexp.MustCompile(`^\s*File "([^"]+)", line (\d+)`)
	reNodeFrame     = regexp.MustCompile(`^\s*at \S.*?\(?([\w\-./\\]+\.(?:m?[jt]sx?|cjs)):(\d+)(?::\d+)?\)?$`)
	reRustArrow     = regexp.MustCompile(`^\s*-->\s*([\w\-./\\]+):(\d+)`)
	rePytestFail    = regexp.MustCompile(`^FAILED ([\w\-./\\]+)::\S+`)
	reGoFail        = regexp.MustCompile(`^\s*--- FAIL: \S+`)
	reGoPkgFail     = regexp.MustCompile(`^FAIL\s+\S+`)
	reFileLine      = regexp.MustCompile(`^\s*([\w\-./\\]+\.[A-Za-z][A-Za-z0-9]*):(\d+)(?::(\d+))?:?\s*(.*)$`)
	reFileLineAny   = regexp.MustCompile(`([\w\-./\\]+\.[A-Za-z][A-Za-z0-9]*)[:(]\[?(\d+)`)
	reException     = regexp.MustCompile(`^(?:[A-Z][\w.]*(?:Error|Exception):|Exception in thread ).+$`)
	reNpmErr        = regexp.MustCompile(`^npm ERR!`)
	reModuleMiss    = regexp.MustCompile(`(?i)^.{0,40}\b(?:module not found|cannot find module|no module named|could not resolve)\b`)
	reNotAssignable = regexp.MustCompile(`(?i)^type '.+' is not assignable`)
	reToolError     = regexp.MustCompile(`^[\w./\\-]{1,32}: (?:fatal )?error: \S.*$`)
	reGenericErr    = regexp.MustCompile(`(?i)^(?:error(?:\[\w+\])?|fatal(?: error)?|panic):\s*\S.*$`)
	reStylish       = regexp.MustCompile(`^\s*(\d+):(\d+)\s+(error|warning)\s+(\S.*)$`)
	reBareFile      = regexp.MustCompile(`^/?[\w\-./\\]+\.(?:m?[jt]sx?|cjs|py|go|rb|java|cs|php|vue|svelte)$`)
)

type matchKind int

const (
	matchNone matchKind = iota
	matchLocated      // file and line known, may open a block
	matchLocationOnly // location without a message yet (python File lines)
	matchBare         // error text without a location
	matchFrame        // stack frame, only adopts into or extends an open block
)

type lineMatch struct {
	kind    matchKind
	file    string
	line    int
	level   string
	message string
}

// Parse extracts error blocks from a raw log. Output is deterministic for
// identical input and capped at a fixed block count.
func Parse(logText string) []ErrorBlock {
	var (
		blocks      []ErrorBlock
		cur         *builder
		step        string
		pendingFile string
	)
	flush := func() {
		if cur == nil {
			return
		}
		if b := cur.finish(); b != nil && len(blocks) < maxBlocks {
			blocks = append(blocks, *b)
		}
		cur = nil
	}

	for _, raw := range strings.Split(logText, "\n") {
		if len(blocks) >= maxBlocks {
			break
		}
		line := normalizeLine(raw)
		if name, ok := stepMarker(line); ok {
			flush()
			step = name
			pendingFile = ""
			continue
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			flush()
			pendingFile = ""
			continue
		}
		indented := line[0] == ' ' || line[0] == '\t'

		var m lineMatch
		if pendingFile != "" {
			// eslint-style report: a bare path line followed by
			// "line:col  level  message" rows. The rows indent under
			// their path line, so they bypass the frame handling below.
			if sm := reStylish.FindStringSubmatch(line); sm != nil {
				n, _ := strconv.Atoi(sm[1])
				m = lineMatch{kind: matchLocated, file: pendingFile, line: n, level: strings.ToLower(sm[3]), message: trimmed}
				indented = false
			}
		}
		if m.kind == matchNone && !indented && reBareFile.MatchString(trimmed) {
			flush()
			pendingFile = trimmed
			continue
		}
		if m.kind == matchNone {
			m = matchLine(line, trimmed)
		}

		switch m.kind {
		case matchLocated:
			if cur != nil && cur.blk.File == m.file && cur.blk.Line == m.line {
				// contiguous repeat of the same location: the first
				// message keeps the head, distinct repeats trail it
				if m.message != "" && !strings.HasPrefix(cur.blk.Message, m.message) {
					cur.appendLine(m.message)
				}
				continue
			}
			if indented {
				if cur == nil {
					// stray frame (goroutine dumps etc), no block to serve
					continue
				}
				if cur.blk.File == "" {
					cur.adopt(m)
					continue
				}
				if cur.blk.File != m.file {
					cur.appendLine(m.message)
					continue
				}
			}
			flush()
			cur = newBuilder(step, m)
		case matchLocationOnly:
			flush()
			cur = &builder{blk: ErrorBlock{Step: step, File: m.file, Line: m.line}, awaiting: true}
		case matchBare:
			if cur != nil {
				if cur.awaiting {
					cur.complete(m)
					continue
				}
				if cur.blk.File == "" {
					cur.appendLine(m.message)
					continue
				}
				flush()
			}
			cur = newBuilder(step, m)
		case matchFrame:
			if cur == nil {
				continue
			}
			if cur.blk.File == "" {
				cur.adopt(m)
			} else {
				cur.appendLine(m.message)
			}
		default:
			if cur != nil && indented {
				if cur.awaiting {
					// source echo inside a traceback, keep waiting
					continue
				}
				cur.appendLine(trimmed)
				continue
			}
			flush()
			pendingFile = ""
		}
	}
	flush()
	return blocks
}

func matchLine(line, trimmed string) lineMatch {
	if m := reAnnotation.FindStringSubmatch(trimmed); m != nil {
		return annotated(strings.ToLower(m[1]), m[2])
	}
	if m := reBracketLevel.FindStringSubmatch(trimmed); m != nil {
		return annotated(strings.ToLower(m[1]), m[2])
	}
	if m := reTSC.FindStringSubmatch(line); m != nil {
		n, _ := strconv.Atoi(m[2])
		return lineMatch{kind: matchLocated, file: m[1], line: n, level: m[4], message: trimmed}
	}
	if m := rePyFile.FindStringSubmatch(line); m != nil {
		n, _ := strconv.Atoi(m[2])
		return lineMatch{kind: matchLocationOnly, file: m[1], line: n}
	}
	if m := reNodeFrame.FindStringSubmatch(line); m != nil {
		n, _ := strconv.Atoi(m[2])
		return lineMatch{kind: matchFrame, file: m[1], line: n, message: trimmed}
	}
	if m := reRustArrow.FindStringSubmatch(line); m != nil {
		n, _ := strconv.Atoi(m[2])
		return lineMatch{kind: matchFrame, file: m[1], line: n, message: trimmed}
	}
	if m := rePytestFail.FindStringSubmatch(line); m != nil {
		return lineMatch{kind: matchLocated, file: m[1], message: trimmed}
	}
	if reGoFail.MatchString(line) || reGoPkgFail.MatchString(line) {
		return lineMatch{kind: matchBare, message: trimmed}
	}
	if m := reFileLine.FindStringSubmatch(line); m != nil {
		n, _ := strconv.Atoi(m[2])
		level := ""
		if strings.HasPrefix(strings.ToLower(m[4]), levelWarning) {
			level = levelWarning
		}
		return lineMatch{kind: matchLocated, file: m[1], line: n, level: level, message: trimmed}
	}
	if reException.MatchString(trimmed) || reNpmErr.MatchString(trimmed) ||
		reModuleMiss.MatchString(trimmed) || reNotAssignable.MatchString(trimmed) ||
		reToolError.MatchString(trimmed) || reGenericErr.MatchString(trimmed) {
		return lineMatch{kind: matchBare, message: trimmed}
	}
	return lineMatch{}
}

// annotated handles explicit error/warning annotations, recovering an embedded
// file:line location when the message carries one.
func annotated(level, inner string) lineMatch {
	inner = strings.TrimSpace(inner)
	if inner == "" {
		return lineMatch{}
	}
	if m := reFileLineAny.FindStringSubmatch(inner); m != nil {
		n, _ := strconv.Atoi(m[2])
		return lineMatch{kind: matchLocated, file: m[1], line: n, level: level, message: inner}
	}
	return lineMatch{kind: matchBare, level: level, message: inner}
}

func normalizeLine(raw string) string {
	line := strings.ReplaceAll(raw, "\r", "")
	if strings.Contains(line, "\x1b") {
		line = reANSI.ReplaceAllString(line, "")
	}
	line = reISOStamp.ReplaceAllString(line, "")
	return reBracketStamp.ReplaceAllString(line, "")
}

func stepMarker(line string) (string, bool) {
	if m := reArchiveMarker.FindStringSubmatch(line); m != nil {
		return normalizeArchiveStep(m[1]), true
	}
	if m := reGroupStart.FindStringSubmatch(line); m != nil {
		return strings.TrimSpace(m[1]), true
	}
	if m := reSectionStart.FindStringSubmatch(line); m != nil {
		return m[1], true
	}
	return "", false
}

// normalizeArchiveStep turns "1_Run tests.txt" into "Run tests" and
// "job: compile (id 81)" into "compile".
func normalizeArchiveStep(inner string) string {
	inner = strings.TrimSpace(inner)
	if strings.HasPrefix(inner, "job: ") {
		rest := strings.TrimPrefix(inner, "job: ")
		if i := strings.LastIndex(rest, " (id "); i > 0 {
			rest = rest[:i]
		}
		return rest
	}
	inner = strings.TrimSuffix(inner, ".txt")
	return reStepOrdinal.ReplaceAllString(inner, "")
}

type builder struct {
	blk      ErrorBlock
	level    string
	awaiting bool
	extra    int
}

func newBuilder(step string, m lineMatch) *builder {
	b := &builder{level: m.level}
	b.blk = ErrorBlock{Step: step, File: m.file, Line: m.line}
	b.setMessage(m.message)
	return b
}

func (b *builder) setMessage(text string) {
	if len(text) > maxMessageBytes {
		text = safeCut(text, maxMessageBytes)
	}
	b.blk.Message = text
}

// adopt attaches a location to a block opened by an unlocated error line, e.g.
// a test failure header or a panic followed by its deepest frame.
func (b *builder) adopt(m lineMatch) {
	b.blk.File = m.file
	b.blk.Line = m.line
	b.awaiting = false
	if b.level == "" {
		b.level = m.level
	}
	b.appendLine(m.message)
}

// complete fills in the message of a location-only block, e.g. the exception
// summary line that ends a python traceback.
func (b *builder) complete(m lineMatch) {
	b.awaiting = false
	if m.level != "" {
		b.level = m.level
	}
	b.setMessage(m.message)
}

func (b *builder) appendLine(text string) {
	if b.extra >= maxContinuationLines {
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if b.blk.Message == "" {
		b.setMessage(text)
		b.extra++
		return
	}
	if len(b.blk.Message)+len(text)+1 > maxMessageBytes {
		return
	}
	b.blk.Message += "\n" + text
	b.extra++
}

func (b *builder) finish() *ErrorBlock {
	if strings.TrimSpace(b.blk.Message) == "" {
		return nil
	}
	b.blk.ErrorType, b.blk.Severity = classify(b.blk.File, b.blk.Message, b.level)
	return &b.blk
}
