package erb

import (
	"fmt"
	"strings"
)

type tokenKind int

const (
	tokText tokenKind = iota
	tokStatement
	tokOutput
	tokRawOutput
	tokComment
)

type token struct {
	kind tokenKind
	text string
	line int
	// ltrim and rtrim are the explicit <%- and -%> markers.
	ltrim bool
	rtrim bool
}

// scan splits src into text and tag tokens.
func scan(src string) ([]token, error) {
	var toks []token
	line := 1
	var text strings.Builder
	textLine := 1

	flush := func() {
		if text.Len() > 0 {
			toks = append(toks, token{kind: tokText, text: text.String(), line: textLine})
			text.Reset()
		}
	}

	for len(src) > 0 {
		i := strings.Index(src, "<%")
		if i < 0 {
			if text.Len() == 0 {
				textLine = line
			}
			text.WriteString(src)
			break
		}
		if i > 0 {
			if text.Len() == 0 {
				textLine = line
			}
			text.WriteString(src[:i])
			line += strings.Count(src[:i], "\n")
			src = src[i:]
		}

		if strings.HasPrefix(src, "<%%") {
			if text.Len() == 0 {
				textLine = line
			}
			text.WriteString("<%")
			src = src[3:]
			continue
		}

		flush()
		tagLine := line
		tok := token{line: tagLine}
		body := src[2:]
		switch {
		case strings.HasPrefix(body, "=="):
			tok.kind, body = tokRawOutput, body[2:]
		case strings.HasPrefix(body, "="):
			tok.kind, body = tokOutput, body[1:]
		case strings.HasPrefix(body, "#"):
			tok.kind, body = tokComment, body[1:]
		case strings.HasPrefix(body, "-"):
			tok.kind, tok.ltrim, body = tokStatement, true, body[1:]
		default:
			tok.kind = tokStatement
		}

		end := strings.Index(body, "%>")
		if end < 0 {
			return nil, &ScanError{Line: tagLine, Msg: "unterminated tag"}
		}
		content := body[:end]
		if strings.HasSuffix(content, "-") && tok.kind != tokComment {
			tok.rtrim = true
			content = content[:len(content)-1]
		}
		tok.text = content
		toks = append(toks, tok)

		consumed := len(src) - len(body) + end + 2
		line += strings.Count(src[:consumed], "\n")
		src = src[consumed:]
	}
	flush()
	return toks, nil
}

// ScanError is a malformed tag.
type ScanError struct {
	Line int
	Msg  string
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

// trim removes the whitespace around tags. With lines set, statement and
// comment tags alone on their line lose their indentation and newline.
// Explicit <%- and -%> markers trim regardless. Decisions are taken on the
// untrimmed text before any cut is applied.
func trim(toks []token, lines bool) {
	n := len(toks)
	cutHead := make([]bool, n)
	cutTail := make([]bool, n)

	for i, tok := range toks {
		if tok.kind == tokText {
			continue
		}
		hasPrev := i > 0 && toks[i-1].kind == tokText
		hasNext := i+1 < n && toks[i+1].kind == tokText

		leftOK := i == 0 || (hasPrev && lineStartBlank(toks[i-1].text, i-1 == 0))
		rightOK := i == n-1 || (hasNext && lineEndBlank(toks[i+1].text, i+1 == n-1))

		block := tok.kind == tokStatement || tok.kind == tokComment
		if lines && block && leftOK && rightOK {
			if hasPrev {
				cutTail[i-1] = true
			}
			if hasNext {
				cutHead[i+1] = true
			}
			continue
		}
		if tok.ltrim && leftOK && hasPrev {
			cutTail[i-1] = true
		}
		if tok.rtrim && rightOK && hasNext {
			cutHead[i+1] = true
		}
	}

	for i := range toks {
		if cutTail[i] {
			toks[i].text = strings.TrimRight(toks[i].text, " \t")
		}
		if cutHead[i] {
			toks[i].text = cutNewline(toks[i].text)
		}
	}
}

// lineStartBlank reports whether text ends with a newline followed only by
// blanks. At the start of the source no newline is needed.
func lineStartBlank(text string, first bool) bool {
	i := strings.LastIndexByte(text, '\n')
	if i < 0 && !first {
		return false
	}
	return strings.Trim(text[i+1:], " \t") == ""
}

// lineEndBlank reports whether text starts with blanks up to a newline. At
// the end of the source no newline is needed.
func lineEndBlank(text string, last bool) bool {
	rest := strings.TrimLeft(text, " \t")
	if rest == "" {
		return last
	}
	return strings.HasPrefix(rest, "\n") || strings.HasPrefix(rest, "\r\n")
}

func cutNewline(text string) string {
	rest := strings.TrimLeft(text, " \t")
	switch {
	case strings.HasPrefix(rest, "\r\n"):
		return rest[2:]
	case strings.HasPrefix(rest, "\n"):
		return rest[1:]
	case rest == "":
		return ""
	}
	return text
}
