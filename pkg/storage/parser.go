package storage

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// whitespace matches what NakedMud strips when measuring indentation.
const whitespace = " \t\n\r\v\f"

// FormatError reports malformed storage data.
type FormatError struct {
	Line int
	Msg  string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("storage: line %d: %s", e.Line, e.Msg)
}

// parser reads storage-set text one line at a time with a single line of
// lookahead.
type parser struct {
	reader *bufio.Reader
	line   int // lines consumed so far
	peeked string
	has    bool
	eof    bool
}

// Load reads a storage set from a file.
func Load(path string) (*Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	defer f.Close()

	s, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Parse reads a storage set from r. Either the whole input parses or an
// error is returned.
func Parse(r io.Reader) (*Set, error) {
	p := &parser{reader: bufio.NewReaderSize(r, 64*1024)}
	s := NewSet()
	if err := p.readSet(0, s); err != nil {
		return nil, err
	}

	// Anything after the top-level terminator other than blank lines means
	// the indentation went wrong somewhere.
	for {
		line, ok, err := p.peekLine()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if strings.TrimSpace(line) != "" {
			return nil, &FormatError{Line: p.line + 1, Msg: "unexpected indentation or data after end of set"}
		}
		p.nextLine()
	}
	return s, nil
}

func (p *parser) peekLine() (string, bool, error) {
	if p.has {
		return p.peeked, true, nil
	}
	if p.eof {
		return "", false, nil
	}
	line, err := p.reader.ReadString('\n')
	if err == io.EOF {
		p.eof = true
		if line == "" {
			return "", false, nil
		}
	} else if err != nil {
		return "", false, fmt.Errorf("storage: read error at line %d: %w", p.line+1, err)
	}
	p.peeked, p.has = line, true
	return line, true, nil
}

func (p *parser) nextLine() string {
	p.has = false
	p.line++
	return p.peeked
}

func indentOf(line string) int {
	return len(line) - len(strings.TrimLeft(line, whitespace))
}

func (p *parser) readSet(indent int, to *Set) error {
	var order []string
	longest := 0

	for {
		line, ok, err := p.peekLine()
		if err != nil {
			return err
		}
		if !ok || indentOf(line) != indent {
			break
		}
		text := strings.TrimSuffix(p.nextLine()[indent:], "\n")
		if text == string(SetMarker) {
			break
		}

		colon := strings.IndexByte(text, ':')
		if colon < 0 {
			return &FormatError{Line: p.line, Msg: fmt.Sprintf("bad set data %q", text)}
		}
		rawKey, data := text[:colon], text[colon+1:]
		longest = max(longest, len(strings.TrimLeft(rawKey, whitespace)))
		key := strings.Trim(rawKey, whitespace)

		// An editor may strip the trailing space of an empty typeless value.
		marker, value := byte(TypelessMarker), ""
		if data != "" {
			marker, value = data[0], data[1:]
		}
		order = append(order, key)

		switch marker {
		case TypelessMarker:
			to.data[key] = value
		case ListMarker:
			l := NewList()
			l.parent = to
			if err := p.readList(indent+IndentRate, l); err != nil {
				return err
			}
			to.data[key] = l
		case StringMarker:
			str, err := p.readString(indent + IndentRate)
			if err != nil {
				return err
			}
			to.data[key] = str
		case SetMarker:
			child := newChildSet(to)
			if err := p.readSet(indent+IndentRate, child); err != nil {
				return err
			}
			to.data[key] = child
		default:
			return &FormatError{Line: p.line, Msg: fmt.Sprintf("unknown type marker %q for key %q", marker, key)}
		}
	}

	to.order = order
	to.longest = longest
	return nil
}

func (p *parser) readList(indent int, to *List) error {
	for {
		line, ok, err := p.peekLine()
		if err != nil {
			return err
		}
		if !ok || indentOf(line) != indent {
			return nil
		}
		s := newChildSet(to)
		if err := p.readSet(indent, s); err != nil {
			return err
		}
		to.sets = append(to.sets, s)
	}
}

func (p *parser) readString(indent int) (string, error) {
	var sb strings.Builder
	for {
		line, ok, err := p.peekLine()
		if err != nil {
			return "", err
		}
		if !ok || indentOf(line) < indent {
			break
		}
		sb.WriteString(p.nextLine()[indent:])
	}
	return strings.TrimSuffix(sb.String(), "\n"), nil
}
