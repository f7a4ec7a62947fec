package ami

import (
	"bufio"
	"io"
	"strings"
)

// Parser reads an AMI byte stream and emits messages.
type Parser struct {
	scanner *bufio.Scanner
}

func NewParser(r io.Reader) *Parser {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 4096), 1<<20)
	return &Parser{scanner: s}
}

// Next returns the next message. It returns io.EOF at a clean end of stream
// and the read error otherwise. A trailing message without its blank line is
// still returned before the error.
func (p *Parser) Next() (Event, error) {
	var headers []header

	for p.scanner.Scan() {
		line := strings.TrimRight(p.scanner.Text(), "\r")

		if line == "" {
			if len(headers) > 0 {
				return Event{headers: headers}, nil
			}
			continue
		}

		idx := strings.Index(line, ": ")
		if idx < 0 {
			// Banner ("Asterisk Call Manager/x.y") and other bare lines.
			if len(headers) == 0 {
				continue
			}
			if strings.HasSuffix(line, ":") {
				headers = append(headers, header{Key: strings.TrimSuffix(line, ":")})
				continue
			}
			headers = append(headers, header{Value: line})
			continue
		}
		headers = append(headers, header{Key: line[:idx], Value: line[idx+2:]})
	}

	if len(headers) > 0 {
		return Event{headers: headers}, nil
	}
	if err := p.scanner.Err(); err != nil {
		return Event{}, err
	}
	return Event{}, io.EOF
}

// ParseBytes parses every message in data.
func ParseBytes(data []byte) []Event {
	p := NewParser(strings.NewReader(string(data)))
	var events []Event
	for {
		evt, err := p.Next()
		if err != nil {
			return events
		}
		events = append(events, evt)
	}
}
