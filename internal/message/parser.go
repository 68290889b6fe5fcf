package message

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/emiago/sipgo/sip"
)

// Parse decodes one message. Headers end at the first empty line; whatever
// follows is the body, trimmed to Content-Length when that header is valid.
func Parse(data []byte) (*Message, error) {
	head, body, hasBody := cutHead(string(data))

	lines := strings.Split(head, "\n")
	for i := range lines {
		lines[i] = strings.TrimSuffix(lines[i], "\r")
	}

	if strings.TrimSpace(lines[0]) == "" {
		return nil, fmt.Errorf("%w: empty start-line", ErrMalformed)
	}

	msg := &Message{Raw: append([]byte(nil), data...)}
	if err := msg.parseStartLine(lines[0]); err != nil {
		return nil, err
	}

	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok || name == "" {
			return nil, fmt.Errorf("%w: header line %q", ErrMalformed, line)
		}
		msg.Headers = append(msg.Headers, Header{Name: name, Value: strings.TrimSpace(value)})
	}

	if hasBody && body != "" {
		msg.Body = []byte(body)
		if v, ok := msg.Header("Content-Length"); ok {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 && n < len(msg.Body) {
				msg.Body = msg.Body[:n]
			}
		}
	}

	return msg, nil
}

func cutHead(text string) (head, body string, found bool) {
	if i := strings.Index(text, "\r\n\r\n"); i >= 0 {
		return text[:i], text[i+4:], true
	}
	if i := strings.Index(text, "\n\n"); i >= 0 {
		return text[:i], text[i+2:], true
	}
	return strings.TrimRight(text, "\r\n"), "", false
}

func (m *Message) parseStartLine(line string) error {
	fields := strings.Fields(line)

	if strings.HasPrefix(fields[0], "SIP/") {
		// The reason phrase is kept as written, inner spacing included.
		parts := strings.SplitN(strings.TrimLeft(line, " \t"), " ", 3)
		if len(parts) < 2 {
			return fmt.Errorf("%w: status line %q", ErrMalformed, line)
		}
		code, err := strconv.Atoi(parts[1])
		if err != nil || len(parts[1]) != 3 {
			return fmt.Errorf("%w: status code %q", ErrMalformed, parts[1])
		}
		m.Response = &StatusLine{Version: parts[0], Code: code}
		if len(parts) == 3 {
			m.Response.Reason = parts[2]
		}
		return nil
	}

	if !isMethod(fields[0]) {
		return fmt.Errorf("%w: start-line %q", ErrMalformed, line)
	}

	switch {
	case len(fields) == 3 && strings.HasPrefix(fields[2], "SIP/"):
		m.Request = &RequestLine{
			Method:  sip.RequestMethod(fields[0]),
			Target:  fields[1],
			Version: fields[2],
		}
	case len(fields) == 2 && strings.HasPrefix(fields[1], "SIP/"):
		// Empty Request-URI, as written by a request built without a target.
		m.Request = &RequestLine{
			Method:  sip.RequestMethod(fields[0]),
			Version: fields[1],
		}
	default:
		return fmt.Errorf("%w: request line %q", ErrMalformed, line)
	}
	return nil
}

func isMethod(token string) bool {
	if token == "" {
		return false
	}
	for _, r := range token {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
