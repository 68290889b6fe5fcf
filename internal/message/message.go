package message

import (
	"errors"
	"strconv"
	"strings"

	"github.com/emiago/sipgo/sip"
)

const (
	Version = "SIP/2.0"

	crlf = "\r\n"
)

const (
	StatusRinging          = 180
	StatusOK               = 200
	StatusNotFound         = 404
	StatusCallDoesNotExist = 481
	StatusBusyHere         = 486
	StatusServerError      = 500
	StatusNotImplemented   = 501
)

var reasons = map[int]string{
	StatusRinging:          "Ringing",
	StatusOK:               "OK",
	StatusNotFound:         "Not Found",
	StatusCallDoesNotExist: "Call/Transaction Does Not Exist",
	StatusBusyHere:         "Busy Here",
	StatusServerError:      "Server Error",
	StatusNotImplemented:   "Not Implemented",
}

// Reason returns the reason phrase used for code, or an empty string.
func Reason(code int) string {
	return reasons[code]
}

var (
	ErrMalformed  = errors.New("malformed message")
	ErrBadAddress = errors.New("malformed address header")
)

type RequestLine struct {
	Method  sip.RequestMethod
	Target  string
	Version string
}

type StatusLine struct {
	Version string
	Code    int
	Reason  string
}

type Header struct {
	Name  string
	Value string
}

// Message is one signaling unit. Exactly one of Request and Response is set.
// Headers keep wire order; lookups return the first match.
type Message struct {
	Request  *RequestLine
	Response *StatusLine
	Headers  []Header
	Body     []byte

	// Raw holds the bytes the message was parsed from. Forwarding sends Raw
	// so relayed messages stay byte-for-byte intact.
	Raw []byte
}

func (m *Message) IsRequest() bool {
	return m.Request != nil
}

func (m *Message) IsResponse() bool {
	return m.Response != nil
}

// Method returns the request method, or an empty method for responses.
func (m *Message) Method() sip.RequestMethod {
	if m.Request == nil {
		return ""
	}
	return m.Request.Method
}

// Code returns the status code, or 0 for requests.
func (m *Message) Code() int {
	if m.Response == nil {
		return 0
	}
	return m.Response.Code
}

// Header returns the value of the first header named exactly name.
func (m *Message) Header(name string) (string, bool) {
	for _, h := range m.Headers {
		if h.Name == name {
			return h.Value, true
		}
	}
	return "", false
}

// Values returns every value of headers named name in wire order.
func (m *Message) Values(name string) []string {
	var out []string
	for _, h := range m.Headers {
		if h.Name == name {
			out = append(out, h.Value)
		}
	}
	return out
}

// Add appends a header. Values are trimmed the same way Parse trims them.
func (m *Message) Add(name, value string) *Message {
	m.Headers = append(m.Headers, Header{Name: name, Value: strings.TrimSpace(value)})
	return m
}

// Set replaces the first header named name, appending it when absent.
func (m *Message) Set(name, value string) *Message {
	for i := range m.Headers {
		if m.Headers[i].Name == name {
			m.Headers[i].Value = strings.TrimSpace(value)
			return m
		}
	}
	return m.Add(name, value)
}

func (m *Message) CallID() string {
	v, _ := m.Header("Call-ID")
	return v
}

// CSeqMethod returns the method part of the CSeq header ("1 INVITE" -> INVITE).
func (m *Message) CSeqMethod() sip.RequestMethod {
	v, ok := m.Header("CSeq")
	if !ok {
		return ""
	}
	fields := strings.Fields(v)
	if len(fields) != 2 {
		return ""
	}
	return sip.RequestMethod(fields[1])
}

// CSeqNumber returns the sequence number part of the CSeq header.
func (m *Message) CSeqNumber() (uint32, bool) {
	v, ok := m.Header("CSeq")
	if !ok {
		return 0, false
	}
	fields := strings.Fields(v)
	if len(fields) == 0 {
		return 0, false
	}
	n, err := strconv.ParseUint(fields[0], 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

// StartLine renders the first line without the terminator.
func (m *Message) StartLine() string {
	switch {
	case m.Request != nil:
		version := m.Request.Version
		if version == "" {
			version = Version
		}
		return string(m.Request.Method) + " " + m.Request.Target + " " + version
	case m.Response != nil:
		version := m.Response.Version
		if version == "" {
			version = Version
		}
		return version + " " + strconv.Itoa(m.Response.Code) + " " + m.Response.Reason
	}
	return ""
}

// String serializes the message. Content-Length is always written last and
// always matches the body, whatever the header list says.
func (m *Message) String() string {
	var b strings.Builder
	b.WriteString(m.StartLine())
	b.WriteString(crlf)
	for _, h := range m.Headers {
		if h.Name == "Content-Length" {
			continue
		}
		b.WriteString(h.Name)
		b.WriteString(": ")
		b.WriteString(h.Value)
		b.WriteString(crlf)
	}
	b.WriteString("Content-Length: ")
	b.WriteString(strconv.Itoa(len(m.Body)))
	b.WriteString(crlf)
	b.WriteString(crlf)
	b.Write(m.Body)
	return b.String()
}

func (m *Message) Bytes() []byte {
	return []byte(m.String())
}

// Wire returns Raw for parsed messages and the serialized form otherwise.
func (m *Message) Wire() []byte {
	if len(m.Raw) > 0 {
		return m.Raw
	}
	return m.Bytes()
}

// Summary is the start-line, used for logging.
func (m *Message) Summary() string {
	return m.StartLine()
}
