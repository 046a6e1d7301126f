package frame

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
)

const (
	HeaderAcceptVersion = "accept-version"
	HeaderHost          = "host"
	HeaderLogin         = "login"
	HeaderPasscode      = "passcode"
	HeaderHeartBeat     = "heart-beat"
	HeaderVersion       = "version"
	HeaderSession       = "session"
	HeaderServer        = "server"
	HeaderUserName      = "user-name"
	HeaderDestination   = "destination"
	HeaderID            = "id"
	HeaderAck           = "ack"
	HeaderSubscription  = "subscription"
	HeaderMessageID     = "message-id"
	HeaderReceipt       = "receipt"
	HeaderReceiptID     = "receipt-id"
	HeaderMessage       = "message"
	HeaderContentType   = "content-type"
	HeaderContentLength = "content-length"
	HeaderTransaction   = "transaction"
)

type Field struct {
	Key   string
	Value string
}

// Header is an ordered list of header fields. A key may repeat;
// only the first occurrence is significant.
type Header []Field

func (h *Header) Add(key, value string) {
	*h = append(*h, Field{Key: key, Value: value})
}

// Set replaces every occurrence of key with a single field.
func (h *Header) Set(key, value string) {
	for i, f := range *h {
		if f.Key == key {
			(*h)[i].Value = value
			h.delFrom(key, i+1)
			return
		}
	}
	h.Add(key, value)
}

func (h *Header) Del(key string) {
	h.delFrom(key, 0)
}

func (h *Header) delFrom(key string, start int) {
	out := (*h)[:start]
	for _, f := range (*h)[start:] {
		if f.Key != key {
			out = append(out, f)
		}
	}
	*h = out
}

func (h Header) Get(key string) string {
	v, _ := h.Lookup(key)
	return v
}

func (h Header) Lookup(key string) (string, bool) {
	for _, f := range h {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

func (h Header) Contains(key string) bool {
	_, ok := h.Lookup(key)
	return ok
}

func (h Header) Clone() Header {
	if h == nil {
		return nil
	}
	return append(Header(nil), h...)
}

// Map returns the significant value of every key.
func (h Header) Map() map[string]string {
	m := make(map[string]string, len(h))
	for i := len(h) - 1; i >= 0; i-- {
		m[h[i].Key] = h[i].Value
	}
	return m
}

// Decode copies header values into the struct pointed to by v.
// Fields are matched by their `stomp` tag and converted weakly,
// so a "content-length" header decodes into an int field.
func (h Header) Decode(v any) error {
	d, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "stomp",
		WeaklyTypedInput: true,
		Result:           v,
	})
	if err != nil {
		return err
	}
	return d.Decode(h.Map())
}

func (h Header) String() string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range h {
		if i != 0 {
			b.WriteByte(' ')
		}
		b.WriteString(f.Key)
		b.WriteByte(':')
		b.WriteString(f.Value)
	}
	b.WriteByte(']')
	return b.String()
}

var escaper = strings.NewReplacer(
	"\\", "\\\\",
	"\r", "\\r",
	"\n", "\\n",
	":", "\\c",
)

func escapeValue(s string) string {
	if !strings.ContainsAny(s, "\\\r\n:") {
		return s
	}
	return escaper.Replace(s)
}

func unescapeValue(s string) (string, error) {
	if strings.IndexByte(s, '\\') < 0 {
		return s, nil
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		i++
		if i == len(s) {
			return "", ErrInvalidEscape
		}
		switch s[i] {
		case '\\':
			b.WriteByte('\\')
		case 'r':
			b.WriteByte('\r')
		case 'n':
			b.WriteByte('\n')
		case 'c':
			b.WriteByte(':')
		default:
			return "", ErrInvalidEscape
		}
	}
	return b.String(), nil
}

// FormatHeartbeat builds a heart-beat header value. Durations are truncated to milliseconds.
func FormatHeartbeat(outgoing, incoming time.Duration) string {
	return strconv.FormatInt(outgoing.Milliseconds(), 10) + "," + strconv.FormatInt(incoming.Milliseconds(), 10)
}

// ParseHeartbeat parses a heart-beat header value.
// An empty value means heart-beating is disabled in both directions.
func ParseHeartbeat(v string) (outgoing, incoming time.Duration, err error) {
	if v == "" {
		return 0, 0, nil
	}
	x, y, ok := strings.Cut(v, ",")
	if !ok {
		return 0, 0, fmt.Errorf("frame: invalid heart-beat: %q", v)
	}
	cx, err := strconv.ParseUint(strings.TrimSpace(x), 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("frame: invalid heart-beat: %q", v)
	}
	cy, err := strconv.ParseUint(strings.TrimSpace(y), 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("frame: invalid heart-beat: %q", v)
	}
	return time.Duration(cx) * time.Millisecond, time.Duration(cy) * time.Millisecond, nil
}

// NegotiateHeartbeat returns the effective intervals from the client's point of view.
//
// A direction is disabled when either side sent 0 for it. Otherwise the larger
// of the two values wins.
func NegotiateHeartbeat(clientOut, clientIn, serverOut, serverIn time.Duration) (send, receive time.Duration) {
	if clientOut > 0 && serverIn > 0 {
		send = max(clientOut, serverIn)
	}
	if clientIn > 0 && serverOut > 0 {
		receive = max(clientIn, serverOut)
	}
	return
}
