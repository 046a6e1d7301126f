package frame

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
)

type Command string

const (
	// Client commands
	CommandConnect     Command = "CONNECT"
	CommandStomp       Command = "STOMP"
	CommandSend        Command = "SEND"
	CommandSubscribe   Command = "SUBSCRIBE"
	CommandUnsubscribe Command = "UNSUBSCRIBE"
	CommandAck         Command = "ACK"
	CommandNack        Command = "NACK"
	CommandBegin       Command = "BEGIN"
	CommandCommit      Command = "COMMIT"
	CommandAbort       Command = "ABORT"
	CommandDisconnect  Command = "DISCONNECT"

	// Server commands
	CommandConnected Command = "CONNECTED"
	CommandMessage   Command = "MESSAGE"
	CommandReceipt   Command = "RECEIPT"
	CommandError     Command = "ERROR"
)

var commands = map[Command]struct{}{
	CommandConnect:     {},
	CommandStomp:       {},
	CommandSend:        {},
	CommandSubscribe:   {},
	CommandUnsubscribe: {},
	CommandAck:         {},
	CommandNack:        {},
	CommandBegin:       {},
	CommandCommit:      {},
	CommandAbort:       {},
	CommandDisconnect:  {},
	CommandConnected:   {},
	CommandMessage:     {},
	CommandReceipt:     {},
	CommandError:       {},
}

func (c Command) Valid() bool {
	_, ok := commands[c]
	return ok
}

// CONNECT and CONNECTED frames carry raw header values for
// compatibility with STOMP 1.0 peers.
func (c Command) escapesHeaders() bool {
	return c != CommandConnect && c != CommandConnected && c != CommandStomp
}

var (
	ErrInvalidCommand       = fmt.Errorf("frame: invalid command")
	ErrInvalidHeader        = fmt.Errorf("frame: invalid header")
	ErrInvalidContentLength = fmt.Errorf("frame: invalid content-length")
	ErrInvalidEscape        = fmt.Errorf("frame: invalid escape sequence")
	ErrMissingNull          = fmt.Errorf("frame: body is not terminated with NULL")
	ErrFrameTooLarge        = fmt.Errorf("frame: frame exceeds the size limit")
)

// EOL is the heart-beat sent over an idle connection.
var EOL = []byte{'\n'}

type Frame struct {
	Command Command
	Header  Header
	Body    []byte
}

// New creates a frame with the given header key/value pairs.
// An odd trailing key is ignored.
func New(command Command, kv ...string) *Frame {
	f := &Frame{Command: command}
	for i := 0; i+1 < len(kv); i += 2 {
		f.Header.Add(kv[i], kv[i+1])
	}
	return f
}

func (f *Frame) Encode(w io.Writer) error {
	if !f.Command.Valid() {
		return ErrInvalidCommand
	}

	bw := bufio.NewWriter(w)
	bw.WriteString(string(f.Command))
	bw.WriteByte('\n')

	escape := f.Command.escapesHeaders()
	for _, field := range f.Header {
		if escape {
			bw.WriteString(escapeValue(field.Key))
			bw.WriteByte(':')
			bw.WriteString(escapeValue(field.Value))
		} else {
			bw.WriteString(field.Key)
			bw.WriteByte(':')
			bw.WriteString(field.Value)
		}
		bw.WriteByte('\n')
	}
	if len(f.Body) > 0 && !f.Header.Contains(HeaderContentLength) {
		bw.WriteString(HeaderContentLength)
		bw.WriteByte(':')
		bw.WriteString(strconv.Itoa(len(f.Body)))
		bw.WriteByte('\n')
	}
	bw.WriteByte('\n')
	bw.Write(f.Body)
	bw.WriteByte(0)
	return bw.Flush()
}

func (f *Frame) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	err := f.Encode(&buf)
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (f *Frame) Clone() *Frame {
	c := &Frame{
		Command: f.Command,
		Header:  f.Header.Clone(),
	}
	if f.Body != nil {
		c.Body = append([]byte(nil), f.Body...)
	}
	return c
}

func (f *Frame) String() string {
	return fmt.Sprintf("%s %v (%d bytes)", f.Command, f.Header, len(f.Body))
}

// Reader reads consecutive frames from a byte stream.
type Reader struct {
	lr *limitedReader

	// Frames larger than this, headers and body included, are rejected
	// before they are read in full. 0 means no limit.
	MaxFrameSize int
}

func NewReader(r io.Reader) *Reader {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &Reader{lr: &limitedReader{r: br}}
}

// Read returns the next frame. A nil frame with a nil error is a heart-beat.
//
// io.EOF is only returned when the stream ends between frames.
func (r *Reader) Read() (*Frame, error) {
	r.lr.limit = r.MaxFrameSize
	r.lr.reset()

	line, err := r.readLine()
	if err != nil {
		return nil, err
	}
	if len(line) == 0 {
		return nil, nil
	}

	f := &Frame{Command: Command(line)}
	if !f.Command.Valid() {
		return nil, ErrInvalidCommand
	}
	unescape := f.Command.escapesHeaders()

	for {
		line, err := r.readLine()
		if err != nil {
			return nil, unexpectedEOF(err)
		}
		if len(line) == 0 {
			break
		}

		i := bytes.IndexByte(line, ':')
		if i <= 0 {
			return nil, ErrInvalidHeader
		}
		key, value := string(line[:i]), string(line[i+1:])
		if unescape {
			key, err = unescapeValue(key)
			if err != nil {
				return nil, err
			}
			value, err = unescapeValue(value)
			if err != nil {
				return nil, err
			}
		}
		f.Header.Add(key, value)
	}

	if v, ok := f.Header.Lookup(HeaderContentLength); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, ErrInvalidContentLength
		}
		f.Body, err = r.lr.readN(n)
		if err != nil {
			return nil, unexpectedEOF(err)
		}
		b, err := r.lr.readByte()
		if err != nil {
			return nil, unexpectedEOF(err)
		}
		if b != 0 {
			return nil, ErrMissingNull
		}
	} else {
		body, err := r.lr.readDelim(0)
		if err != nil {
			return nil, unexpectedEOF(err)
		}
		body = body[:len(body)-1]
		if len(body) > 0 {
			f.Body = body
		}
	}
	return f, nil
}

func (r *Reader) readLine() ([]byte, error) {
	line, err := r.lr.readDelim('\n')
	if err != nil {
		if err == io.EOF && len(line) > 0 {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	line = line[:len(line)-1]
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	return line, nil
}

// Parse decodes every frame in data. Heart-beats are counted, not returned.
func Parse(data []byte) (frames []*Frame, heartbeats int, err error) {
	r := NewReader(bytes.NewReader(data))
	for {
		f, err := r.Read()
		if err == io.EOF {
			return frames, heartbeats, nil
		} else if err != nil {
			return frames, heartbeats, err
		}
		if f == nil {
			heartbeats++
			continue
		}
		frames = append(frames, f)
	}
}

func unexpectedEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
