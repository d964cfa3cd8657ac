package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"unicode/utf8"

	"github.com/zhouzirui/habitat-kiosk/backend/internal/model/report"
)

// Encode renders e as exactly one UTF-8 line terminated by '\n'.
func Encode(e Event) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteString(string(e.Kind))
	buf.WriteByte(Separator)

	payload, _ := PayloadOf(e.Kind)
	switch payload {
	case JSONPayload:
		if err := encodeReport(&buf, e.Report); err != nil {
			return nil, err
		}
	default:
		buf.WriteString(e.Label)
	}

	buf.WriteByte(Terminator)
	return buf.Bytes(), nil
}

// encodeReport writes the report as a JSON object in report order, using the
// ", " and ": " separators the presentation client has always received.
func encodeReport(buf *bytes.Buffer, r *report.Report) error {
	var err error
	first := true
	buf.WriteByte('{')
	r.Each(func(username, emotion string) {
		if err != nil {
			return
		}
		if !first {
			buf.WriteString(", ")
		}
		first = false
		if err = writeJSONString(buf, username); err != nil {
			return
		}
		buf.WriteString(": ")
		err = writeJSONString(buf, emotion)
	})
	if err != nil {
		return fmt.Errorf("encode teacher report: %w", err)
	}
	buf.WriteByte('}')
	return nil
}

func writeJSONString(buf *bytes.Buffer, value string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(value); err != nil {
		return err
	}
	// json.Encoder appends a newline.
	buf.Write(bytes.TrimSuffix(tmp.Bytes(), []byte{'\n'}))
	return nil
}

// Decode parses one wire line. A single trailing '\n' is accepted.
func Decode(line []byte) (Event, error) {
	line = bytes.TrimSuffix(line, []byte{Terminator})
	if !utf8.Valid(line) {
		return Event{}, fmt.Errorf("%w: not valid utf-8", ErrMalformedLine)
	}
	if bytes.IndexByte(line, Terminator) >= 0 {
		return Event{}, fmt.Errorf("%w: embedded line break", ErrMalformedLine)
	}

	idx := bytes.IndexByte(line, Separator)
	if idx < 0 {
		return Event{}, fmt.Errorf("%w: missing kind separator", ErrMalformedLine)
	}
	kind := Kind(line[:idx])
	body := line[idx+1:]

	payload, ok := PayloadOf(kind)
	if !ok {
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownKind, string(kind))
	}

	var ev Event
	switch payload {
	case JSONPayload:
		r, err := decodeReport(body)
		if err != nil {
			return Event{}, err
		}
		ev = TeacherReport(r)
	default:
		ev = Event{Kind: kind, Label: string(body)}
	}

	if err := ev.Validate(); err != nil {
		return Event{}, err
	}
	return ev, nil
}

func decodeReport(body []byte) (*report.Report, error) {
	dec := json.NewDecoder(bytes.NewReader(body))

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: teacher report: %v", ErrMalformedLine, err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("%w: teacher report is not a json object", ErrMalformedLine)
	}

	r := report.New()
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: teacher report key: %v", ErrMalformedLine, err)
		}
		username, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("%w: teacher report key %v", ErrMalformedLine, keyTok)
		}
		var emotion string
		if err := dec.Decode(&emotion); err != nil {
			return nil, fmt.Errorf("%w: teacher report value for %q: %v", ErrMalformedLine, username, err)
		}
		r.Set(username, emotion)
	}

	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("%w: teacher report: %v", ErrMalformedLine, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after teacher report", ErrMalformedLine)
	}
	return r, nil
}

// Encoder frames events onto a stream. Send is safe for concurrent use, but
// the session only ever sends from its owning goroutine.
type Encoder struct {
	mu sync.Mutex
	w  io.Writer
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Send encodes e and writes it with a single Write call. Write failures are
// reported as ErrTransport and never retried.
func (enc *Encoder) Send(e Event) error {
	line, err := Encode(e)
	if err != nil {
		return err
	}

	enc.mu.Lock()
	defer enc.mu.Unlock()

	n, err := enc.w.Write(line)
	if err != nil {
		return fmt.Errorf("%w: send %s: %v", ErrTransport, e.Kind, err)
	}
	if n != len(line) {
		return fmt.Errorf("%w: send %s: short write %d/%d", ErrTransport, e.Kind, n, len(line))
	}
	return nil
}

// Decoder reads events line by line, used by the debugging client.
type Decoder struct {
	r *bufio.Reader
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Next returns the next event. io.EOF is returned once the peer closes the
// stream on a line boundary.
func (d *Decoder) Next() (Event, error) {
	line, err := d.r.ReadBytes(Terminator)
	if err != nil {
		if errors.Is(err, io.EOF) && len(line) > 0 {
			return Event{}, fmt.Errorf("%w: truncated line %q", ErrMalformedLine, line)
		}
		return Event{}, err
	}
	return Decode(line)
}
