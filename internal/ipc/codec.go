package ipc

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// MaxFrameSize bounds a single message body.
const MaxFrameSize = 256 << 20

const contentLengthHeader = "Content-Length"

// Encoder writes LSP-style framed messages.
type Encoder struct {
	w io.Writer
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes m as a single frame: a Content-Length header, an empty
// line and the JSON body.
func (e *Encoder) Encode(m Message) error {
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s: %d\r\n\r\n", contentLengthHeader, len(body))
	buf.Write(body)

	// one write per frame, so concurrent writers on the underlying
	// pipe never interleave partial frames
	_, err = e.w.Write(buf.Bytes())
	return err
}

// Decoder reads frames written by an Encoder.
type Decoder struct {
	r *bufio.Reader
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Decode reads the next frame into m.
func (d *Decoder) Decode(m *Message) error {
	length, err := d.readHeaders()
	if err != nil {
		return err
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(d.r, body); err != nil {
		if err == io.ErrUnexpectedEOF {
			return fmt.Errorf("unexpected EOF, expected %d bytes: %w", length, err)
		}
		return err
	}

	if err := json.Unmarshal(body, m); err != nil {
		return fmt.Errorf("failed to decode message: %w", err)
	}

	return nil
}

func (d *Decoder) readHeaders() (int, error) {
	length := -1

	for {
		line, err := d.r.ReadString('\n')
		if err != nil {
			return 0, err
		}

		line = strings.TrimRight(line, "\r\n")

		// empty line terminates the header block
		if line == "" {
			if length < 0 {
				continue
			}
			return length, nil
		}

		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return 0, fmt.Errorf("malformed header %q", line)
		}

		if !strings.EqualFold(strings.TrimSpace(name), contentLengthHeader) {
			continue
		}

		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid %s value: %q", contentLengthHeader, value)
		}
		if n > MaxFrameSize {
			return 0, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
		}

		length = n
	}
}
