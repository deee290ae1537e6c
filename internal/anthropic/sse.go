package anthropic

import (
	"bufio"
	"io"
	"strings"
)

type sseFrame struct {
	Event string
	Data  string
}

// sseDecoder splits a text/event-stream body into frames. Comment lines and
// fields other than event/data are skipped.
type sseDecoder struct {
	r *bufio.Reader
}

func newSSEDecoder(r io.Reader) *sseDecoder {
	return &sseDecoder{r: bufio.NewReader(r)}
}

// Next returns the next frame that carries data, or io.EOF when the body ends.
func (d *sseDecoder) Next() (sseFrame, error) {
	var event string
	var data []string
	for {
		line, err := d.r.ReadString('\n')
		if err != nil && err != io.EOF {
			return sseFrame{}, err
		}
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			if len(data) > 0 {
				return sseFrame{Event: event, Data: strings.Join(data, "\n")}, nil
			}
			event = ""
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}

		if err == io.EOF {
			if len(data) > 0 {
				return sseFrame{Event: event, Data: strings.Join(data, "\n")}, nil
			}
			return sseFrame{}, io.EOF
		}
	}
}
