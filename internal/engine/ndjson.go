package engine

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"github.com/ternarybob/attestor/internal/models"
)

// WriteEvents drains a run's event channel to w as newline-delimited
// JSON, one event per line, flushing after each line so consumers see
// events as they happen. It returns after the channel closes or the
// first write error.
func WriteEvents(w io.Writer, events <-chan models.RunEvent) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	for event := range events {
		if err := enc.Encode(event); err != nil {
			return err
		}
		if err := bw.Flush(); err != nil {
			return err
		}
	}
	return nil
}

// EventReader decodes a newline-delimited JSON event stream. A
// truncated final line (a write cut off mid-event) is tolerated and
// treated as end of stream; a complete line that is not valid JSON is
// an error.
type EventReader struct {
	r *bufio.Reader
}

func NewEventReader(r io.Reader) *EventReader {
	return &EventReader{r: bufio.NewReader(r)}
}

// Next returns the next event, or io.EOF when the stream is exhausted.
func (er *EventReader) Next() (models.RunEvent, error) {
	for {
		line, err := er.r.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				// No trailing newline means the line may be a partial
				// write; discard it.
				return models.RunEvent{}, io.EOF
			}
			return models.RunEvent{}, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var event models.RunEvent
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			return models.RunEvent{}, err
		}
		return event, nil
	}
}

// ReadAll decodes the whole stream into a slice.
func (er *EventReader) ReadAll() ([]models.RunEvent, error) {
	var events []models.RunEvent
	for {
		event, err := er.Next()
		if err == io.EOF {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		events = append(events, event)
	}
}
