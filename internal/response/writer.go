package response

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"

	"github.com/nhdewitt/tinyhttpd/internal/headers"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

type writerState int

const (
	StateWritingStatusLine writerState = iota
	StateWritingHeaders
	StateWritingBody
	StateDone
)

// Writer emits a response in wire order. Calls made out of order fail
// without writing anything.
type Writer struct {
	writer io.Writer
	state  writerState
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{
		writer: w,
		state:  StateWritingStatusLine,
	}
}

func (w *Writer) WriteStatusLine(version string, statusCode StatusCode) error {
	if w.state != StateWritingStatusLine {
		return fmt.Errorf("writer state out-of-order")
	}

	line := version + " " + strconv.Itoa(int(statusCode)) + " " + statusCode.Reason() + "\r\n"
	if _, err := io.WriteString(w.writer, line); err != nil {
		return fmt.Errorf("error writing status line: %w", err)
	}

	w.state = StateWritingHeaders
	return nil
}

// WriteHeaders writes every header followed by the blank line. Names are
// title-cased and sorted so the output is deterministic.
func (w *Writer) WriteHeaders(h headers.Headers) error {
	if w.state != StateWritingHeaders {
		return fmt.Errorf("writer state out-of-order")
	}

	caser := cases.Title(language.Und, cases.NoLower)
	for _, k := range slices.Sorted(maps.Keys(h)) {
		line := caser.String(k) + ": " + h[k] + "\r\n"
		if _, err := io.WriteString(w.writer, line); err != nil {
			return fmt.Errorf("error writing headers: %w", err)
		}
	}
	if _, err := io.WriteString(w.writer, "\r\n"); err != nil {
		return fmt.Errorf("error writing headers: %w", err)
	}

	w.state = StateWritingBody
	return nil
}

func (w *Writer) WriteBody(p []byte) (int, error) {
	if w.state != StateWritingBody {
		return 0, fmt.Errorf("writer state out-of-order")
	}

	w.state = StateDone
	return w.writer.Write(p)
}
