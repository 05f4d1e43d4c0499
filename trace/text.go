package trace

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
)

// TextSink writes one line of space separated key=value pairs per record
// and per event.  Round lines start with the fixed keys
//
//	run round state active subsets samples max total verdict
//
// followed by S[subset]= tokens at Quiet and above and F[index]= tokens at
// All.  Event lines start with event=.
type TextSink struct {
	mu sync.Mutex
	w  io.Writer
	c  io.Closer
	v  Verbosity
}

func NewText(w io.Writer, v Verbosity) *TextSink {
	return &TextSink{w: w, v: v}
}

// OpenText appends to the file at path, creating it if needed.
func OpenText(path string, v Verbosity) (*TextSink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return &TextSink{w: f, c: f, v: v}, nil
}

func (t *TextSink) Round(r Record) error {
	var b strings.Builder
	fmt.Fprintf(&b, "run=%s round=%d state=%s active=%d subsets=%d samples=%d max=%s total=%s verdict=%s",
		r.Run, r.Round, r.State, r.Active, r.Subsets, r.Samples, ftoa(r.Max), ftoas(r.Total), r.Verdict)
	if t.v >= Quiet {
		for _, e := range r.Indices {
			fmt.Fprintf(&b, " S[%s]=%s", e.Key, ftoas(e.Values))
		}
	}
	if t.v >= All {
		for _, e := range r.Frontier {
			fmt.Fprintf(&b, " F[%s]=%s", e.Key, ftoas(e.Values))
		}
	}
	return t.writeln(b.String())
}

func (t *TextSink) Event(e Event) error {
	line := fmt.Sprintf("event=%s run=%s round=%d state=%s subset=%s degrees=%s detail=%s",
		e.Kind, e.Run, e.Round, e.State, strconv.Quote(e.Subset), itoas(e.Degrees), strconv.Quote(e.Detail))
	return t.writeln(line)
}

func (t *TextSink) writeln(line string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := io.WriteString(t.w, line+"\n")
	return err
}

func (t *TextSink) Close() error {
	if t.c == nil {
		return nil
	}
	return t.c.Close()
}

func ftoa(v float64) string { return strconv.FormatFloat(v, 'g', 12, 64) }

func ftoas(vs []float64) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = ftoa(v)
	}
	return strings.Join(parts, ",")
}

func itoas(vs []int) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

// Fields parses a trace line back into its key=value pairs.  Quoted values
// are unquoted.
func Fields(line string) (map[string]string, error) {
	fields := map[string]string{}
	s := bufio.NewScanner(strings.NewReader(line))
	s.Split(scanTokens)
	for s.Scan() {
		tok := s.Text()
		key, val, ok := strings.Cut(tok, "=")
		if !ok {
			return nil, fmt.Errorf("trace: malformed token %q", tok)
		}
		if strings.HasPrefix(val, `"`) {
			uq, err := strconv.Unquote(val)
			if err != nil {
				return nil, fmt.Errorf("trace: malformed value in %q: %w", tok, err)
			}
			val = uq
		}
		fields[key] = val
	}
	return fields, s.Err()
}

// scanTokens splits on spaces outside double quotes.
func scanTokens(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := 0
	for start < len(data) && data[start] == ' ' {
		start++
	}
	quoted, escaped := false, false
	for i := start; i < len(data); i++ {
		c := data[i]
		switch {
		case escaped:
			escaped = false
		case quoted && c == '\\':
			escaped = true
		case c == '"':
			quoted = !quoted
		case c == ' ' && !quoted:
			return i + 1, data[start:i], nil
		}
	}
	if atEOF && len(data) > start {
		return len(data), data[start:], nil
	}
	return start, nil, nil
}
