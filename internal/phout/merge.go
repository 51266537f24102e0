// Package phout merges phout result logs produced by several tanks into one
// log ordered by request start time.
//
// A phout line is tab-separated. Lines are ordered by col0 - col2/1000,
// where col0 is the timestamp and col2 the request duration column, the same
// key the tank's own aggregator uses. Each input must already be ordered by
// that key.
package phout

import (
	"bufio"
	"container/heap"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

const (
	readBufferSize  = 300 * 1024
	writeBufferSize = 1024 * 1024
	maxLineSize     = 4 * 1024 * 1024
)

// ErrMalformedLine is wrapped by errors for lines whose timestamp columns
// cannot be parsed.
var ErrMalformedLine = errors.New("malformed phout line")

// Source is one named input of a merge.
type Source struct {
	Name   string
	Reader io.Reader
}

// StartTime returns the merge key of a phout line.
func StartTime(line string) (float64, error) {
	fields := strings.SplitN(line, "\t", 4)
	if len(fields) < 3 {
		return 0, fmt.Errorf("%w: expected at least 3 columns, got %d", ErrMalformedLine, len(fields))
	}
	ts, err := strconv.ParseFloat(strings.TrimSpace(fields[0]), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: timestamp: %v", ErrMalformedLine, err)
	}
	rt, err := strconv.ParseFloat(strings.TrimSpace(fields[2]), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: duration: %v", ErrMalformedLine, err)
	}
	return ts - rt/1000, nil
}

type cursor struct {
	name    string
	scanner *bufio.Scanner
	line    string
	key     float64
	lineNo  int
	index   int
}

// advance loads the next non-empty line. It reports false at end of input.
func (c *cursor) advance() (bool, error) {
	for c.scanner.Scan() {
		c.lineNo++
		line := c.scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		key, err := StartTime(line)
		if err != nil {
			return false, fmt.Errorf("%s:%d: %w", c.name, c.lineNo, err)
		}
		c.line = line
		c.key = key
		return true, nil
	}
	if err := c.scanner.Err(); err != nil {
		return false, fmt.Errorf("read %s: %w", c.name, err)
	}
	return false, nil
}

type cursorHeap []*cursor

func (h cursorHeap) Len() int { return len(h) }

// Ties keep input order so merging is deterministic.
func (h cursorHeap) Less(i, j int) bool {
	if h[i].key == h[j].key {
		return h[i].index < h[j].index
	}
	return h[i].key < h[j].key
}

func (h cursorHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *cursorHeap) Push(x interface{}) { *h = append(*h, x.(*cursor)) }

func (h *cursorHeap) Pop() interface{} {
	old := *h
	n := len(old)
	c := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return c
}

// Merge writes the lines of all sources to w ordered by request start time
// and returns the number of lines written. Empty lines are dropped.
func Merge(w io.Writer, sources ...Source) (int, error) {
	h := make(cursorHeap, 0, len(sources))
	for i, src := range sources {
		scanner := bufio.NewScanner(bufio.NewReaderSize(src.Reader, readBufferSize))
		scanner.Buffer(make([]byte, 64*1024), maxLineSize)
		c := &cursor{name: src.Name, scanner: scanner, index: i}
		ok, err := c.advance()
		if err != nil {
			return 0, err
		}
		if ok {
			h = append(h, c)
		}
	}
	heap.Init(&h)

	out := bufio.NewWriterSize(w, writeBufferSize)
	written := 0
	for h.Len() > 0 {
		c := h[0]
		if _, err := out.WriteString(c.line); err != nil {
			return written, fmt.Errorf("write merged phout: %w", err)
		}
		if err := out.WriteByte('\n'); err != nil {
			return written, fmt.Errorf("write merged phout: %w", err)
		}
		written++

		ok, err := c.advance()
		if err != nil {
			return written, err
		}
		if ok {
			heap.Fix(&h, 0)
		} else {
			heap.Pop(&h)
		}
	}
	if err := out.Flush(); err != nil {
		return written, fmt.Errorf("write merged phout: %w", err)
	}
	return written, nil
}

// MergeFiles merges the phout files at inputs into output.
func MergeFiles(output string, inputs ...string) (int, error) {
	if len(inputs) == 0 {
		return 0, errors.New("no phout files to merge")
	}
	sources := make([]Source, 0, len(inputs))
	for _, path := range inputs {
		f, err := os.Open(path)
		if err != nil {
			closeSources(sources)
			return 0, fmt.Errorf("open phout: %w", err)
		}
		sources = append(sources, Source{Name: path, Reader: f})
	}
	defer closeSources(sources)

	out, err := os.Create(output)
	if err != nil {
		return 0, fmt.Errorf("create merged phout: %w", err)
	}
	n, err := Merge(out, sources...)
	if cerr := out.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close merged phout: %w", cerr)
	}
	return n, err
}

func closeSources(sources []Source) {
	for _, src := range sources {
		if c, ok := src.Reader.(io.Closer); ok {
			c.Close()
		}
	}
}
