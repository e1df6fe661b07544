package trace

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ErrMalformed is returned when a trace line cannot be parsed.
var ErrMalformed = errors.New("malformed trace record")

// A Provider yields trace records in order. Next returns io.EOF once the
// trace is exhausted. Providers are single-pass and cannot be rewound.
type Provider interface {
	Next() (Record, error)
}

// SliceProvider yields the records of a slice it does not own.
type SliceProvider struct {
	records []Record
	pos     int
}

// NewSliceProvider creates a provider over records. The slice is not copied
// and must not be modified while it is being read.
func NewSliceProvider(records []Record) *SliceProvider {
	return &SliceProvider{records: records}
}

// Next returns the next record.
func (p *SliceProvider) Next() (Record, error) {
	if p.pos >= len(p.records) {
		return Record{}, io.EOF
	}

	r := p.records[p.pos]
	p.pos++
	return r, nil
}

// Reader parses a text trace lazily. Each line holds a decimal operation
// code and a hexadecimal address, e.g. "2 0x408ed4". Blank lines and text
// after '#' are ignored.
type Reader struct {
	scanner *bufio.Scanner
	line    int
}

// NewReader creates a Reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{scanner: bufio.NewScanner(r)}
}

// Next returns the next record in the stream.
func (r *Reader) Next() (Record, error) {
	for r.scanner.Scan() {
		r.line++

		text := r.scanner.Text()
		if i := strings.IndexByte(text, '#'); i >= 0 {
			text = text[:i]
		}

		fields := strings.Fields(text)
		if len(fields) == 0 {
			continue
		}

		return r.parse(fields)
	}

	if err := r.scanner.Err(); err != nil {
		return Record{}, fmt.Errorf("failed to read trace: %w", err)
	}

	return Record{}, io.EOF
}

func (r *Reader) parse(fields []string) (Record, error) {
	if len(fields) != 2 {
		return Record{}, fmt.Errorf("%w: line %d: expected 2 fields, got %d",
			ErrMalformed, r.line, len(fields))
	}

	op, err := strconv.ParseInt(fields[0], 10, 32)
	if err != nil {
		return Record{}, fmt.Errorf("%w: line %d: bad operation %q",
			ErrMalformed, r.line, fields[0])
	}

	addrText := strings.TrimPrefix(strings.ToLower(fields[1]), "0x")
	addr, err := strconv.ParseUint(addrText, 16, 32)
	if err != nil {
		return Record{}, fmt.Errorf("%w: line %d: bad address %q",
			ErrMalformed, r.line, fields[1])
	}

	return Record{Op: Op(op), Addr: uint32(addr)}, nil
}

// Collect drains a provider into a slice.
func Collect(p Provider) ([]Record, error) {
	var records []Record
	for {
		r, err := p.Next()
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return records, err
		}
		records = append(records, r)
	}
}

// WriteText writes records in the format accepted by Reader.
func WriteText(w io.Writer, records []Record) error {
	bw := bufio.NewWriter(w)
	for _, r := range records {
		if _, err := fmt.Fprintf(bw, "%d 0x%x\n", int(r.Op), r.Addr); err != nil {
			return err
		}
	}
	return bw.Flush()
}
