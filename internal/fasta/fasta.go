// Package fasta reads FASTA alignments just far enough to validate ClipKIT
// output: record counts, identifiers, and alignment width. It is not a
// general sequence library.
package fasta

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/edsrzf/mmap-go"
)

// ErrEmpty is returned for files with no FASTA records.
var ErrEmpty = errors.New("fasta: no records")

// Record is one sequence entry. ID is the first whitespace-delimited field
// of the header line.
type Record struct {
	ID  string
	Seq []byte
}

// Read parses all records from a FASTA file. Sequence data is copied out of
// the underlying mapping, so records stay valid after return.
func Read(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrEmpty, path)
	}

	// Alignments can be large; map the file instead of slurping it.
	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	defer func() { _ = data.Unmap() }()

	recs, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return recs, nil
}

func parse(data []byte) ([]Record, error) {
	var recs []Record
	var cur *Record

	for lineNo := 1; len(data) > 0; lineNo++ {
		line := data
		if i := bytes.IndexByte(data, '\n'); i >= 0 {
			line = data[:i]
			data = data[i+1:]
		} else {
			data = nil
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		if line[0] == '>' {
			header := strings.TrimSpace(string(line[1:]))
			id := header
			if i := strings.IndexAny(header, " \t"); i >= 0 {
				id = header[:i]
			}
			if id == "" {
				return nil, fmt.Errorf("line %d: record without identifier", lineNo)
			}
			recs = append(recs, Record{ID: id})
			cur = &recs[len(recs)-1]
			continue
		}

		if cur == nil {
			return nil, fmt.Errorf("line %d: sequence data before first header", lineNo)
		}
		cur.Seq = append(cur.Seq, line...)
	}

	if len(recs) == 0 {
		return nil, ErrEmpty
	}
	return recs, nil
}

// ReadAligned reads records and enforces that they form an alignment: at
// least one record and all sequences of equal length. Returns the records
// and the alignment width.
func ReadAligned(path string) ([]Record, int, error) {
	recs, err := Read(path)
	if err != nil {
		return nil, 0, err
	}
	width := len(recs[0].Seq)
	for _, r := range recs {
		if len(r.Seq) != width {
			return nil, 0, fmt.Errorf("%s: sequence %s has length %d, expected %d (not an alignment)",
				path, r.ID, len(r.Seq), width)
		}
	}
	return recs, width, nil
}

// IDs returns record identifiers in file order.
func IDs(recs []Record) []string {
	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.ID
	}
	return ids
}
