// Copyright © 2024-2025 the wavemap authors
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

// Package align runs the alignment pipeline: a reader parsing upstream
// mapping records, a pool of workers computing wavefront alignments, and
// per-stream writers.
package align

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// StrandFwd and StrandRev are the two mapping strands.
const (
	StrandFwd byte = '+'
	StrandRev byte = '-'
)

// DefaultIdentity is the estimated identity percentage assumed when a
// mapping row carries no usable id:f tag. Missing estimates should not
// default to a low value.
const DefaultIdentity = 85.0

// MappingRecord is one parsed row of the upstream mapping file.
type MappingRecord struct {
	QueryID     string
	QStart      int64
	QEnd        int64
	Strand      byte
	RefID       string
	RStart      int64
	REnd        int64
	EstIdentity float64

	// rank of this mapping among those of the same query, in input order
	Rank int
}

// ParseMappingRecord parses one whitespace-separated mapping row into rec.
// Rows with fewer than 9 fields are an error. The id:f:<float> tag is
// expected in field 13; when absent or non-numeric, DefaultIdentity is
// substituted.
func ParseMappingRecord(line string, rec *MappingRecord) error {
	tokens := strings.Fields(line)
	if len(tokens) < 9 {
		return errors.Errorf("mapping row with %d fields, at least 9 expected: %s", len(tokens), line)
	}

	var err error
	rec.QueryID = tokens[0]
	if rec.QStart, err = strconv.ParseInt(tokens[2], 10, 64); err != nil {
		return errors.Wrapf(err, "query start of mapping row: %s", line)
	}
	if rec.QEnd, err = strconv.ParseInt(tokens[3], 10, 64); err != nil {
		return errors.Wrapf(err, "query end of mapping row: %s", line)
	}
	if tokens[4] == "-" {
		rec.Strand = StrandRev
	} else {
		rec.Strand = StrandFwd
	}
	rec.RefID = tokens[5]
	if rec.RStart, err = strconv.ParseInt(tokens[7], 10, 64); err != nil {
		return errors.Wrapf(err, "target start of mapping row: %s", line)
	}
	if rec.REnd, err = strconv.ParseInt(tokens[8], 10, 64); err != nil {
		return errors.Wrapf(err, "target end of mapping row: %s", line)
	}

	rec.EstIdentity = DefaultIdentity
	if len(tokens) >= 13 {
		tag := tokens[12]
		if i := strings.LastIndexByte(tag, ':'); i >= 0 {
			if id, err := strconv.ParseFloat(tag[i+1:], 64); err == nil {
				rec.EstIdentity = id
			}
		}
	}

	rec.Rank = 0
	return nil
}
