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

// Package seqstore provides random access to an indexed FASTA file for a
// fixed number of workers. The underlying readers are not safe for
// concurrent use, so the store opens one independent handle per worker;
// handle i must be used by worker i only.
package seqstore

import (
	"fmt"
	"io"
	"os"

	"github.com/biogo/hts/fai"
	"github.com/pkg/errors"
)

// FaiExt is the file extension of FASTA index files.
var FaiExt = ".fai"

var canonicalBase [256]byte

func init() {
	for i := range canonicalBase {
		canonicalBase[i] = 'N'
	}
	for _, b := range []byte("ACGTN") {
		canonicalBase[b] = b
		canonicalBase[b|0x20] = b
	}
}

type handle struct {
	fh *os.File
	f  *fai.File
}

// Store is a set of independent random-access handles over one indexed
// FASTA file.
type Store struct {
	fasta   string
	idx     fai.Index
	handles []*handle
}

// New opens fasta and its .fai index with n independent handles.
func New(fasta string, n int) (*Store, error) {
	if n < 1 {
		n = 1
	}

	fhIdx, err := os.Open(fasta + FaiExt)
	if err != nil {
		return nil, errors.Wrap(err, "open FASTA index")
	}
	idx, err := fai.ReadFrom(fhIdx)
	fhIdx.Close()
	if err != nil {
		return nil, errors.Wrap(err, fasta+FaiExt)
	}

	s := &Store{
		fasta:   fasta,
		idx:     idx,
		handles: make([]*handle, 0, n),
	}
	for i := 0; i < n; i++ {
		fh, err := os.Open(fasta)
		if err != nil {
			s.Close()
			return nil, errors.Wrap(err, "open FASTA")
		}
		s.handles = append(s.handles, &handle{fh: fh, f: fai.NewFile(fh, idx)})
	}
	return s, nil
}

// SeqLen returns the length of a named sequence.
func (s *Store) SeqLen(name string) (int64, bool) {
	rec, ok := s.idx[name]
	if !ok {
		return 0, false
	}
	return int64(rec.Length), true
}

// Fetch returns the bases of [start, end) of a named sequence using the
// worker's own handle. The returned buffer is owned by the caller, has
// exactly end-start bytes, and is upper-cased with all non-ACGTN bytes
// replaced by N.
func (s *Store) Fetch(tid int, name string, start, end int64) ([]byte, error) {
	if tid < 0 || tid >= len(s.handles) {
		return nil, fmt.Errorf("seqstore: handle index %d out of range [0, %d)", tid, len(s.handles))
	}
	if end < start {
		return nil, fmt.Errorf("seqstore: invalid range %d-%d of %s", start, end, name)
	}
	if end == start {
		return []byte{}, nil
	}

	sr, err := s.handles[tid].f.SeqRange(name, int(start), int(end))
	if err != nil {
		return nil, errors.Wrapf(err, "fetch %s:%d-%d", name, start, end)
	}

	buf := make([]byte, end-start)
	if _, err = io.ReadFull(sr, buf); err != nil {
		return nil, errors.Wrapf(err, "fetch %s:%d-%d", name, start, end)
	}

	for i, b := range buf {
		buf[i] = canonicalBase[b]
	}
	return buf, nil
}

// Close releases all handles.
func (s *Store) Close() error {
	var err error
	for _, h := range s.handles {
		if h == nil {
			continue
		}
		if e := h.fh.Close(); e != nil {
			err = e
		}
	}
	s.handles = s.handles[:0]
	return err
}
