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

package sketch

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/twotwotwo/sorts"
)

var le = binary.LittleEndian

// Magic number for checking file format
var Magic = [8]byte{'.', 'w', 'a', 'v', 'e', 'm', 'a', 'p'}

// MainVersion is use for checking compatibility
var MainVersion uint8 = 0

// MinorVersion is less important
var MinorVersion uint8 = 1

// BufferSize is size of reading and writing buffer
var BufferSize = 65536

// ErrInvalidFileFormat means invalid file format.
var ErrInvalidFileFormat = errors.New("sketch index: invalid binary format")

// ErrBrokenFile means the file is not complete.
var ErrBrokenFile = errors.New("sketch index: broken file")

// ErrVersionMismatch means version mismatch between files and program
var ErrVersionMismatch = errors.New("sketch index: version mismatch")

// ParamMismatchError reports the first index parameter disagreeing with the
// caller's current parameters.
type ParamMismatchError struct {
	Field string
	Index uint64
	Given uint64
}

func (e *ParamMismatchError) Error() string {
	return fmt.Sprintf("sketch index: parameter mismatch: %s: index=%d, current=%d",
		e.Field, e.Index, e.Given)
}

const minmerInfoSize = 8 + 8 + 8 + 4 + 1
const intervalPointSize = 8 + 8 + 4 + 1

type uint64s []uint64

func (s uint64s) Len() int           { return len(s) }
func (s uint64s) Less(i, j int) bool { return s[i] < s[j] }
func (s uint64s) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }

// WriteIndex writes the index to file. Layout: magic, version, parameter
// block, minmers block, positions block, frequent-seeds block; all integers
// little-endian, fixed width. Map-keyed blocks are written in ascending
// hash order so the output is deterministic.
func (idx *Index) WriteIndex(file string) error {
	fh, err := os.Create(file)
	if err != nil {
		return err
	}
	w := bufio.NewWriterSize(fh, BufferSize)

	err = binary.Write(w, le, Magic)
	if err != nil {
		return err
	}
	err = binary.Write(w, le, [8]uint8{MainVersion, MinorVersion})
	if err != nil {
		return err
	}

	buf := make([]byte, 32)

	// parameter block
	le.PutUint64(buf[:8], idx.Params.SegLength)
	le.PutUint64(buf[8:16], idx.Params.SketchSize)
	le.PutUint64(buf[16:24], idx.Params.KmerSize)
	if _, err = w.Write(buf[:24]); err != nil {
		return err
	}

	// minmers block
	le.PutUint64(buf[:8], uint64(len(idx.Minmers)))
	if _, err = w.Write(buf[:8]); err != nil {
		return err
	}
	for i := range idx.Minmers {
		mi := &idx.Minmers[i]
		le.PutUint64(buf[:8], mi.Hash)
		le.PutUint64(buf[8:16], uint64(mi.WStart))
		le.PutUint64(buf[16:24], uint64(mi.WEnd))
		le.PutUint32(buf[24:28], mi.SeqID)
		buf[28] = mi.Strand
		if _, err = w.Write(buf[:minmerInfoSize]); err != nil {
			return err
		}
	}

	// positions block
	keys := make([]uint64, 0, len(idx.Positions))
	for h := range idx.Positions {
		keys = append(keys, h)
	}
	sorts.Quicksort(uint64s(keys))

	le.PutUint64(buf[:8], uint64(len(keys)))
	if _, err = w.Write(buf[:8]); err != nil {
		return err
	}
	for _, h := range keys {
		pts := idx.Positions[h]
		le.PutUint64(buf[:8], h)
		le.PutUint64(buf[8:16], uint64(len(pts)))
		if _, err = w.Write(buf[:16]); err != nil {
			return err
		}
		for i := range pts {
			p := &pts[i]
			le.PutUint64(buf[:8], uint64(p.Pos))
			le.PutUint64(buf[8:16], p.Hash)
			le.PutUint32(buf[16:20], p.SeqID)
			buf[20] = p.Side
			if _, err = w.Write(buf[:intervalPointSize]); err != nil {
				return err
			}
		}
	}

	// frequent-seeds block
	freq := make([]uint64, 0, len(idx.FrequentSeeds))
	for h := range idx.FrequentSeeds {
		freq = append(freq, h)
	}
	sorts.Quicksort(uint64s(freq))

	le.PutUint64(buf[:8], uint64(len(freq)))
	if _, err = w.Write(buf[:8]); err != nil {
		return err
	}
	for _, h := range freq {
		le.PutUint64(buf[:8], h)
		if _, err = w.Write(buf[:8]); err != nil {
			return err
		}
	}

	if err = w.Flush(); err != nil {
		return err
	}
	return fh.Close()
}

// ReadIndex loads an index from file and verifies its persisted parameters
// against params. A disagreeing parameter is returned as a
// *ParamMismatchError naming the field.
func ReadIndex(file string, params Params) (*Index, error) {
	fh, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	r := bufio.NewReaderSize(fh, BufferSize)

	buf := make([]byte, 32)

	if _, err = io.ReadFull(r, buf[:8]); err != nil {
		return nil, ErrBrokenFile
	}
	for i := 0; i < 8; i++ {
		if Magic[i] != buf[i] {
			return nil, ErrInvalidFileFormat
		}
	}
	if _, err = io.ReadFull(r, buf[:8]); err != nil {
		return nil, ErrBrokenFile
	}
	if buf[0] != MainVersion {
		return nil, ErrVersionMismatch
	}

	// parameter block
	if _, err = io.ReadFull(r, buf[:24]); err != nil {
		return nil, ErrBrokenFile
	}
	segLength := le.Uint64(buf[:8])
	sketchSize := le.Uint64(buf[8:16])
	kmerSize := le.Uint64(buf[16:24])
	if segLength != params.SegLength {
		return nil, &ParamMismatchError{"segLength", segLength, params.SegLength}
	}
	if sketchSize != params.SketchSize {
		return nil, &ParamMismatchError{"sketchSize", sketchSize, params.SketchSize}
	}
	if kmerSize != params.KmerSize {
		return nil, &ParamMismatchError{"kmerSize", kmerSize, params.KmerSize}
	}

	idx := New(params)

	// minmers block
	if _, err = io.ReadFull(r, buf[:8]); err != nil {
		return nil, ErrBrokenFile
	}
	nMinmers := le.Uint64(buf[:8])
	idx.Minmers = make([]MinmerInfo, nMinmers)
	for i := uint64(0); i < nMinmers; i++ {
		if _, err = io.ReadFull(r, buf[:minmerInfoSize]); err != nil {
			return nil, ErrBrokenFile
		}
		idx.Minmers[i] = MinmerInfo{
			Hash:   le.Uint64(buf[:8]),
			WStart: int64(le.Uint64(buf[8:16])),
			WEnd:   int64(le.Uint64(buf[16:24])),
			SeqID:  le.Uint32(buf[24:28]),
			Strand: buf[28],
		}
	}

	// positions block
	if _, err = io.ReadFull(r, buf[:8]); err != nil {
		return nil, ErrBrokenFile
	}
	nKeys := le.Uint64(buf[:8])
	for i := uint64(0); i < nKeys; i++ {
		if _, err = io.ReadFull(r, buf[:16]); err != nil {
			return nil, ErrBrokenFile
		}
		h := le.Uint64(buf[:8])
		nPoints := le.Uint64(buf[8:16])
		pts := make([]IntervalPoint, nPoints)
		for j := uint64(0); j < nPoints; j++ {
			if _, err = io.ReadFull(r, buf[:intervalPointSize]); err != nil {
				return nil, ErrBrokenFile
			}
			pts[j] = IntervalPoint{
				Pos:   int64(le.Uint64(buf[:8])),
				Hash:  le.Uint64(buf[8:16]),
				SeqID: le.Uint32(buf[16:20]),
				Side:  buf[20],
			}
		}
		idx.Positions[h] = pts
	}

	// frequent-seeds block
	if _, err = io.ReadFull(r, buf[:8]); err != nil {
		return nil, ErrBrokenFile
	}
	nFreq := le.Uint64(buf[:8])
	for i := uint64(0); i < nFreq; i++ {
		if _, err = io.ReadFull(r, buf[:8]); err != nil {
			return nil, ErrBrokenFile
		}
		idx.FrequentSeeds[le.Uint64(buf[:8])] = struct{}{}
	}

	idx.FreqThreshold = math.MaxUint64
	return idx, nil
}

// WriteSeedTSV dumps all minmer windows as TSV for debugging.
func (idx *Index) WriteSeedTSV(w io.Writer) error {
	bw := bufio.NewWriterSize(w, BufferSize)
	if _, err := fmt.Fprintln(bw, "seqId\tstrand\tstart\tend\thash"); err != nil {
		return err
	}
	for i := range idx.Minmers {
		mi := &idx.Minmers[i]
		_, err := fmt.Fprintf(bw, "%d\t%c\t%d\t%d\t%d\n",
			mi.SeqID, mi.Strand, mi.WStart, mi.WEnd, mi.Hash)
		if err != nil {
			return err
		}
	}
	return bw.Flush()
}
