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
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func buildTestIndex(t *testing.T, dir string) *Index {
	file := filepath.Join(dir, "ref.fasta")
	writeFasta(t, file, map[string][]byte{"ref0": randomSeq(2000, 42)}, []string{"ref0"})

	params := Params{SegLength: 500, SketchSize: 7, KmerSize: 19, AlphabetSize: 4, PctThreshold: 0.001}
	idx := New(params)
	if err := idx.BuildFromFiles([]string{file}, 2, nil); err != nil {
		t.Fatal(err)
	}
	idx.ComputeFreqHist()
	idx.FreqThreshold = 3
	idx.ComputeFreqSeedSet()
	idx.DropFreqSeedSet()
	return idx
}

func TestIndexRoundTrip(t *testing.T) {
	dir := t.TempDir()
	idx := buildTestIndex(t, dir)

	file := filepath.Join(dir, "ref.wmi")
	if err := idx.WriteIndex(file); err != nil {
		t.Fatal(err)
	}

	idx2, err := ReadIndex(file, idx.Params)
	if err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(idx.Minmers, idx2.Minmers) {
		t.Errorf("minmers differ after round trip: %d vs %d entries", len(idx.Minmers), len(idx2.Minmers))
	}
	if !reflect.DeepEqual(idx.Positions, idx2.Positions) {
		t.Errorf("positions differ after round trip: %d vs %d keys", len(idx.Positions), len(idx2.Positions))
	}
	if !reflect.DeepEqual(idx.FrequentSeeds, idx2.FrequentSeeds) {
		t.Errorf("frequent seeds differ after round trip: %d vs %d", len(idx.FrequentSeeds), len(idx2.FrequentSeeds))
	}

	// writing again must be byte-identical
	file2 := filepath.Join(dir, "ref2.wmi")
	if err = idx2.WriteIndex(file2); err != nil {
		t.Fatal(err)
	}
	b1, err := os.ReadFile(file)
	if err != nil {
		t.Fatal(err)
	}
	b2, err := os.ReadFile(file2)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(b1, b2) {
		t.Error("re-serialized index is not byte-identical")
	}
}

func TestIndexParameterMismatch(t *testing.T) {
	dir := t.TempDir()
	idx := buildTestIndex(t, dir)

	file := filepath.Join(dir, "ref.wmi")
	if err := idx.WriteIndex(file); err != nil {
		t.Fatal(err)
	}

	bad := idx.Params
	bad.KmerSize = 17
	_, err := ReadIndex(file, bad)
	if err == nil {
		t.Fatal("expected a parameter mismatch error")
	}
	pm, ok := err.(*ParamMismatchError)
	if !ok {
		t.Fatalf("expected *ParamMismatchError, got %T: %s", err, err)
	}
	if pm.Field != "kmerSize" {
		t.Errorf("mismatch should name kmerSize, named %s", pm.Field)
	}
	if pm.Index != 19 || pm.Given != 17 {
		t.Errorf("unexpected mismatch values: %+v", pm)
	}

	bad = idx.Params
	bad.SegLength = 400
	_, err = ReadIndex(file, bad)
	if pm, ok = err.(*ParamMismatchError); !ok || pm.Field != "segLength" {
		t.Errorf("mismatch should name segLength: %v", err)
	}
}

func TestIndexInvalidFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "junk.wmi")
	if err := os.WriteFile(file, []byte("not an index at all"), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := ReadIndex(file, Params{SegLength: 500, SketchSize: 7, KmerSize: 19})
	if err != ErrInvalidFileFormat {
		t.Errorf("expected ErrInvalidFileFormat, got %v", err)
	}
}
