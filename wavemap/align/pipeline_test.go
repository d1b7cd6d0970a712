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

package align

import (
	"bytes"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/wavemap/wavemap/wavemap/seqstore"
)

func randomSeq(n int, seed int64) []byte {
	r := rand.New(rand.NewSource(seed))
	bases := []byte("ACGT")
	s := make([]byte, n)
	for i := range s {
		s[i] = bases[r.Intn(4)]
	}
	return s
}

func revComp(s []byte) []byte {
	comp := map[byte]byte{'A': 'T', 'C': 'G', 'G': 'C', 'T': 'A'}
	out := make([]byte, len(s))
	for i, b := range s {
		out[len(s)-1-i] = comp[b]
	}
	return out
}

func writeIndexedFasta(t *testing.T, file string, names []string, seqs [][]byte) {
	fh, err := os.Create(file)
	if err != nil {
		t.Fatal(err)
	}
	fai, err := os.Create(file + seqstore.FaiExt)
	if err != nil {
		t.Fatal(err)
	}
	var offset int64
	for i, name := range names {
		header := fmt.Sprintf(">%s\n", name)
		fh.WriteString(header)
		offset += int64(len(header))
		fh.Write(seqs[i])
		fh.WriteString("\n")
		fmt.Fprintf(fai, "%s\t%d\t%d\t%d\t%d\n",
			name, len(seqs[i]), offset, len(seqs[i]), len(seqs[i])+1)
		offset += int64(len(seqs[i])) + 1
	}
	if err = fh.Close(); err != nil {
		t.Fatal(err)
	}
	if err = fai.Close(); err != nil {
		t.Fatal(err)
	}
}

func testParameters(threads int, mappingFile string) *Parameters {
	return &Parameters{
		Threads:     threads,
		MappingFile: mappingFile,

		WfaMismatch: 4,
		WfaGapOpen:  6,
		WfaGapExt:   2,

		PatchMismatch: 3,
		PatchGapOpen:  4,
		PatchGapExt:   2,

		MaxLenMajor: 1 << 18,
		MaxLenMinor: 50,
		ErodeK:      13,
		MaxMashDist: 0.99,
	}
}

// runPipeline writes mapping lines to a file and runs the pipeline over the
// given reference and query stores.
func runPipeline(t *testing.T, dir string, threads int, lines []string,
	refFasta, queryFasta string, mutate func(*Parameters)) (string, error) {
	mappingFile := filepath.Join(dir, fmt.Sprintf("mappings_%d.paf", threads))
	if err := os.WriteFile(mappingFile, []byte(strings.Join(lines, "\n")+"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	param := testParameters(threads, mappingFile)
	if mutate != nil {
		mutate(param)
	}

	refs, err := seqstore.New(refFasta, threads)
	if err != nil {
		t.Fatal(err)
	}
	defer refs.Close()
	queries, err := seqstore.New(queryFasta, threads)
	if err != nil {
		t.Fatal(err)
	}
	defer queries.Close()

	var out bytes.Buffer
	var patching bytes.Buffer
	p := NewPipeline(param, refs, queries, &out, &patching, nil)
	err = p.Compute()
	return out.String(), err
}

func TestPipelineSingleRecord(t *testing.T) {
	dir := t.TempDir()

	ref := randomSeq(2000, 42)
	query := randomSeq(10000, 7)
	copy(query[0:100], ref[50:150])

	refFasta := filepath.Join(dir, "ref.fasta")
	queryFasta := filepath.Join(dir, "query.fasta")
	writeIndexedFasta(t, refFasta, []string{"r0"}, [][]byte{ref})
	writeIndexedFasta(t, queryFasta, []string{"q0"}, [][]byte{query})

	line := "q0 10000 0 100 + r0 2000 50 150 60 100 80 id:f:95.0"
	out, err := runPipeline(t, dir, 2, []string{line}, refFasta, queryFasta, nil)
	if err != nil {
		t.Fatal(err)
	}

	outLines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(outLines) != 1 || outLines[0] == "" {
		t.Fatalf("expected exactly one output record, got %d:\n%s", len(outLines), out)
	}

	fields := strings.Split(outLines[0], "\t")
	if len(fields) < 12 {
		t.Fatalf("short PAF record: %s", outLines[0])
	}
	want := []string{"q0", "10000", "0", "100", "+", "r0", "2000", "50", "150", "100", "100"}
	for i, w := range want {
		if fields[i] != w {
			t.Errorf("PAF column %d: got %s, want %s (record: %s)", i, fields[i], w, outLines[0])
		}
	}
	if !strings.Contains(outLines[0], "cg:Z:100M") {
		t.Errorf("expected a 100M cigar: %s", outLines[0])
	}
}

func TestPipelineReverseStrand(t *testing.T) {
	dir := t.TempDir()

	ref := randomSeq(2000, 42)
	query := randomSeq(10000, 8)
	copy(query[200:300], revComp(ref[50:150]))

	refFasta := filepath.Join(dir, "ref.fasta")
	queryFasta := filepath.Join(dir, "query.fasta")
	writeIndexedFasta(t, refFasta, []string{"r0"}, [][]byte{ref})
	writeIndexedFasta(t, queryFasta, []string{"q0"}, [][]byte{query})

	line := "q0 10000 200 300 - r0 2000 50 150 60 100 80 id:f:95.0"
	out, err := runPipeline(t, dir, 2, []string{line}, refFasta, queryFasta, nil)
	if err != nil {
		t.Fatal(err)
	}

	outLines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(outLines) != 1 || outLines[0] == "" {
		t.Fatalf("expected exactly one output record:\n%s", out)
	}
	fields := strings.Split(outLines[0], "\t")
	want := []string{"q0", "10000", "200", "300", "-", "r0", "2000", "50", "150", "100", "100"}
	for i, w := range want {
		if fields[i] != w {
			t.Errorf("PAF column %d: got %s, want %s (record: %s)", i, fields[i], w, outLines[0])
		}
	}
}

func TestPipelineCompletenessAndThreadEquivalence(t *testing.T) {
	dir := t.TempDir()

	ref := randomSeq(2000, 9)
	refFasta := filepath.Join(dir, "ref.fasta")
	queryFasta := filepath.Join(dir, "query.fasta")
	writeIndexedFasta(t, refFasta, []string{"r0"}, [][]byte{ref})
	writeIndexedFasta(t, queryFasta, []string{"q0"}, [][]byte{ref})

	r := rand.New(rand.NewSource(13))
	n := 1000
	lines := make([]string, n)
	for i := 0; i < n; i++ {
		start := r.Intn(1900)
		end := start + 100
		lines[i] = fmt.Sprintf("q0 2000 %d %d + r0 2000 %d %d 60 100 80 id:f:99.0",
			start, end, start, end)
	}

	out4, err := runPipeline(t, dir, 4, lines, refFasta, queryFasta, nil)
	if err != nil {
		t.Fatal(err)
	}
	out1, err := runPipeline(t, dir, 1, lines, refFasta, queryFasta, nil)
	if err != nil {
		t.Fatal(err)
	}

	records4 := strings.Split(strings.TrimRight(out4, "\n"), "\n")
	records1 := strings.Split(strings.TrimRight(out1, "\n"), "\n")
	if len(records4) != n {
		t.Errorf("4 workers: expected %d records, got %d", n, len(records4))
	}
	if len(records1) != n {
		t.Errorf("1 worker: expected %d records, got %d", n, len(records1))
	}

	sort.Strings(records4)
	sort.Strings(records1)
	for i := range records4 {
		if records4[i] != records1[i] {
			t.Fatalf("record sets differ at %d:\n%s\nvs\n%s", i, records4[i], records1[i])
		}
	}
}

func TestPipelineParseErrorIsFatal(t *testing.T) {
	dir := t.TempDir()

	ref := randomSeq(500, 3)
	refFasta := filepath.Join(dir, "ref.fasta")
	queryFasta := filepath.Join(dir, "query.fasta")
	writeIndexedFasta(t, refFasta, []string{"r0"}, [][]byte{ref})
	writeIndexedFasta(t, queryFasta, []string{"q0"}, [][]byte{ref})

	lines := []string{"q0 500 0 100 + r0"}
	if _, err := runPipeline(t, dir, 2, lines, refFasta, queryFasta, nil); err == nil {
		t.Error("a malformed mapping row should fail the run")
	}
}

func TestPipelineMashDistanceFilter(t *testing.T) {
	dir := t.TempDir()

	ref := randomSeq(500, 4)
	refFasta := filepath.Join(dir, "ref.fasta")
	queryFasta := filepath.Join(dir, "query.fasta")
	writeIndexedFasta(t, refFasta, []string{"r0"}, [][]byte{ref})
	writeIndexedFasta(t, queryFasta, []string{"q0"}, [][]byte{ref})

	lines := []string{"q0 500 0 100 + r0 500 0 100 60 100 80 id:f:50.0"}
	out, err := runPipeline(t, dir, 1, lines, refFasta, queryFasta, func(p *Parameters) {
		p.MaxMashDist = 0.2
	})
	if err != nil {
		t.Fatal(err)
	}
	if out != "" {
		t.Errorf("too-divergent records should be skipped, got:\n%s", out)
	}
}

func TestPipelineTSVOutputs(t *testing.T) {
	dir := t.TempDir()

	ref := randomSeq(2000, 42)
	query := randomSeq(10000, 7)
	copy(query[0:100], ref[50:150])

	refFasta := filepath.Join(dir, "ref.fasta")
	queryFasta := filepath.Join(dir, "query.fasta")
	writeIndexedFasta(t, refFasta, []string{"r0"}, [][]byte{ref})
	writeIndexedFasta(t, queryFasta, []string{"q0"}, [][]byte{query})

	prefix := filepath.Join(dir, "aln_")
	line := "q0 10000 0 100 + r0 2000 50 150 60 100 80 id:f:95.0"
	out, err := runPipeline(t, dir, 1, []string{line}, refFasta, queryFasta, func(p *Parameters) {
		p.TSVPrefix = prefix
	})
	if err != nil {
		t.Fatal(err)
	}
	if out == "" {
		t.Fatal("expected one output record")
	}

	data, err := os.ReadFile(prefix + "0.tsv")
	if err != nil {
		t.Fatalf("per-alignment TSV missing: %s", err)
	}
	if !strings.HasPrefix(string(data), "query\ttarget\top\tlen\n") {
		t.Errorf("unexpected TSV content:\n%s", data)
	}
}

func TestPipelineSAMOutput(t *testing.T) {
	dir := t.TempDir()

	ref := randomSeq(2000, 42)
	query := randomSeq(10000, 7)
	copy(query[0:100], ref[50:150])

	refFasta := filepath.Join(dir, "ref.fasta")
	queryFasta := filepath.Join(dir, "query.fasta")
	writeIndexedFasta(t, refFasta, []string{"r0"}, [][]byte{ref})
	writeIndexedFasta(t, queryFasta, []string{"q0"}, [][]byte{query})

	line := "q0 10000 0 100 + r0 2000 50 150 60 100 80 id:f:95.0"
	out, err := runPipeline(t, dir, 1, []string{line}, refFasta, queryFasta, func(p *Parameters) {
		p.SamFormat = true
		p.EmitMDTag = true
	})
	if err != nil {
		t.Fatal(err)
	}

	fields := strings.Split(strings.TrimRight(out, "\n"), "\t")
	if len(fields) < 11 {
		t.Fatalf("short SAM record: %s", out)
	}
	if fields[0] != "q0" || fields[1] != "0" || fields[2] != "r0" || fields[3] != "51" {
		t.Errorf("unexpected SAM fields: %v", fields[:4])
	}
	if fields[5] != "100M" {
		t.Errorf("unexpected SAM cigar: %s", fields[5])
	}
	if !strings.Contains(out, "MD:Z:100") {
		t.Errorf("expected MD tag: %s", out)
	}
	if !bytes.Equal([]byte(fields[9]), ref[50:150]) {
		t.Errorf("SAM sequence should be the aligned query region")
	}
}

// the envelope pool must be safe for concurrent reuse
func TestSeqRecordPool(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				r := poolSeqRecord.Get().(*seqRecord)
				r.line = "x"
				poolSeqRecord.Put(r)
			}
		}()
	}
	wg.Wait()
}
