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
	"reflect"
	"strings"
	"testing"
)

func encodeOpsBackward(runs []opRun) []uint64 {
	// kernel ops are recorded tail-first
	ops := make([]uint64, 0, len(runs))
	for i := len(runs) - 1; i >= 0; i-- {
		ops = append(ops, uint64(runs[i].op)<<32|uint64(runs[i].n))
	}
	return ops
}

func TestDecodeOps(t *testing.T) {
	in := []opRun{{opI, 3}, {opM, 10}, {opX, 1}, {opM, 2}, {opM, 4}, {opH, 5}}
	got := decodeOps(encodeOpsBackward(in))
	want := []opRun{{opI, 3}, {opM, 10}, {opX, 1}, {opM, 6}, {opH, 5}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("decodeOps: got %v, want %v", got, want)
	}
}

func TestTrimToCore(t *testing.T) {
	runs := []opRun{{opI, 50}, {opH, 4}, {opM, 90}, {opX, 2}, {opM, 8}, {opI, 46}}
	core, ok := trimToCore(runs)
	if !ok {
		t.Fatal("core expected")
	}
	if core.qs != 4 || core.ts != 50 {
		t.Errorf("core start: q=%d t=%d, want q=4 t=50", core.qs, core.ts)
	}
	if core.qe != 104 || core.te != 150 {
		t.Errorf("core end: q=%d t=%d, want q=104 t=150", core.qe, core.te)
	}
	if len(core.runs) != 3 || core.runs[0].op != opM || core.runs[2].op != opM {
		t.Errorf("unexpected core runs: %v", core.runs)
	}

	if _, ok = trimToCore([]opRun{{opI, 5}, {opX, 3}}); ok {
		t.Error("matchless alignments have no core")
	}
}

func TestErode(t *testing.T) {
	core := coreAlignment{
		runs: []opRun{{opM, 3}, {opI, 2}, {opM, 50}, {opD, 1}, {opM, 2}},
		qs:   10, ts: 10, qe: 66, te: 67,
	}
	erodeHead(&core, 5)
	erodeTail(&core, 5)
	if len(core.runs) != 1 || core.runs[0].op != opM || core.runs[0].n != 50 {
		t.Errorf("unexpected runs after erosion: %v", core.runs)
	}
	if core.qs != 13 || core.ts != 15 {
		t.Errorf("head erosion offsets: q=%d t=%d", core.qs, core.ts)
	}
	if core.qe != 63 || core.te != 65 {
		t.Errorf("tail erosion offsets: q=%d t=%d", core.qe, core.te)
	}

	// long boundary matches are kept
	core2 := coreAlignment{runs: []opRun{{opM, 50}}, qs: 0, ts: 0, qe: 50, te: 50}
	erodeHead(&core2, 5)
	erodeTail(&core2, 5)
	if len(core2.runs) != 1 || core2.runs[0].n != 50 {
		t.Errorf("erosion should keep long matches: %v", core2.runs)
	}
}

func TestStatsAndIdentity(t *testing.T) {
	runs := []opRun{{opM, 90}, {opX, 2}, {opD, 3}, {opM, 5}, {opI, 4}, {opM, 5}}
	st := statsOf(runs)
	if st.matches != 100 || st.mismatches != 2 {
		t.Errorf("unexpected match stats: %+v", st)
	}
	if st.insEvents != 1 || st.insBases != 3 || st.delEvents != 1 || st.delBases != 4 {
		t.Errorf("unexpected gap stats: %+v", st)
	}
	if st.blockLen() != 109 {
		t.Errorf("unexpected block length: %d", st.blockLen())
	}
	if st.editDistance() != 9 {
		t.Errorf("unexpected edit distance: %d", st.editDistance())
	}
	if gi := st.gapCompressedIdentity(); gi < 0.96 || gi > 0.97 {
		t.Errorf("unexpected gap-compressed identity: %f", gi)
	}
}

func TestCigarString(t *testing.T) {
	runs := []opRun{{opM, 5}, {opX, 1}, {opM, 2}, {opD, 2}, {opM, 3}, {opI, 1}, {opM, 2}}
	var sb strings.Builder
	cigarString(runs, &sb)
	if sb.String() != "8M2I3M1D2M" {
		t.Errorf("unexpected cigar: %s", sb.String())
	}
}

func TestMDString(t *testing.T) {
	//        0123456789012
	t1 := []byte("AAAAACGGTTTTT")
	// target[5] mismatch, target[8:10] deleted from the query
	runs := []opRun{{opM, 5}, {opX, 1}, {opM, 2}, {opI, 2}, {opM, 3}}
	var sb strings.Builder
	mdString(runs, t1, 0, &sb)
	if sb.String() != "5C2^TT3" {
		t.Errorf("unexpected MD: %s", sb.String())
	}
}

func TestFloat2Phred(t *testing.T) {
	if p := float2phred(0); p != 255 {
		t.Errorf("phred of 0: %f", p)
	}
	if p := float2phred(0.1); p < 9.9 || p > 10.1 {
		t.Errorf("phred of 0.1: %f", p)
	}
	if p := float2phred(1); p != 0 {
		t.Errorf("phred of 1: %f", p)
	}
}

func TestPatchFlankIdentical(t *testing.T) {
	param := &Parameters{
		Threads:       1,
		WfaMismatch:   4,
		WfaGapOpen:    6,
		WfaGapExt:     2,
		PatchMismatch: 3,
		PatchGapOpen:  4,
		PatchGapExt:   2,
		MaxLenMajor:   1 << 18,
		MaxLenMinor:   1 << 14,
	}
	a := NewAligner(param, nil, nil, 0)
	defer a.Close()

	qh := []byte("ACGTACGTACGTACGTACGT")
	th := []byte("ACGTACGTACGTACGTACGT")
	runs, ok := a.patchFlank(qh, th)
	if !ok {
		t.Fatal("patching identical flanks should succeed")
	}
	st := statsOf(runs)
	if st.matches != int64(len(qh)) || st.mismatches != 0 {
		t.Errorf("unexpected patch stats: %+v", st)
	}
	if a.patchScore(runs) != 0 {
		t.Errorf("identical flanks should score 0, got %d", a.patchScore(runs))
	}
}
