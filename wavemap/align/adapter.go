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
	"fmt"
	"math"
	"strings"

	"github.com/pkg/errors"
	"github.com/shenwei356/bio/seq"
	"github.com/shenwei356/wfa"

	"github.com/wavemap/wavemap/wavemap/seqstore"
)

// wavefront kernel op codes: M and X consume both sequences, I consumes the
// target only, D consumes the query only, H is a query clip.
const (
	opM byte = 'M'
	opX byte = 'X'
	opI byte = 'I'
	opD byte = 'D'
	opH byte = 'H'
)

type opRun struct {
	op byte
	n  int64
}

// Aligner prepares one mapping record for the wavefront kernel and renders
// its output. One Aligner belongs to exactly one worker: the kernel state
// and the sequence-store handle it uses are not safe for sharing.
type Aligner struct {
	param   *Parameters
	refs    *seqstore.Store
	queries *seqstore.Store
	tid     int

	main  *wfa.Aligner
	patch *wfa.Aligner
}

// NewAligner returns the worker-local aligner for handle tid.
func NewAligner(param *Parameters, refs, queries *seqstore.Store, tid int) *Aligner {
	main := wfa.New(
		&wfa.Penalties{
			Mismatch: param.WfaMismatch,
			GapOpen:  param.WfaGapOpen,
			GapExt:   param.WfaGapExt,
		},
		&wfa.Options{GlobalAlignment: false},
	)
	if param.MinWavefrontLength > 0 {
		main.AdaptiveReduction(&wfa.AdaptiveReductionOption{
			MinWFLen:    uint32(param.MinWavefrontLength),
			MaxDistDiff: uint32(param.MaxDistThreshold),
			CutoffStep:  1,
		})
	}
	patch := wfa.New(
		&wfa.Penalties{
			Mismatch: param.PatchMismatch,
			GapOpen:  param.PatchGapOpen,
			GapExt:   param.PatchGapExt,
		},
		&wfa.Options{GlobalAlignment: true},
	)
	return &Aligner{param: param, refs: refs, queries: queries, tid: tid, main: main, patch: patch}
}

// Close recycles the kernel states.
func (a *Aligner) Close() {
	wfa.RecycleAligner(a.main)
	wfa.RecycleAligner(a.patch)
}

// Result is the rendered output of one aligned record.
type Result struct {
	Out      string // PAF or SAM record, empty when the record was skipped
	TSV      string // per-alignment TSV, empty unless enabled
	Patching string // patching-info TSV lines, empty unless enabled
}

// Align fetches the padded reference and the query region of rec, runs the
// wavefront kernel, patches low-confidence boundaries with the flanking
// context, and renders the output record. A skipped record (filtered,
// unalignable, or kernel failure) returns an empty Result and no error.
func (a *Aligner) Align(rec *MappingRecord) (Result, error) {
	var res Result

	// records too divergent for the wavefront to converge are not aligned
	if a.param.MaxMashDist > 0 && 1-rec.EstIdentity/100 > a.param.MaxMashDist {
		return res, nil
	}

	refSize, ok := a.refs.SeqLen(rec.RefID)
	if !ok {
		return res, errors.Errorf("unknown reference sequence: %s", rec.RefID)
	}
	querySize, ok := a.queries.SeqLen(rec.QueryID)
	if !ok {
		return res, errors.Errorf("unknown query sequence: %s", rec.QueryID)
	}
	if rec.REnd > refSize || rec.QEnd > querySize || rec.RStart < 0 || rec.QStart < 0 {
		return res, errors.Errorf("mapping region out of bounds: %s:%d-%d vs %s:%d-%d",
			rec.QueryID, rec.QStart, rec.QEnd, rec.RefID, rec.RStart, rec.REnd)
	}

	// flanking context supports boundary patching on the reference side
	headPad := rec.RStart
	if headPad > a.param.MaxLenMinor {
		headPad = a.param.MaxLenMinor
	}
	tailPad := refSize - rec.REnd
	if tailPad > a.param.MaxLenMinor {
		tailPad = a.param.MaxLenMinor
	}

	tSeq, err := a.refs.Fetch(a.tid, rec.RefID, rec.RStart-headPad, rec.REnd+tailPad)
	if err != nil {
		return res, err
	}
	qSeq, err := a.queries.Fetch(a.tid, rec.QueryID, rec.QStart, rec.QEnd)
	if err != nil {
		return res, err
	}

	if rec.Strand == StrandRev {
		s, err := seq.NewSeq(seq.DNAredundant, qSeq)
		if err != nil {
			return res, err
		}
		s.RevComInplace()
		qSeq = s.Seq
	}

	regionLen := int64(len(qSeq))
	if regionLen == 0 || len(tSeq) == 0 {
		return res, nil
	}
	if a.param.MaxLenMajor > 0 &&
		(regionLen > a.param.MaxLenMajor || int64(len(tSeq)) > a.param.MaxLenMajor) {
		return res, nil
	}
	if len(qSeq) > len(tSeq) {
		return res, nil
	}

	cigar, err := a.main.Align(qSeq, tSeq)
	if err != nil || cigar == nil {
		return res, nil
	}

	runs := decodeOps(cigar.Ops)
	core, ok := trimToCore(runs)
	if !ok {
		return res, nil
	}

	erodeHead(&core, int64(a.param.ErodeK))
	erodeTail(&core, int64(a.param.ErodeK))
	if len(core.runs) == 0 {
		return res, nil
	}

	var patching strings.Builder
	a.patchHead(&core, qSeq, tSeq, rec, &patching)
	a.patchTail(&core, qSeq, tSeq, rec, &patching)

	core.runs = mergeRuns(core.runs)
	st := statsOf(core.runs)

	blockIdentity := st.blockIdentity()
	if blockIdentity*100 < a.param.MinIdentity {
		return res, nil
	}

	res.Out = a.render(rec, &core, &st, qSeq, tSeq, querySize, refSize, headPad, blockIdentity)
	if a.param.TSVPrefix != "" {
		res.TSV = renderTSV(rec, core.runs)
	}
	if a.param.EmitPatchingTSV {
		res.Patching = patching.String()
	}
	return res, nil
}

// decodeOps converts kernel ops (recorded tail-first during backtrace) into
// forward-ordered runs.
func decodeOps(ops []uint64) []opRun {
	runs := make([]opRun, 0, len(ops))
	for i := len(ops) - 1; i >= 0; i-- {
		op := byte(ops[i] >> 32)
		n := int64(ops[i] & math.MaxUint32)
		if n == 0 {
			continue
		}
		if m := len(runs); m > 0 && runs[m-1].op == op {
			runs[m-1].n += n
			continue
		}
		runs = append(runs, opRun{op, n})
	}
	return runs
}

func mergeRuns(runs []opRun) []opRun {
	out := runs[:0]
	for _, r := range runs {
		if m := len(out); m > 0 && out[m-1].op == r.op {
			out[m-1].n += r.n
			continue
		}
		out = append(out, r)
	}
	return out
}

// core is the match-bounded part of an alignment. qs/qe are query-region
// offsets, ts/te are padded-target offsets, both half-open.
type coreAlignment struct {
	runs           []opRun
	qs, qe, ts, te int64
}

func opConsumption(r opRun) (q, t int64) {
	switch r.op {
	case opM, opX:
		return r.n, r.n
	case opI:
		return 0, r.n
	case opD, opH:
		return r.n, 0
	}
	return 0, 0
}

// trimToCore drops clips and boundary gaps so the alignment starts and ends
// with a match run, accumulating the dropped consumption into the offsets.
func trimToCore(runs []opRun) (coreAlignment, bool) {
	first, last := -1, -1
	for i, r := range runs {
		if r.op == opM {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	if first < 0 {
		return coreAlignment{}, false
	}

	var c coreAlignment
	for _, r := range runs[:first] {
		q, t := opConsumption(r)
		c.qs += q
		c.ts += t
	}
	c.runs = runs[first : last+1]
	c.qe, c.te = c.qs, c.ts
	for _, r := range c.runs {
		q, t := opConsumption(r)
		c.qe += q
		c.te += t
	}
	return c, true
}

// erodeHead removes boundary match runs shorter than k together with the
// non-match runs (mismatches and gaps) following them; the freed bases
// rejoin the unaligned flank.
func erodeHead(c *coreAlignment, k int64) {
	if k <= 0 {
		return
	}
	for len(c.runs) > 0 && c.runs[0].op == opM && c.runs[0].n < k {
		q, t := opConsumption(c.runs[0])
		c.qs += q
		c.ts += t
		c.runs = c.runs[1:]
		for len(c.runs) > 0 && c.runs[0].op != opM {
			q, t = opConsumption(c.runs[0])
			c.qs += q
			c.ts += t
			c.runs = c.runs[1:]
		}
	}
}

func erodeTail(c *coreAlignment, k int64) {
	if k <= 0 {
		return
	}
	for n := len(c.runs); n > 0 && c.runs[n-1].op == opM && c.runs[n-1].n < k; n = len(c.runs) {
		q, t := opConsumption(c.runs[n-1])
		c.qe -= q
		c.te -= t
		c.runs = c.runs[:n-1]
		for n = len(c.runs); n > 0 && c.runs[n-1].op != opM; n = len(c.runs) {
			q, t = opConsumption(c.runs[n-1])
			c.qe -= q
			c.te -= t
			c.runs = c.runs[:n-1]
		}
	}
}

// patchScore scores runs with the patching penalties.
func (a *Aligner) patchScore(runs []opRun) uint64 {
	var score uint64
	for _, r := range runs {
		switch r.op {
		case opX:
			score += uint64(r.n) * uint64(a.param.PatchMismatch)
		case opI, opD:
			score += uint64(a.param.PatchGapOpen) + uint64(r.n)*uint64(a.param.PatchGapExt)
		}
	}
	return score
}

// patchFlank globally aligns equal-length query and target flanks with the
// patching penalties. ok is false when the kernel fails, the alignment does
// not cover both flanks, or the score exceeds the patching limit.
func (a *Aligner) patchFlank(qh, th []byte) ([]opRun, bool) {
	cigar, err := a.patch.Align(qh, th)
	if err != nil || cigar == nil {
		return nil, false
	}
	runs := decodeOps(cigar.Ops)
	var qc, tc int64
	out := make([]opRun, 0, len(runs))
	for _, r := range runs {
		if r.op == opH {
			return nil, false
		}
		q, t := opConsumption(r)
		qc += q
		tc += t
		out = append(out, r)
	}
	if qc != int64(len(qh)) || tc != int64(len(th)) {
		return nil, false
	}
	if a.param.MaxPatchingScore > 0 && a.patchScore(out) > a.param.MaxPatchingScore {
		return nil, false
	}
	return out, true
}

func (a *Aligner) patchHead(c *coreAlignment, q, t []byte, rec *MappingRecord, w *strings.Builder) {
	take := c.qs
	if take > c.ts {
		take = c.ts
	}
	if take > a.param.MaxLenMinor {
		take = a.param.MaxLenMinor
	}
	if take <= 0 {
		return
	}
	runs, ok := a.patchFlank(q[c.qs-take:c.qs], t[c.ts-take:c.ts])
	if a.param.EmitPatchingTSV {
		fmt.Fprintf(w, "%s\t%s\thead\t%d\t%t\n", rec.QueryID, rec.RefID, take, ok)
	}
	if !ok {
		return
	}
	c.qs -= take
	c.ts -= take
	c.runs = append(runs, c.runs...)
}

func (a *Aligner) patchTail(c *coreAlignment, q, t []byte, rec *MappingRecord, w *strings.Builder) {
	take := int64(len(q)) - c.qe
	if avail := int64(len(t)) - c.te; take > avail {
		take = avail
	}
	if take > a.param.MaxLenMinor {
		take = a.param.MaxLenMinor
	}
	if take <= 0 {
		return
	}
	runs, ok := a.patchFlank(q[c.qe:c.qe+take], t[c.te:c.te+take])
	if a.param.EmitPatchingTSV {
		fmt.Fprintf(w, "%s\t%s\ttail\t%d\t%t\n", rec.QueryID, rec.RefID, take, ok)
	}
	if !ok {
		return
	}
	c.qe += take
	c.te += take
	c.runs = append(c.runs, runs...)
}

type alignStats struct {
	matches    int64
	mismatches int64
	insEvents  int64 // query-only gaps
	insBases   int64
	delEvents  int64 // target-only gaps
	delBases   int64
}

func statsOf(runs []opRun) alignStats {
	var st alignStats
	for _, r := range runs {
		switch r.op {
		case opM:
			st.matches += r.n
		case opX:
			st.mismatches += r.n
		case opD:
			st.insEvents++
			st.insBases += r.n
		case opI:
			st.delEvents++
			st.delBases += r.n
		}
	}
	return st
}

func (st *alignStats) blockLen() int64 {
	return st.matches + st.mismatches + st.insBases + st.delBases
}

func (st *alignStats) blockIdentity() float64 {
	b := st.blockLen()
	if b == 0 {
		return 0
	}
	return float64(st.matches) / float64(b)
}

func (st *alignStats) gapCompressedIdentity() float64 {
	d := st.matches + st.mismatches + st.insEvents + st.delEvents
	if d == 0 {
		return 0
	}
	return float64(st.matches) / float64(d)
}

func (st *alignStats) editDistance() int64 {
	return st.mismatches + st.insBases + st.delBases
}

func float2phred(prob float64) float64 {
	if prob <= 0 {
		return 255
	}
	p := -10 * math.Log10(prob)
	if p < 0 || p > 255 {
		return 255
	}
	return p
}

// cigarString renders runs in SAM convention: M for aligned bases, I for
// query-only gaps, D for target-only gaps.
func cigarString(runs []opRun, sb *strings.Builder) {
	var pending int64
	for _, r := range runs {
		switch r.op {
		case opM, opX:
			pending += r.n
		case opD:
			if pending > 0 {
				fmt.Fprintf(sb, "%dM", pending)
				pending = 0
			}
			fmt.Fprintf(sb, "%dI", r.n)
		case opI:
			if pending > 0 {
				fmt.Fprintf(sb, "%dM", pending)
				pending = 0
			}
			fmt.Fprintf(sb, "%dD", r.n)
		}
	}
	if pending > 0 {
		fmt.Fprintf(sb, "%dM", pending)
	}
}

// mdString renders the MD tag of the core alignment against the target
// slice, starting at the core's target offset.
func mdString(runs []opRun, t []byte, ts int64, sb *strings.Builder) {
	var matchRun int64
	pos := ts
	for _, r := range runs {
		switch r.op {
		case opM:
			matchRun += r.n
			pos += r.n
		case opX:
			for i := int64(0); i < r.n; i++ {
				fmt.Fprintf(sb, "%d%c", matchRun, t[pos])
				matchRun = 0
				pos++
			}
		case opI:
			fmt.Fprintf(sb, "%d^%s", matchRun, t[pos:pos+r.n])
			matchRun = 0
			pos += r.n
		case opD:
			// query-only bases do not appear in MD
		}
	}
	fmt.Fprintf(sb, "%d", matchRun)
}

// render produces the PAF or SAM record of one core alignment.
func (a *Aligner) render(rec *MappingRecord, c *coreAlignment, st *alignStats,
	q, t []byte, querySize, refSize, headPad int64, blockIdentity float64) string {

	// absolute target coordinates
	tStart := rec.RStart - headPad + c.ts
	tEnd := rec.RStart - headPad + c.te

	// absolute query coordinates on the original strand
	regionLen := int64(len(q))
	var qStart, qEnd int64
	if rec.Strand == StrandFwd {
		qStart = rec.QStart + c.qs
		qEnd = rec.QStart + c.qe
	} else {
		qStart = rec.QStart + regionLen - c.qe
		qEnd = rec.QStart + regionLen - c.qs
	}

	mapq := int(math.Round(float2phred(1 - blockIdentity)))
	if mapq > 60 {
		mapq = 60
	}

	var sb strings.Builder

	if a.param.SamFormat {
		name := rec.QueryID
		if a.param.Split && rec.Rank > 0 {
			name = fmt.Sprintf("%s_%d", name, rec.Rank)
		}
		flag := 0
		if rec.Strand == StrandRev {
			flag = 16
		}
		fmt.Fprintf(&sb, "%s\t%d\t%s\t%d\t%d\t", name, flag, rec.RefID, tStart+1, mapq)
		if c.qs > 0 {
			fmt.Fprintf(&sb, "%dS", c.qs)
		}
		cigarString(c.runs, &sb)
		if tail := regionLen - c.qe; tail > 0 {
			fmt.Fprintf(&sb, "%dS", tail)
		}
		sb.WriteString("\t*\t0\t0\t")
		if a.param.NoSeqInSam {
			sb.WriteByte('*')
		} else {
			sb.Write(q)
		}
		sb.WriteString("\t*")
		fmt.Fprintf(&sb, "\tNM:i:%d", st.editDistance())
		if a.param.EmitMDTag {
			sb.WriteString("\tMD:Z:")
			mdString(c.runs, t, c.ts, &sb)
		}
		fmt.Fprintf(&sb, "\tgi:f:%f\tbi:f:%f\n",
			st.gapCompressedIdentity(), blockIdentity)
		return sb.String()
	}

	fmt.Fprintf(&sb, "%s\t%d\t%d\t%d\t%c\t%s\t%d\t%d\t%d\t%d\t%d\t%d",
		rec.QueryID, querySize, qStart, qEnd, rec.Strand,
		rec.RefID, refSize, tStart, tEnd,
		st.matches, st.blockLen(), mapq)
	fmt.Fprintf(&sb, "\ttp:A:P\tNM:i:%d\tgi:f:%f\tbi:f:%f\tcg:Z:",
		st.editDistance(), st.gapCompressedIdentity(), blockIdentity)
	cigarString(c.runs, &sb)
	sb.WriteByte('\n')
	return sb.String()
}

// renderTSV dumps the op runs of one alignment.
func renderTSV(rec *MappingRecord, runs []opRun) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "query\ttarget\top\tlen\n")
	for _, r := range runs {
		fmt.Fprintf(&sb, "%s\t%s\t%c\t%d\n", rec.QueryID, rec.RefID, r.op, r.n)
	}
	return sb.String()
}
