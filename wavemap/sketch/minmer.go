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
	"container/heap"
	"encoding/binary"
	"sort"

	"github.com/shenwei356/kmers"
	"github.com/zeebo/wyhash"
)

// StrandFwd and StrandRev mark which strand carries the canonical k-mer.
const (
	StrandFwd byte = '+'
	StrandRev byte = '-'
)

// MinmerInfo is one minmer occupying a half-open window range [WStart, WEnd)
// on one sequence. The same hash may appear many times per sequence.
type MinmerInfo struct {
	Hash   uint64
	WStart int64
	WEnd   int64
	SeqID  uint32
	Strand byte
}

// hash seed for k-mer hashing, part of the index format.
const hashSeed uint64 = 42

// instance is one k-mer occurrence inside the sliding window.
type instance struct {
	hash uint64
	pos  int64
}

const (
	tagNone byte = iota
	tagSketch
	tagCandidate
)

// minHeap orders instances by ascending hash, position breaking ties.
type minHeap []instance

func (h minHeap) Len() int { return len(h) }
func (h minHeap) Less(i, j int) bool {
	if h[i].hash == h[j].hash {
		return h[i].pos < h[j].pos
	}
	return h[i].hash < h[j].hash
}
func (h minHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x interface{}) { *h = append(*h, x.(instance)) }
func (h *minHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// maxHeap orders instances by descending hash, position breaking ties.
type maxHeap []instance

func (h maxHeap) Len() int { return len(h) }
func (h maxHeap) Less(i, j int) bool {
	if h[i].hash == h[j].hash {
		return h[i].pos > h[j].pos
	}
	return h[i].hash > h[j].hash
}
func (h maxHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x interface{}) { *h = append(*h, x.(instance)) }
func (h *maxHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// slidingSketch keeps the s smallest k-mer instances of the current window.
// The sketch heap holds the smallest s (a max-heap, so the largest member is
// on top), candidates holds the rest (a min-heap). Instances expire lazily:
// an entry is stale once its position left the window or its ring tag no
// longer names the heap it sits in.
type slidingSketch struct {
	s int
	w int // ring size: number of k-mer slots per window

	sketch     maxHeap
	candidates minHeap
	nSketch    int // live entries in sketch

	ringPos  []int64 // k-mer position per slot, -1 for empty
	ringTag  []byte
	ringHash []uint64
	ringStr  []byte

	// per-hash run tracking
	nInSketch map[uint64]int
	runStart  map[uint64]int64
	runStrand map[uint64]byte

	out     []MinmerInfo
	lastRun map[uint64]int // index into out of the last emitted run per hash
}

func newSlidingSketch(s, w int) *slidingSketch {
	ss := &slidingSketch{
		s:         s,
		w:         w,
		ringPos:   make([]int64, w),
		ringTag:   make([]byte, w),
		ringHash:  make([]uint64, w),
		ringStr:   make([]byte, w),
		nInSketch: make(map[uint64]int, s<<1),
		runStart:  make(map[uint64]int64, s<<1),
		runStrand: make(map[uint64]byte, s<<1),
		out:       make([]MinmerInfo, 0, 1024),
		lastRun:   make(map[uint64]int, s<<1),
	}
	for i := range ss.ringPos {
		ss.ringPos[i] = -1
	}
	return ss
}

func (ss *slidingSketch) stale(e instance, tag byte, lo int64) bool {
	if e.pos < lo {
		return true
	}
	slot := int(e.pos) % ss.w
	return ss.ringPos[slot] != e.pos || ss.ringTag[slot] != tag
}

func (ss *slidingSketch) purgeSketchTop(lo int64) {
	for len(ss.sketch) > 0 && ss.stale(ss.sketch[0], tagSketch, lo) {
		heap.Pop(&ss.sketch)
	}
}

func (ss *slidingSketch) purgeCandidateTop(lo int64) {
	for len(ss.candidates) > 0 && ss.stale(ss.candidates[0], tagCandidate, lo) {
		heap.Pop(&ss.candidates)
	}
}

func (ss *slidingSketch) enterSketch(hash uint64, strand byte, win int64) {
	ss.nInSketch[hash]++
	if ss.nInSketch[hash] == 1 {
		ss.runStart[hash] = win
		ss.runStrand[hash] = strand
	}
}

func (ss *slidingSketch) leaveSketch(hash uint64, seqID uint32, win int64) {
	ss.nInSketch[hash]--
	if ss.nInSketch[hash] > 0 {
		return
	}
	delete(ss.nInSketch, hash)
	ss.emit(hash, seqID, win)
	delete(ss.runStart, hash)
	delete(ss.runStrand, hash)
}

// emit closes the open run of a hash at window end. A run abutting the
// previous one of the same hash (the hash left and re-entered the sketch in
// one step) extends it in place; zero-length runs are dropped.
func (ss *slidingSketch) emit(hash uint64, seqID uint32, end int64) {
	start := ss.runStart[hash]
	if start >= end {
		return
	}
	if i, ok := ss.lastRun[hash]; ok && ss.out[i].WEnd == start {
		ss.out[i].WEnd = end
		return
	}
	ss.out = append(ss.out, MinmerInfo{
		Hash:   hash,
		WStart: start,
		WEnd:   end,
		SeqID:  seqID,
		Strand: ss.runStrand[hash],
	})
	ss.lastRun[hash] = len(ss.out) - 1
}

// add inserts the k-mer at pos into the window whose lowest k-mer slot is lo;
// win is the current window start position.
func (ss *slidingSketch) add(pos int64, hash uint64, strand byte, seqID uint32, lo, win int64) {
	slot := int(pos) % ss.w
	ss.ringPos[slot] = pos
	ss.ringHash[slot] = hash
	ss.ringStr[slot] = strand

	if ss.nSketch < ss.s {
		ss.ringTag[slot] = tagSketch
		heap.Push(&ss.sketch, instance{hash, pos})
		ss.nSketch++
		ss.enterSketch(hash, strand, win)
		return
	}

	ss.purgeSketchTop(lo)
	if len(ss.sketch) > 0 && hash < ss.sketch[0].hash {
		// evict the current largest sketch member
		ev := heap.Pop(&ss.sketch).(instance)
		evSlot := int(ev.pos) % ss.w
		ss.ringTag[evSlot] = tagCandidate
		heap.Push(&ss.candidates, ev)
		ss.nSketch--
		ss.leaveSketch(ev.hash, seqID, win)

		ss.ringTag[slot] = tagSketch
		heap.Push(&ss.sketch, instance{hash, pos})
		ss.nSketch++
		ss.enterSketch(hash, strand, win)
	} else {
		ss.ringTag[slot] = tagCandidate
		heap.Push(&ss.candidates, instance{hash, pos})
	}
}

// remove expires the k-mer at pos, which is leaving the window.
func (ss *slidingSketch) remove(pos int64, seqID uint32, lo, win int64) {
	slot := int(pos) % ss.w
	if ss.ringPos[slot] != pos {
		return
	}
	tag := ss.ringTag[slot]
	hash := ss.ringHash[slot]
	ss.ringPos[slot] = -1
	ss.ringTag[slot] = tagNone

	if tag != tagSketch {
		return
	}
	ss.nSketch--
	ss.leaveSketch(hash, seqID, win)

	// promote the smallest candidate
	ss.purgeCandidateTop(lo)
	if len(ss.candidates) > 0 {
		pr := heap.Pop(&ss.candidates).(instance)
		prSlot := int(pr.pos) % ss.w
		ss.ringTag[prSlot] = tagSketch
		heap.Push(&ss.sketch, pr)
		ss.nSketch++
		ss.enterSketch(pr.hash, ss.ringStr[prSlot], win)
	}
}

// finish closes all open runs at window end (one past the last window start).
func (ss *slidingSketch) finish(seqID uint32, end int64) []MinmerInfo {
	for hash := range ss.nInSketch {
		ss.emit(hash, seqID, end)
	}
	return ss.out
}

// ExtractMinmers computes the ordered minmer windows of one contig.
//
// The canonical hash of each k-mer is the smaller of the forward and
// reverse-complement hashes; palindromic k-mers and k-mers containing
// non-ACGT bases are skipped. Over every window of w bases (advancing one
// base at a time) the s instances with the smallest hashes form the window
// sketch; a minmer is any hash present in at least one window sketch, and
// one MinmerInfo covers each maximal run of consecutive windows in which it
// stays sketched. Results are sorted by window start.
//
// Runs in O(L log w) time and O(w) working memory per contig.
func ExtractMinmers(s []byte, k, w, sketchSize int, seqID uint32) []MinmerInfo {
	L := len(s)
	if L < w || w < k {
		return nil
	}

	nSlots := w - k + 1
	ss := newSlidingSketch(sketchSize, nSlots)

	var codeBuf [8]byte

	// canonical hash of the k-mer starting at j; ambiguous bases and
	// palindromic k-mers yield no hash
	hashAt := func(j int64) (uint64, byte, bool) {
		kmer := s[j : j+int64(k)]
		for _, b := range kmer {
			switch b {
			case 'A', 'C', 'G', 'T', 'a', 'c', 'g', 't':
			default:
				return 0, 0, false // ambiguous base
			}
		}
		codeF, err := kmers.Encode(kmer)
		if err != nil {
			return 0, 0, false
		}
		codeR := kmers.RevComp(codeF, k)
		if codeF == codeR {
			return 0, 0, false // strand ambiguous
		}
		strand := StrandFwd
		code := codeF
		if codeR < codeF {
			code = codeR
			strand = StrandRev
		}
		binary.LittleEndian.PutUint64(codeBuf[:], code)
		return wyhash.Hash(codeBuf[:], hashSeed), strand, true
	}

	// fill window 0: k-mers at [0, w-k]
	for j := int64(0); j <= int64(w-k); j++ {
		if h, strand, ok := hashAt(j); ok {
			ss.add(j, h, strand, seqID, 0, 0)
		}
	}

	// slide: window p holds k-mers [p, p+w-k]
	lastWin := int64(L - w)
	for p := int64(1); p <= lastWin; p++ {
		ss.remove(p-1, seqID, p, p)
		in := p + int64(w-k)
		if h, strand, ok := hashAt(in); ok {
			ss.add(in, h, strand, seqID, p, p)
		}
	}

	out := ss.finish(seqID, lastWin+1)
	sort.Slice(out, func(i, j int) bool {
		if out[i].WStart == out[j].WStart {
			if out[i].WEnd == out[j].WEnd {
				return out[i].Hash < out[j].Hash
			}
			return out[i].WEnd < out[j].WEnd
		}
		return out[i].WStart < out[j].WStart
	})
	return out
}
