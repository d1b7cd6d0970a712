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

// Package sketch builds and serves the positional minmer index of a set of
// reference sequences.
package sketch

import (
	"io"
	"math"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/shenwei356/bio/seqio/fastx"
	"gonum.org/v1/gonum/stat"

	"github.com/wavemap/wavemap/wavemap/progress"
)

// SideOpen and SideClose mark the two endpoints of a minmer window run.
const (
	SideOpen  byte = 0
	SideClose byte = 1
)

// IntervalPoint is one endpoint of a minmer window run. Per hash, the
// position index stores an ordered sequence of these, alternating
// OPEN, CLOSE, OPEN, CLOSE ...
type IntervalPoint struct {
	Pos   int64
	Hash  uint64
	SeqID uint32
	Side  byte
}

// Params are the sketching parameters. SegLength, SketchSize and KmerSize
// are persisted in the index file and verified on load.
type Params struct {
	SegLength    uint64
	SketchSize   uint64
	KmerSize     uint64
	AlphabetSize uint64
	PctThreshold float64
}

// ContigInfo keeps the name and length of one indexed contig.
type ContigInfo struct {
	Name   string
	Length int64
}

// BuildStats summarizes one build run.
type BuildStats struct {
	Processed int
	Skipped   int
	Shortest  int64
}

// Index is the positional minmer index. It is built once, pruned once,
// optionally persisted, then read-only.
type Index struct {
	Params Params

	// hash -> ordered interval points (genome order within a sequence)
	Positions map[uint64][]IntervalPoint
	// all minmer windows, genome order per sequence, sequences in input order
	Minmers []MinmerInfo

	// run count -> number of hashes with that many runs
	FreqHist map[uint64]uint64
	// hashes at or above FreqThreshold, excluded from mapping
	FrequentSeeds map[uint64]struct{}
	FreqThreshold uint64

	Metadata   []ContigInfo
	SeqsByFile []int

	// contigs shorter than the segment length, skipped during build
	SkippedSeqs []ContigInfo

	Stats BuildStats

	ids      *SeqIDManager
	hashFreq map[uint64]uint64
}

// New returns an empty index for the given parameters.
func New(params Params) *Index {
	return &Index{
		Params:        params,
		Positions:     make(map[uint64][]IntervalPoint, 1<<16),
		Minmers:       make([]MinmerInfo, 0, 1<<16),
		FreqHist:      make(map[uint64]uint64, 128),
		FrequentSeeds: make(map[uint64]struct{}, 128),
		FreqThreshold: math.MaxUint64,
		Metadata:      make([]ContigInfo, 0, 128),
		SeqsByFile:    make([]int, 0, 8),
		ids:           NewSeqIDManager(),
		hashFreq:      make(map[uint64]uint64, 1<<16),
	}
}

// IDs returns the sequence-id manager of the index.
func (idx *Index) IDs() *SeqIDManager {
	return idx.ids
}

var canonicalBase [256]byte

func init() {
	for i := range canonicalBase {
		canonicalBase[i] = 'N'
	}
	canonicalBase['A'], canonicalBase['C'], canonicalBase['G'], canonicalBase['T'] = 'A', 'C', 'G', 'T'
	canonicalBase['a'], canonicalBase['c'], canonicalBase['g'], canonicalBase['t'] = 'A', 'C', 'G', 'T'
}

type contigJob struct {
	seqID uint32
	seq   []byte
}

type contigResult struct {
	seqID   uint32
	minmers []MinmerInfo
}

// BuildFromFiles sketches all contigs of the given FASTA files into the
// index. Contigs are processed in parallel; results are merged in sequence
// order. Contigs shorter than the segment length are skipped and recorded
// in SkippedSeqs; they consume no sequence id. The sink is incremented once
// per contig.
func (idx *Index) BuildFromFiles(files []string, threads int, sink progress.Sink) error {
	if threads < 1 {
		threads = 1
	}
	if sink == nil {
		sink = progress.Noop{}
	}

	k := int(idx.Params.KmerSize)
	w := int(idx.Params.SegLength)
	s := int(idx.Params.SketchSize)

	jobs := make(chan *contigJob, threads)
	results := make(chan *contigResult, threads)
	var wg sync.WaitGroup
	for i := 0; i < threads; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				results <- &contigResult{
					seqID:   job.seqID,
					minmers: ExtractMinmers(job.seq, k, w, s, job.seqID),
				}
			}
		}()
	}

	// accumulator: merge per-contig outputs in sequence-id order
	done := make(chan int)
	go func() {
		pending := make(map[uint32][]MinmerInfo, threads)
		var next uint32
		for r := range results {
			pending[r.seqID] = r.minmers
			for {
				mis, ok := pending[next]
				if !ok {
					break
				}
				idx.merge(mis)
				delete(pending, next)
				next++
				sink.Increment(1)
			}
		}
		done <- 1
	}()

	idx.Stats.Shortest = math.MaxInt64

	var err error
	var record *fastx.Record
	for _, file := range files {
		var reader *fastx.Reader
		reader, err = fastx.NewReader(nil, file, "")
		if err != nil {
			err = errors.Wrap(err, file)
			break
		}

		for {
			record, err = reader.Read()
			if err != nil {
				if err == io.EOF {
					err = nil
					break
				}
				err = errors.Wrap(err, file)
				break
			}

			name := string(record.ID)
			length := int64(len(record.Seq.Seq))
			if length < int64(idx.Params.SegLength) {
				idx.SkippedSeqs = append(idx.SkippedSeqs, ContigInfo{name, length})
				idx.Stats.Skipped++
				continue
			}

			seqID := idx.ids.AddSequence(name)
			idx.Metadata = append(idx.Metadata, ContigInfo{name, length})
			idx.Stats.Processed++
			if length < idx.Stats.Shortest {
				idx.Stats.Shortest = length
			}

			// fastx reuses its buffers, and hashing requires canonical
			// upper-case bases, so copy through the base table
			cp := make([]byte, len(record.Seq.Seq))
			for i, b := range record.Seq.Seq {
				cp[i] = canonicalBase[b]
			}

			jobs <- &contigJob{seqID: seqID, seq: cp}
		}
		reader.Close()
		if err != nil {
			break
		}

		idx.SeqsByFile = append(idx.SeqsByFile, len(idx.Metadata))
	}

	close(jobs)
	wg.Wait()
	close(results)
	<-done

	if idx.Stats.Processed == 0 {
		idx.Stats.Shortest = 0
	}
	return err
}

// merge folds one contig's minmers into the global index. If a run of the
// same hash on the same sequence starts where the previous one ended, the
// previous CLOSE is extended in place instead of opening a new pair.
func (idx *Index) merge(mis []MinmerInfo) {
	for i := range mis {
		mi := &mis[i]
		idx.hashFreq[mi.Hash]++

		pts := idx.Positions[mi.Hash]
		n := len(pts)
		if n == 0 || pts[n-1].Pos != mi.WStart || pts[n-1].SeqID != mi.SeqID {
			idx.Positions[mi.Hash] = append(pts,
				IntervalPoint{Pos: mi.WStart, Hash: mi.Hash, SeqID: mi.SeqID, Side: SideOpen},
				IntervalPoint{Pos: mi.WEnd, Hash: mi.Hash, SeqID: mi.SeqID, Side: SideClose},
			)
		} else {
			pts[n-1].Pos = mi.WEnd
		}
	}
	idx.Minmers = append(idx.Minmers, mis...)
}

// ComputeFreqHist builds the frequency histogram over per-hash run counts
// and determines the threshold at or above which a hash is frequent: the
// smallest count such that the number of hashes from the highest count
// downward does not exceed the configured percentage of all unique hashes.
// When the highest count alone exceeds it, the threshold stays infinite.
func (idx *Index) ComputeFreqHist() {
	if len(idx.Positions) == 0 {
		return
	}

	for _, pts := range idx.Positions {
		idx.FreqHist[uint64(len(pts)/2)]++
	}

	totalUnique := int64(len(idx.Positions))
	toIgnore := int64(float64(totalUnique) * idx.Params.PctThreshold / 100)

	counts := make([]uint64, 0, len(idx.FreqHist))
	for c := range idx.FreqHist {
		counts = append(counts, c)
	}
	sort.Slice(counts, func(i, j int) bool { return counts[i] > counts[j] })

	var sum int64
	for _, c := range counts {
		sum += int64(idx.FreqHist[c])
		if sum < toIgnore {
			idx.FreqThreshold = c
		} else if sum == toIgnore {
			idx.FreqThreshold = c
			break
		} else {
			break
		}
	}
}

// ComputeFreqSeedSet marks all hashes with run count at or above the
// threshold as frequent.
func (idx *Index) ComputeFreqSeedSet() {
	for h, pts := range idx.Positions {
		if uint64(len(pts)/2) >= idx.FreqThreshold {
			idx.FrequentSeeds[h] = struct{}{}
		}
	}
}

// DropFreqSeedSet removes all minmer windows whose hash is frequent. The
// position index is retained; lookups filter frequent hashes on read.
func (idx *Index) DropFreqSeedSet() {
	if len(idx.FrequentSeeds) == 0 {
		idx.hashFreq = nil
		return
	}
	kept := idx.Minmers[:0]
	for _, mi := range idx.Minmers {
		if _, frequent := idx.FrequentSeeds[mi.Hash]; !frequent {
			kept = append(kept, mi)
		}
	}
	idx.Minmers = kept
	idx.hashFreq = nil
}

// IntervalPoints returns the interval points of a hash, or nil if the hash
// is unknown or frequent.
func (idx *Index) IntervalPoints(hash uint64) []IntervalPoint {
	if _, frequent := idx.FrequentSeeds[hash]; frequent {
		return nil
	}
	return idx.Positions[hash]
}

// IsFreqSeed reports whether a hash is in the frequent-seed set.
func (idx *Index) IsFreqSeed(hash uint64) bool {
	_, frequent := idx.FrequentSeeds[hash]
	return frequent
}

// UniqueHashes returns the number of distinct hashes excluding frequent ones.
func (idx *Index) UniqueHashes() int {
	return len(idx.Positions) - len(idx.FrequentSeeds)
}

// WindowSpanStats returns mean and standard deviation of minmer window spans.
func (idx *Index) WindowSpanStats() (float64, float64) {
	if len(idx.Minmers) == 0 {
		return 0, 0
	}
	spans := make([]float64, len(idx.Minmers))
	for i, mi := range idx.Minmers {
		spans[i] = float64(mi.WEnd - mi.WStart)
	}
	return stat.MeanStdDev(spans, nil)
}
