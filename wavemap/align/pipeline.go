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
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/shenwei356/go-logging"
	"github.com/shenwei356/xopen"

	"github.com/wavemap/wavemap/wavemap/progress"
	"github.com/wavemap/wavemap/wavemap/seqstore"
)

var log = logging.MustGetLogger("wavemap")

// QueueCapacity bounds every pipeline queue; producers block when a queue
// is full, which backpressures the reader.
const QueueCapacity = 2 << 16

// backoff is the sleep on an empty queue.
const backoff = 100 * time.Microsecond

// Parameters configures the alignment pipeline.
type Parameters struct {
	Threads int

	RefFasta    string
	QueryFasta  string
	MappingFile string

	// main wavefront penalties
	WfaMismatch uint32
	WfaGapOpen  uint32
	WfaGapExt   uint32

	// patching wavefront penalties. The wavefront kernel implements
	// single-piece gap-affine scoring; second-piece gap values are not
	// used by either aligner.
	PatchMismatch uint32
	PatchGapOpen  uint32
	PatchGapExt   uint32

	MinIdentity float64 // percentage, records below are dropped

	MaxLenMajor        int64
	MaxLenMinor        int64
	ErodeK             int
	MinWavefrontLength int
	MaxDistThreshold   int
	MaxMashDist        float64
	MaxPatchingScore   uint64
	ChainGap           int64

	SamFormat  bool
	EmitMDTag  bool
	NoSeqInSam bool
	Split      bool

	TSVPrefix       string
	EmitPatchingTSV bool
}

// seqRecord is the envelope moving one mapping record from the reader to a
// worker. Ownership transfers on enqueue.
type seqRecord struct {
	rec  MappingRecord
	line string
}

var poolSeqRecord = &sync.Pool{New: func() interface{} {
	return &seqRecord{}
}}

// Pipeline connects one reader, N workers and one writer per enabled
// output stream through bounded queues.
type Pipeline struct {
	param   *Parameters
	refs    *seqstore.Store
	queries *seqstore.Store

	pafOut      io.Writer
	patchingOut io.Writer
	sink        progress.Sink

	seqQueue      chan *seqRecord
	pafQueue      chan *string
	tsvQueue      chan *string
	patchingQueue chan *string

	readerDone atomic.Bool
	working    []atomic.Bool

	errMu sync.Mutex
	err   error
}

// NewPipeline assembles a pipeline over opened sequence stores. pafOut
// receives the PAF/SAM stream; patchingOut (may be nil) receives the
// patching-info TSV stream; per-alignment TSV files are created from
// param.TSVPrefix.
func NewPipeline(param *Parameters, refs, queries *seqstore.Store,
	pafOut, patchingOut io.Writer, sink progress.Sink) *Pipeline {
	if sink == nil {
		sink = progress.Noop{}
	}
	if patchingOut == nil {
		param.EmitPatchingTSV = false
	}
	return &Pipeline{
		param:       param,
		refs:        refs,
		queries:     queries,
		pafOut:      pafOut,
		patchingOut: patchingOut,
		sink:        sink,

		seqQueue:      make(chan *seqRecord, QueueCapacity),
		pafQueue:      make(chan *string, QueueCapacity),
		tsvQueue:      make(chan *string, QueueCapacity),
		patchingQueue: make(chan *string, QueueCapacity),

		working: make([]atomic.Bool, param.Threads),
	}
}

func (p *Pipeline) fail(err error) {
	p.errMu.Lock()
	if p.err == nil {
		p.err = err
	}
	p.errMu.Unlock()
}

// TotalAlignmentLength pre-scans a mapping file and returns the summed
// query span and the number of records, for sizing the progress meter.
func TotalAlignmentLength(file string) (int64, int, error) {
	fh, err := xopen.Ropen(file)
	if err != nil {
		return 0, 0, errors.Wrap(err, file)
	}
	defer fh.Close()

	var total int64
	var n int
	var rec MappingRecord
	scanner := bufio.NewScanner(fh)
	scanner.Buffer(make([]byte, 0, 1<<20), 1<<27)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if err = ParseMappingRecord(line, &rec); err != nil {
			return 0, 0, err
		}
		total += rec.QEnd - rec.QStart
		n++
	}
	return total, n, scanner.Err()
}

// Compute runs the pipeline to completion: the reader drains the mapping
// file, workers drain the record queue, writers drain the output queues.
// Output order is arrival order.
func (p *Pipeline) Compute() error {
	nWorkers := p.param.Threads
	if nWorkers < 1 {
		nWorkers = 1
		p.working = make([]atomic.Bool, 1)
	}

	for i := range p.working {
		p.working[i].Store(true)
	}

	go p.runReader()

	writersDone := make(chan int, 3)
	nWriters := 1
	go p.runStreamWriter(p.pafQueue, p.pafOut, writersDone)
	if p.param.TSVPrefix != "" {
		nWriters++
		go p.runTSVWriter(writersDone)
	}
	if p.param.EmitPatchingTSV && p.patchingOut != nil {
		nWriters++
		go p.runStreamWriter(p.patchingQueue, p.patchingOut, writersDone)
	}

	var wg sync.WaitGroup
	for t := 0; t < nWorkers; t++ {
		wg.Add(1)
		go func(tid int) {
			defer wg.Done()
			p.runWorker(tid)
		}(t)
	}

	wg.Wait()
	for i := 0; i < nWriters; i++ {
		<-writersDone
	}
	p.sink.Finish()

	return p.err
}

// runReader parses mapping rows and enqueues envelopes. A parse error is
// fatal for the run: the reader stops and workers drain what was queued.
func (p *Pipeline) runReader() {
	defer p.readerDone.Store(true)

	fh, err := xopen.Ropen(p.param.MappingFile)
	if err != nil {
		p.fail(errors.Wrap(err, p.param.MappingFile))
		return
	}
	defer fh.Close()

	ranks := make(map[string]int, 1024)

	scanner := bufio.NewScanner(fh)
	scanner.Buffer(make([]byte, 0, 1<<20), 1<<27)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		r := poolSeqRecord.Get().(*seqRecord)
		if err = ParseMappingRecord(line, &r.rec); err != nil {
			poolSeqRecord.Put(r)
			p.fail(err)
			return
		}
		r.rec.Rank = ranks[r.rec.QueryID]
		ranks[r.rec.QueryID]++
		r.line = line
		p.seqQueue <- r
	}
	if err = scanner.Err(); err != nil {
		p.fail(errors.Wrap(err, p.param.MappingFile))
	}
}

// runWorker drains the record queue with worker-local kernel state and
// sequence-store handle tid.
func (p *Pipeline) runWorker(tid int) {
	defer p.working[tid].Store(false)

	aligner := NewAligner(p.param, p.refs, p.queries, tid)
	defer aligner.Close()

	for {
		var r *seqRecord
		select {
		case r = <-p.seqQueue:
		default:
		}
		if r == nil {
			if p.readerDone.Load() {
				return
			}
			time.Sleep(backoff)
			continue
		}

		res, err := aligner.Align(&r.rec)
		p.sink.Increment(r.rec.QEnd - r.rec.QStart)
		if err != nil {
			log.Errorf("skipping mapping record: %s: %s", err, r.line)
			poolSeqRecord.Put(r)
			continue
		}

		if res.Out != "" {
			s := res.Out
			p.pafQueue <- &s
		}
		if res.TSV != "" {
			s := res.TSV
			p.tsvQueue <- &s
		}
		if res.Patching != "" {
			s := res.Patching
			p.patchingQueue <- &s
		}
		poolSeqRecord.Put(r)
	}
}

func (p *Pipeline) stillWorking() bool {
	for i := range p.working {
		if p.working[i].Load() {
			return true
		}
	}
	return false
}

// runStreamWriter appends queued records to one output stream in arrival
// order. It exits when the queue is empty and no worker is running. After a
// write error it keeps draining so workers never block on a full queue.
func (p *Pipeline) runStreamWriter(q chan *string, w io.Writer, done chan int) {
	var failed bool
	for {
		var s *string
		select {
		case s = <-q:
		default:
		}
		if s == nil {
			if !p.stillWorking() && len(q) == 0 {
				break
			}
			time.Sleep(backoff)
			continue
		}
		if failed {
			continue
		}
		if _, err := io.WriteString(w, *s); err != nil {
			p.fail(err)
			failed = true
		}
	}
	done <- 1
}

// runTSVWriter writes one file per alignment, numbered in arrival order.
func (p *Pipeline) runTSVWriter(done chan int) {
	var n uint64
	var failed bool
	for {
		var s *string
		select {
		case s = <-p.tsvQueue:
		default:
		}
		if s == nil {
			if !p.stillWorking() && len(p.tsvQueue) == 0 {
				break
			}
			time.Sleep(backoff)
			continue
		}
		if failed {
			continue
		}
		file := fmt.Sprintf("%s%d.tsv", p.param.TSVPrefix, n)
		n++
		if err := p.writeTSVFile(file, *s); err != nil {
			p.fail(err)
			failed = true
		}
	}
	done <- 1
}

func (p *Pipeline) writeTSVFile(file, content string) error {
	fh, err := os.Create(file)
	if err != nil {
		return err
	}
	if _, err = io.WriteString(fh, content); err != nil {
		fh.Close()
		return err
	}
	return fh.Close()
}
