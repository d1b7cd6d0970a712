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

// Package progress provides the progress sink injected into long-running
// stages. Production code uses the mpb-backed Bar; tests use Noop.
package progress

import (
	"os"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// Sink receives completion updates from a pipeline stage.
type Sink interface {
	Increment(n int64)
	Finish()
}

// Noop discards all updates.
type Noop struct{}

func (Noop) Increment(n int64) {}
func (Noop) Finish()           {}

// Bar is a Sink rendering a progress bar on stderr.
type Bar struct {
	pbs *mpb.Progress
	bar *mpb.Bar
}

// NewBar returns a Sink rendering progress towards total with the given
// label prepended.
func NewBar(total int64, label string) *Bar {
	pbs := mpb.New(mpb.WithWidth(40), mpb.WithOutput(os.Stderr))
	bar := pbs.AddBar(total,
		mpb.PrependDecorators(
			decor.Name(label, decor.WC{W: len(label), C: decor.DindentRight}),
			decor.Name("", decor.WCSyncSpaceR),
			decor.CountersNoUnit("%d / %d", decor.WCSyncWidth),
		),
		mpb.AppendDecorators(
			decor.Name("ETA: ", decor.WC{W: len("ETA: ")}),
			decor.EwmaETA(decor.ET_STYLE_GO, 10),
			decor.OnComplete(decor.Name(""), ". done"),
		),
	)
	return &Bar{pbs: pbs, bar: bar}
}

func (b *Bar) Increment(n int64) {
	b.bar.IncrInt64(n)
}

func (b *Bar) Finish() {
	b.bar.SetTotal(-1, true)
	b.pbs.Wait()
}
