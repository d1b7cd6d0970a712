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

package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

var freqHistCmd = &cobra.Command{
	Use:   "freq-hist",
	Short: "plot the minmer frequency histogram of an index",
	Long: `plot the minmer frequency histogram of an index

The histogram counts hashes by their number of window runs. The output
format is decided by the extension of the output file (.png, .pdf, .svg).

`,
	Run: func(cmd *cobra.Command, args []string) {
		getOptions(cmd)

		outFile := getFlagString(cmd, "out-file")
		if outFile == "" || outFile == "-" {
			checkError(fmt.Errorf("flag -o/--out-file needed"))
		}

		idx := readIndexFromFlags(cmd)
		idx.ComputeFreqHist()
		if len(idx.FreqHist) == 0 {
			checkError(fmt.Errorf("empty index: nothing to plot"))
		}

		counts := make([]uint64, 0, len(idx.FreqHist))
		for c := range idx.FreqHist {
			counts = append(counts, c)
		}
		sort.Slice(counts, func(i, j int) bool { return counts[i] < counts[j] })

		xys := make(plotter.XYs, len(counts))
		for i, c := range counts {
			xys[i].X = float64(c)
			xys[i].Y = float64(idx.FreqHist[c])
		}

		p := plot.New()
		p.Title.Text = "minmer frequency histogram"
		p.X.Label.Text = "window runs per hash"
		p.Y.Label.Text = "hashes"

		line, err := plotter.NewLine(xys)
		checkError(err)
		p.Add(line, plotter.NewGrid())

		checkError(p.Save(6*vg.Inch, 4*vg.Inch, outFile))
	},
}

func init() {
	utilsCmd.AddCommand(freqHistCmd)

	addSketchParamFlags(freqHistCmd)

	freqHistCmd.Flags().StringP("out-file", "o", "",
		formatFlagUsage(`Output image file (.png, .pdf, .svg).`))

	freqHistCmd.SetUsageTemplate(usageTemplate("-d <index file> -o hist.png"))
}
