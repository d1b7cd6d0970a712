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
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/rdleal/intervalst/interval"
	"github.com/spf13/cobra"

	"github.com/wavemap/wavemap/wavemap/sketch"
)

var seedsCmd = &cobra.Command{
	Use:   "seeds",
	Short: "list minmer windows overlapping a region",
	Long: `list minmer windows overlapping a region

Attention:
  1. The region positions are 0-based and refer to the sequence with the
     given sequence id.
  2. The index parameters must match the ones the index was built with.

`,
	Run: func(cmd *cobra.Command, args []string) {
		opt := getOptions(cmd)

		seqID := getFlagNonNegativeInt(cmd, "seq-id")
		region := getFlagString(cmd, "region")
		if region == "" {
			checkError(fmt.Errorf("flag -r/--region needed"))
		}
		var reRegion = regexp.MustCompile(`^\d+:\d+$`)
		if !reRegion.MatchString(region) {
			checkError(fmt.Errorf("invalid region: %s, expected start:end", region))
		}
		r := strings.Split(region, ":")
		start, err := strconv.ParseInt(r[0], 10, 64)
		checkError(err)
		end, err := strconv.ParseInt(r[1], 10, 64)
		checkError(err)
		if start >= end {
			checkError(fmt.Errorf("begin position should be < end position"))
		}

		outFile := getFlagString(cmd, "out-file")

		idx := readIndexFromFlags(cmd)

		// ---------------------------------------------------------------

		cmpInt64 := func(x, y int64) int {
			if x < y {
				return -1
			}
			if x > y {
				return 1
			}
			return 0
		}
		st := interval.NewMultiValueSearchTree[sketch.MinmerInfo, int64](cmpInt64)
		var n int
		for _, mi := range idx.Minmers {
			if mi.SeqID != uint32(seqID) {
				continue
			}
			st.Insert(mi.WStart, mi.WEnd, mi)
			n++
		}
		if n == 0 {
			log.Warningf("no minmer windows on sequence id %d", seqID)
		}

		outfh, gw, w, err := outStream(outFile, strings.HasSuffix(outFile, ".gz"), opt.CompressionLevel)
		checkError(err)
		defer func() {
			outfh.Flush()
			if gw != nil {
				gw.Close()
			}
			w.Close()
		}()

		fmt.Fprintln(outfh, "seqId\tstrand\tstart\tend\thash\tfrequent")

		hits, ok := st.AllIntersections(start, end)
		if !ok {
			return
		}
		sort.Slice(hits, func(i, j int) bool {
			if hits[i].WStart == hits[j].WStart {
				return hits[i].Hash < hits[j].Hash
			}
			return hits[i].WStart < hits[j].WStart
		})
		for _, mi := range hits {
			fmt.Fprintf(outfh, "%d\t%c\t%d\t%d\t%d\t%t\n",
				mi.SeqID, mi.Strand, mi.WStart, mi.WEnd, mi.Hash, idx.IsFreqSeed(mi.Hash))
		}
	},
}

func init() {
	utilsCmd.AddCommand(seedsCmd)

	addSketchParamFlags(seedsCmd)

	seedsCmd.Flags().IntP("seq-id", "", 0,
		formatFlagUsage(`Sequence id (the dense id assigned at indexing time).`))

	seedsCmd.Flags().StringP("region", "r", "",
		formatFlagUsage(`Region of interest (0-based), e.g. 1000:2000.`))

	seedsCmd.Flags().StringP("out-file", "o", "-",
		formatFlagUsage(`Out file, supports a ".gz" suffix ("-" for stdout).`))

	seedsCmd.SetUsageTemplate(usageTemplate("-d <index file> --seq-id <id> -r <start:end>"))
}
