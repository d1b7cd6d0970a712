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

	"github.com/spf13/cobra"

	"github.com/wavemap/wavemap/wavemap/sketch"
)

// utilsCmd represents the utils command group
var utilsCmd = &cobra.Command{
	Use:   "utils",
	Short: "miscellaneous index utilities",
	Long:  `miscellaneous index utilities`,
}

func init() {
	RootCmd.AddCommand(utilsCmd)
}

// addSketchParamFlags registers the sketch parameter flags shared by index
// readers; persisted parameters are verified against these on load.
func addSketchParamFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("index", "d", "",
		formatFlagUsage(`Index file created by "wavemap index".`))
	cmd.Flags().IntP("kmer", "k", 19,
		formatFlagUsage(`K-mer size the index was built with.`))
	cmd.Flags().IntP("segment-length", "w", 5000,
		formatFlagUsage(`Segment (window) length the index was built with.`))
	cmd.Flags().IntP("sketch-size", "s", 25,
		formatFlagUsage(`Sketch size the index was built with.`))
}

// readIndexFromFlags loads and verifies an index per the shared flags.
func readIndexFromFlags(cmd *cobra.Command) *sketch.Index {
	indexFile := getFlagString(cmd, "index")
	if indexFile == "" {
		checkError(fmt.Errorf("flag -d/--index needed"))
	}
	params := sketch.Params{
		SegLength:  uint64(getFlagPositiveInt(cmd, "segment-length")),
		SketchSize: uint64(getFlagPositiveInt(cmd, "sketch-size")),
		KmerSize:   uint64(getFlagPositiveInt(cmd, "kmer")),
	}
	idx, err := sketch.ReadIndex(indexFile, params)
	checkError(err)
	return idx
}
