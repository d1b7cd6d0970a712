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
	"math"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shenwei356/bio/seq"
	"github.com/shenwei356/util/pathutil"
	"github.com/spf13/cobra"

	"github.com/wavemap/wavemap/wavemap/progress"
	"github.com/wavemap/wavemap/wavemap/sketch"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "build the minmer sketch index of reference sequences",
	Long: `build the minmer sketch index of reference sequences

Attentions:
  1. Input should be (gzipped) FASTA files, directories containing them,
     or a file list via -X/--infile-list.
  2. Sequences shorter than the segment length are skipped.
  3. An existing index file is reused unless --force is given; its
     parameters must match the current ones.

`,
	Run: func(cmd *cobra.Command, args []string) {
		opt := getOptions(cmd)
		seq.ValidateSeq = false

		var fhLog *os.File
		if opt.Log2File {
			fhLog = addLog(opt.LogFile, opt.Verbose)
		}
		outputLog := opt.Verbose || opt.Log2File

		timeStart := time.Now()
		defer func() {
			if outputLog {
				log.Info()
				log.Infof("elapsed time: %s", time.Since(timeStart))
			}
			if opt.Log2File {
				fhLog.Close()
			}
		}()

		// ---------------------------------------------------------------

		kmerSize := getFlagPositiveInt(cmd, "kmer")
		if kmerSize < 3 || kmerSize > 32 {
			checkError(fmt.Errorf("invalid k value: %d, valid range: [3, 32]", kmerSize))
		}
		segLength := getFlagPositiveInt(cmd, "segment-length")
		if segLength < kmerSize {
			checkError(fmt.Errorf("segment length (%d) should be >= k (%d)", segLength, kmerSize))
		}
		sketchSize := getFlagPositiveInt(cmd, "sketch-size")
		alphabetSize := getFlagPositiveInt(cmd, "alphabet-size")
		pctThreshold := getFlagNonNegativeFloat64(cmd, "kmer-pct-threshold")

		indexFile := getFlagString(cmd, "index")
		force := getFlagBool(cmd, "force")
		seedTSV := getFlagString(cmd, "seed-tsv")

		params := sketch.Params{
			SegLength:    uint64(segLength),
			SketchSize:   uint64(sketchSize),
			KmerSize:     uint64(kmerSize),
			AlphabetSize: uint64(alphabetSize),
			PctThreshold: pctThreshold,
		}

		// reuse an existing index unless --force
		if indexFile != "" && !force {
			existed, err := pathutil.Exists(indexFile)
			checkError(err)
			if existed {
				if outputLog {
					log.Infof("reading index: %s", indexFile)
				}
				idx, err := sketch.ReadIndex(indexFile, params)
				checkError(err)
				if outputLog {
					log.Infof("  unique minmer hashes: %d", idx.UniqueHashes())
					log.Infof("  minmer windows: %d", len(idx.Minmers))
				}
				return
			}
		}

		// ---------------------------------------------------------------

		files := getFileListFromArgsAndFile(cmd, args, true, "infile-list", false)
		files = expandDirs(files, opt.NumCPUs)
		if outputLog {
			log.Infof("%d input file(s) given", len(files))
			log.Info("building index ...")
		}

		var sink progress.Sink = progress.Noop{}
		if opt.Verbose && !opt.Log2File {
			sink = progress.NewBar(0, "indexed contigs: ")
		}

		idx := sketch.New(params)
		err := idx.BuildFromFiles(files, opt.NumCPUs, sink)
		sink.Finish()
		checkError(err)

		for _, ci := range idx.SkippedSeqs {
			log.Warningf("skipping short sequence: %s (length: %d)", ci.Name, ci.Length)
		}

		if len(idx.Minmers) == 0 {
			log.Error("reference sketch is empty. Reference sequences shorter than the segment length are not indexed")
			os.Exit(1)
		}

		if outputLog {
			log.Infof("total sequences processed: %d", idx.Stats.Processed)
			log.Infof("total sequences skipped: %d", idx.Stats.Skipped)
			log.Infof("shortest sequence length: %d", idx.Stats.Shortest)
			log.Infof("unique minmer hashes before pruning: %d", len(idx.Positions))
			log.Infof("total minmer windows before pruning: %d", len(idx.Minmers))
		}

		idx.ComputeFreqHist()
		idx.ComputeFreqSeedSet()
		idx.DropFreqSeedSet()

		if outputLog {
			if idx.FreqThreshold != math.MaxUint64 {
				log.Infof("with threshold %v%%, ignoring minmers with >= %d windows during mapping",
					params.PctThreshold, idx.FreqThreshold)
			} else {
				log.Infof("with threshold %v%%, considering all minmers during mapping",
					params.PctThreshold)
			}
			log.Infof("unique minmer hashes after pruning: %d", idx.UniqueHashes())
			log.Infof("total minmer windows after pruning: %d", len(idx.Minmers))
			log.Infof("metadata size: %d", len(idx.Metadata))
			mean, stdev := idx.WindowSpanStats()
			log.Infof("minmer window span: mean %.1f, stdev %.1f", mean, stdev)
		}

		if seedTSV != "" {
			outfh, gw, w, err := outStream(seedTSV, strings.HasSuffix(seedTSV, ".gz"), opt.CompressionLevel)
			checkError(err)
			checkError(idx.WriteSeedTSV(outfh))
			outfh.Flush()
			if gw != nil {
				gw.Close()
			}
			w.Close()
			if outputLog {
				log.Infof("seed TSV saved to: %s", seedTSV)
			}
		}

		if indexFile != "" {
			checkError(errors.Wrap(idx.WriteIndex(indexFile), indexFile))
			if outputLog {
				log.Infof("index saved to: %s", indexFile)
			}
		}
	},
}

func init() {
	RootCmd.AddCommand(indexCmd)

	indexCmd.Flags().StringP("index", "d", "",
		formatFlagUsage(`Output index file. An existing one is reused unless --force is given.`))

	indexCmd.Flags().BoolP("force", "", false,
		formatFlagUsage(`Overwrite an existing index file.`))

	indexCmd.Flags().StringP("infile-list", "X", "",
		formatFlagUsage(`A file listing input files, one per line.`))

	indexCmd.Flags().IntP("kmer", "k", 19,
		formatFlagUsage(`K-mer size, valid range: [3, 32].`))

	indexCmd.Flags().IntP("segment-length", "w", 5000,
		formatFlagUsage(`Segment (window) length in bases.`))

	indexCmd.Flags().IntP("sketch-size", "s", 25,
		formatFlagUsage(`Number of smallest hashes kept per window.`))

	indexCmd.Flags().IntP("alphabet-size", "", 4,
		formatFlagUsage(`Alphabet size of the input sequences.`))

	indexCmd.Flags().Float64P("kmer-pct-threshold", "", 0.001,
		formatFlagUsage(`Percentage of most frequent minmer hashes to prune.`))

	indexCmd.Flags().StringP("seed-tsv", "", "",
		formatFlagUsage(`Dump all minmer windows as TSV to this file.`))

	indexCmd.SetUsageTemplate(usageTemplate("[-k <k>] [-w <segment length>] [-s <sketch size>] [-d <index file>] <ref.fasta> [...]"))
}
