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
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/pelletier/go-toml/v2"
	"github.com/shenwei356/bio/seq"
	"github.com/spf13/cobra"

	"github.com/wavemap/wavemap/wavemap/align"
	"github.com/wavemap/wavemap/wavemap/progress"
	"github.com/wavemap/wavemap/wavemap/seqstore"
)

var alignCmd = &cobra.Command{
	Use:   "align",
	Short: "compute base-level alignments from upstream mapping records",
	Long: `compute base-level alignments from upstream mapping records

Attentions:
  1. The reference and query FASTA files must be indexed (.fai).
  2. Mapping records are PAF-like rows produced by the mapping stage.
  3. Output order is arrival order, not input order.

Scoring defaults can be put into a TOML file (-c/--config, default
~/.wavemap.toml); explicit flags win over the file.

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

		if len(args) != 2 {
			checkError(fmt.Errorf("exactly two positional arguments expected: <ref.fasta> <query.fasta>"))
		}
		refFasta, queryFasta := args[0], args[1]

		mappingFile := getFlagString(cmd, "input")
		if mappingFile == "" {
			checkError(fmt.Errorf("flag -i/--input needed"))
		}
		outFile := getFlagString(cmd, "out-file")

		applyScoringConfig(cmd)

		param := &align.Parameters{
			Threads: opt.NumCPUs,

			RefFasta:    refFasta,
			QueryFasta:  queryFasta,
			MappingFile: mappingFile,

			WfaMismatch: uint32(getFlagNonNegativeInt(cmd, "wfa-mismatch")),
			WfaGapOpen:  uint32(getFlagNonNegativeInt(cmd, "wfa-gap-open1")),
			WfaGapExt:   uint32(getFlagNonNegativeInt(cmd, "wfa-gap-extend1")),

			PatchMismatch: uint32(getFlagNonNegativeInt(cmd, "wfa-patching-mismatch")),
			PatchGapOpen:  uint32(getFlagNonNegativeInt(cmd, "wfa-patching-gap-open1")),
			PatchGapExt:   uint32(getFlagNonNegativeInt(cmd, "wfa-patching-gap-extend1")),

			MinIdentity: getFlagNonNegativeFloat64(cmd, "min-identity"),

			MaxLenMajor:        getFlagPositiveInt64(cmd, "max-len-major"),
			MaxLenMinor:        getFlagPositiveInt64(cmd, "max-len-minor"),
			ErodeK:             getFlagNonNegativeInt(cmd, "erode-k"),
			MinWavefrontLength: getFlagNonNegativeInt(cmd, "min-wavefront-length"),
			MaxDistThreshold:   getFlagNonNegativeInt(cmd, "max-distance-threshold"),
			MaxMashDist:        getFlagNonNegativeFloat64(cmd, "max-mash-dist"),
			MaxPatchingScore:   uint64(getFlagNonNegativeInt(cmd, "max-patching-score")),
			ChainGap:           getFlagPositiveInt64(cmd, "chain-gap"),

			SamFormat:  getFlagBool(cmd, "sam-format"),
			EmitMDTag:  getFlagBool(cmd, "emit-md-tag"),
			NoSeqInSam: getFlagBool(cmd, "no-seq-in-sam"),
			Split:      getFlagBool(cmd, "split"),

			TSVPrefix: getFlagString(cmd, "tsv-prefix"),
		}
		patchingTSV := getFlagString(cmd, "patching-tsv")
		param.EmitPatchingTSV = patchingTSV != ""

		// the second gap tier is accepted for compatibility with two-piece
		// gap-affine aligners; the wavefront kernel here is single-piece
		_ = getFlagNonNegativeInt(cmd, "wfa-gap-open2")
		_ = getFlagNonNegativeInt(cmd, "wfa-gap-extend2")
		_ = getFlagNonNegativeInt(cmd, "wfa-patching-gap-open2")
		_ = getFlagNonNegativeInt(cmd, "wfa-patching-gap-extend2")

		// ---------------------------------------------------------------

		if outputLog {
			log.Infof("wavemap v%s", VERSION)
			log.Info("pre-scanning mapping records ...")
		}
		totalLen, nRecords, err := align.TotalAlignmentLength(mappingFile)
		checkError(err)
		if outputLog {
			log.Infof("  %d mapping records, %d bp to align", nRecords, totalLen)
		}

		refs, err := seqstore.New(refFasta, opt.NumCPUs)
		checkError(err)
		defer refs.Close()
		queries, err := seqstore.New(queryFasta, opt.NumCPUs)
		checkError(err)
		defer queries.Close()

		outfh, gw, w, err := outStream(outFile, strings.HasSuffix(outFile, ".gz"), opt.CompressionLevel)
		checkError(err)
		defer func() {
			outfh.Flush()
			if gw != nil {
				gw.Close()
			}
			w.Close()
		}()

		var patchingOut *os.File
		if patchingTSV != "" {
			patchingOut, err = os.Create(patchingTSV)
			checkError(err)
			defer patchingOut.Close()
		}

		var sink progress.Sink = progress.Noop{}
		if opt.Verbose && !opt.Log2File {
			sink = progress.NewBar(totalLen, "aligned bp: ")
		}

		var patching io.Writer
		if patchingOut != nil {
			patching = patchingOut
		}
		p := align.NewPipeline(param, refs, queries, outfh, patching, sink)
		checkError(p.Compute())

		if outputLog {
			log.Infof("count of mapped records: %d, total aligned bp: %d", nRecords, totalLen)
			if outFile != "-" {
				log.Infof("alignments saved to: %s", outFile)
			}
		}
	},
}

// scoringConfig mirrors the scoring flags in the optional TOML defaults
// file.
type scoringConfig struct {
	WfaMismatch   *int `toml:"wfa-mismatch"`
	WfaGapOpen1   *int `toml:"wfa-gap-open1"`
	WfaGapExtend1 *int `toml:"wfa-gap-extend1"`
	WfaGapOpen2   *int `toml:"wfa-gap-open2"`
	WfaGapExtend2 *int `toml:"wfa-gap-extend2"`

	PatchingMismatch   *int `toml:"wfa-patching-mismatch"`
	PatchingGapOpen1   *int `toml:"wfa-patching-gap-open1"`
	PatchingGapExtend1 *int `toml:"wfa-patching-gap-extend1"`
	PatchingGapOpen2   *int `toml:"wfa-patching-gap-open2"`
	PatchingGapExtend2 *int `toml:"wfa-patching-gap-extend2"`
}

// applyScoringConfig folds values from the TOML defaults file into flags
// the user did not set explicitly.
func applyScoringConfig(cmd *cobra.Command) {
	file := getFlagString(cmd, "config")
	if file == "" {
		home, err := homedir.Dir()
		if err != nil {
			return
		}
		file = filepath.Join(home, ".wavemap.toml")
		if _, err = os.Stat(file); err != nil {
			return
		}
	}

	data, err := os.ReadFile(file)
	checkError(err)
	var cfg scoringConfig
	checkError(toml.Unmarshal(data, &cfg))

	set := func(flag string, value *int) {
		if value == nil || cmd.Flags().Changed(flag) {
			return
		}
		checkError(cmd.Flags().Set(flag, strconv.Itoa(*value)))
	}
	set("wfa-mismatch", cfg.WfaMismatch)
	set("wfa-gap-open1", cfg.WfaGapOpen1)
	set("wfa-gap-extend1", cfg.WfaGapExtend1)
	set("wfa-gap-open2", cfg.WfaGapOpen2)
	set("wfa-gap-extend2", cfg.WfaGapExtend2)
	set("wfa-patching-mismatch", cfg.PatchingMismatch)
	set("wfa-patching-gap-open1", cfg.PatchingGapOpen1)
	set("wfa-patching-gap-extend1", cfg.PatchingGapExtend1)
	set("wfa-patching-gap-open2", cfg.PatchingGapOpen2)
	set("wfa-patching-gap-extend2", cfg.PatchingGapExtend2)
}

func init() {
	RootCmd.AddCommand(alignCmd)

	alignCmd.Flags().StringP("input", "i", "",
		formatFlagUsage(`Mapping file produced by the mapping stage (PAF-like, may be gzipped).`))

	alignCmd.Flags().StringP("out-file", "o", "-",
		formatFlagUsage(`Out file, supports a ".gz" suffix ("-" for stdout).`))

	alignCmd.Flags().StringP("config", "c", "",
		formatFlagUsage(`TOML file with scoring defaults (default: ~/.wavemap.toml when present).`))

	alignCmd.Flags().IntP("wfa-mismatch", "", 4,
		formatFlagUsage(`Mismatch penalty of the main wavefront.`))
	alignCmd.Flags().IntP("wfa-gap-open1", "", 6,
		formatFlagUsage(`Gap-open penalty of the main wavefront.`))
	alignCmd.Flags().IntP("wfa-gap-extend1", "", 2,
		formatFlagUsage(`Gap-extension penalty of the main wavefront.`))
	alignCmd.Flags().IntP("wfa-gap-open2", "", 26,
		formatFlagUsage(`Second-tier gap-open penalty (accepted for compatibility).`))
	alignCmd.Flags().IntP("wfa-gap-extend2", "", 1,
		formatFlagUsage(`Second-tier gap-extension penalty (accepted for compatibility).`))

	alignCmd.Flags().IntP("wfa-patching-mismatch", "", 3,
		formatFlagUsage(`Mismatch penalty of the patching wavefront.`))
	alignCmd.Flags().IntP("wfa-patching-gap-open1", "", 4,
		formatFlagUsage(`Gap-open penalty of the patching wavefront.`))
	alignCmd.Flags().IntP("wfa-patching-gap-extend1", "", 2,
		formatFlagUsage(`Gap-extension penalty of the patching wavefront.`))
	alignCmd.Flags().IntP("wfa-patching-gap-open2", "", 24,
		formatFlagUsage(`Second-tier patching gap-open penalty (accepted for compatibility).`))
	alignCmd.Flags().IntP("wfa-patching-gap-extend2", "", 1,
		formatFlagUsage(`Second-tier patching gap-extension penalty (accepted for compatibility).`))

	alignCmd.Flags().Float64P("min-identity", "", 0,
		formatFlagUsage(`Drop alignments with block identity below this percentage.`))

	alignCmd.Flags().Int64P("max-len-major", "", 262144,
		formatFlagUsage(`Maximum region length handed to the wavefront kernel.`))
	alignCmd.Flags().Int64P("max-len-minor", "", 16384,
		formatFlagUsage(`Maximum flank length for reference padding and boundary patching.`))
	alignCmd.Flags().IntP("erode-k", "", 13,
		formatFlagUsage(`Erode boundary match runs shorter than this before patching.`))
	alignCmd.Flags().IntP("min-wavefront-length", "", 1024,
		formatFlagUsage(`Minimum wavefront length for adaptive reduction (0 disables).`))
	alignCmd.Flags().IntP("max-distance-threshold", "", 2048,
		formatFlagUsage(`Maximum distance difference for adaptive reduction.`))
	alignCmd.Flags().Float64P("max-mash-dist", "", 0.99,
		formatFlagUsage(`Skip records whose estimated mash distance exceeds this.`))
	alignCmd.Flags().IntP("max-patching-score", "", 0,
		formatFlagUsage(`Reject boundary patches scoring above this (0 for no limit).`))
	alignCmd.Flags().Int64P("chain-gap", "", 2000,
		formatFlagUsage(`Chain gap of the upstream mapping stage (accepted for compatibility).`))

	alignCmd.Flags().BoolP("sam-format", "a", false,
		formatFlagUsage(`Emit SAM records instead of PAF.`))
	alignCmd.Flags().BoolP("emit-md-tag", "", false,
		formatFlagUsage(`Emit the MD tag in SAM output.`))
	alignCmd.Flags().BoolP("no-seq-in-sam", "", false,
		formatFlagUsage(`Omit the sequence column in SAM output.`))
	alignCmd.Flags().BoolP("split", "", false,
		formatFlagUsage(`Suffix split query names with their mapping rank in SAM output.`))

	alignCmd.Flags().StringP("tsv-prefix", "", "",
		formatFlagUsage(`Write one TSV file per alignment with this path prefix.`))
	alignCmd.Flags().StringP("patching-tsv", "", "",
		formatFlagUsage(`Write patching info TSV to this file.`))

	alignCmd.SetUsageTemplate(usageTemplate("-i <mappings.paf> <ref.fasta> <query.fasta> [-o out.paf]"))
}
