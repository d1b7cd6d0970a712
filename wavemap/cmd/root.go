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
	"os"
	"runtime"

	colorable "github.com/mattn/go-colorable"
	"github.com/shenwei356/go-logging"
	"github.com/spf13/cobra"
)

// VERSION of wavemap
const VERSION = "0.1.0"

var log = logging.MustGetLogger("wavemap")

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "wavemap",
	Short: "sketch-based whole-genome pairwise sequence alignment",
	Long: fmt.Sprintf(`wavemap: sketch-based whole-genome pairwise sequence alignment

Version: v%s

wavemap indexes reference sequences with positional minmer sketches and
turns upstream mapping records into base-level wavefront alignments.

`, VERSION),
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	format := logging.MustStringFormatter(`%{color}%{time:15:04:05.000} [%{level:.4s}]%{color:reset} %{message}`)
	backend := logging.NewLogBackend(colorable.NewColorableStderr(), "", 0)
	logging.SetBackend(logging.NewBackendFormatter(backend, format))

	RootCmd.PersistentFlags().IntP("threads", "j", runtime.NumCPU(),
		formatFlagUsage(`Number of CPU cores to use.`))

	RootCmd.PersistentFlags().BoolP("quiet", "", false,
		formatFlagUsage(`Do not print any verbose information.`))

	RootCmd.PersistentFlags().StringP("log", "", "",
		formatFlagUsage(`Log file.`))

	RootCmd.CompletionOptions.DisableDefaultCmd = true
	RootCmd.SetUsageTemplate(usageTemplate(""))
}

// addLog duplicates log messages into a file.
func addLog(logfile string, verbose bool) *os.File {
	fh, err := os.Create(logfile)
	checkError(err)

	format := logging.MustStringFormatter(`%{color}%{time:15:04:05.000} [%{level:.4s}]%{color:reset} %{message}`)
	backendStderr := logging.NewBackendFormatter(
		logging.NewLogBackend(colorable.NewColorableStderr(), "", 0), format)

	formatFile := logging.MustStringFormatter(`%{time:15:04:05.000} [%{level:.4s}] %{message}`)
	backendFile := logging.NewBackendFormatter(
		logging.NewLogBackend(fh, "", 0), formatFile)

	if verbose {
		logging.SetBackend(backendStderr, backendFile)
	} else {
		logging.SetBackend(backendFile)
	}
	return fh
}
