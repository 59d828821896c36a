package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mosig/ksom/errs"
	"github.com/mosig/ksom/topology"
)

type readmeInfo struct {
	corpusFile     string
	width, height  int
	epochs         int
	initialRadius  float64
	updateExponent float64
	globalTopology topology.Global
	localTopology  topology.Local
	numRows        int
	numCols        int
	numNonZero     int
	numCPU         int
	elapsed        time.Duration
}

// writeReadme records the run's hyperparameters, dataset statistics,
// machine info, and timing, mirroring the reference driver's
// README.md next to the run's other artifacts.
func writeReadme(runDir string, info readmeInfo) error {
	path := filepath.Join(runDir, "README.md")
	f, err := os.Create(path)
	if err != nil {
		return errs.NewIoError(path, err)
	}
	defer f.Close()

	fmt.Fprintf(f, "# %s\n\n", filepath.Base(runDir))
	fmt.Fprintf(f, "## Parameters\n\n")
	fmt.Fprintf(f, "- corpus: %s\n", info.corpusFile)
	fmt.Fprintf(f, "- width: %d\n", info.width)
	fmt.Fprintf(f, "- height: %d\n", info.height)
	fmt.Fprintf(f, "- epochs: %d\n", info.epochs)
	fmt.Fprintf(f, "- initial radius: %g\n", info.initialRadius)
	fmt.Fprintf(f, "- update exponent: %g\n", info.updateExponent)
	fmt.Fprintf(f, "- global topology: %s\n", info.globalTopology)
	fmt.Fprintf(f, "- local topology: %s\n", info.localTopology)
	fmt.Fprintf(f, "\n## Dataset\n\n")
	fmt.Fprintf(f, "- rows: %d\n", info.numRows)
	fmt.Fprintf(f, "- columns: %d\n", info.numCols)
	fmt.Fprintf(f, "- non-zero entries: %d\n", info.numNonZero)
	fmt.Fprintf(f, "\n## Machine\n\n")
	fmt.Fprintf(f, "- logical CPUs: %d\n", info.numCPU)
	fmt.Fprintf(f, "\n## Timing\n\n")
	fmt.Fprintf(f, "- training duration: %s\n", info.elapsed)

	return nil
}
