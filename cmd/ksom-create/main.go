// Command ksom-create trains a self-organizing semantic map over a
// sparse binary corpus and writes its codebook, best-matching-unit
// array, neighbourhood field, and count tensor to disk.
package main

import (
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/mosig/ksom/codebook"
	"github.com/mosig/ksom/corpus"
	"github.com/mosig/ksom/errs"
	"github.com/mosig/ksom/internal/workerpool"
	"github.com/mosig/ksom/logging"
	"github.com/mosig/ksom/neighbourhood"
	"github.com/mosig/ksom/semanticmap"
	"github.com/mosig/ksom/topology"
	"github.com/mosig/ksom/training"
)

const (
	versionString = "v1.0.0"
	authorString  = "Created by Johannes E. M. Mosig (j.mosig@rasa.com)"
)

func main() {
	if binary.NativeEndian.Uint16([]byte{0x01, 0x00}) != 1 {
		fmt.Fprintln(os.Stderr, "unsupported platform: big-endian hosts are not supported")
		os.Exit(1)
	}

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "Unknown mode: no subcommand given")
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "create":
		err = runCreate(os.Args[2:])
	case "--author":
		fmt.Println(authorString)
	case "--version":
		fmt.Println(versionString)
	case "--help", "-h":
		fmt.Printf("ksom-create create <corpusFile> <width> <height> [flags]\nmax vocabulary size: %d\n", math.MaxUint32)
	default:
		err = errs.NewInvalidArgument("unknown mode: " + os.Args[1])
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runCreate(args []string) error {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	directory := fs.String("directory", "", "output directory (required)")
	name := fs.String("name", "", "run name (required)")
	priorName := fs.String("prior-name", "", "resume from this prior run's codebook")
	initialRadius := fs.Float64("initial-radius", 0, "initial neighbourhood radius (default (width+height)/2)")
	updateExponent := fs.Float64("update-exponent", 0, "radius shrink exponent (default derived from epochs and initial radius)")
	epochs := fs.Int("epochs", 2, "number of training epochs (>=2)")
	globalTopology := fs.Int("global-topology", int(topology.Torus), "global topology: TORUS=0, MOEBIUS=1, TUBE=2, PLANE=4")
	localTopology := fs.Int("local-topology", int(topology.Circ), "local topology: RECT=8, HEXA=6, CIRC=4")
	verbose := fs.Bool("verbose", false, "write preliminary per-epoch artifacts")
	nonAdaptive := fs.Bool("non-adaptive", false, "disable the discontinuity-derived radius lower bound")
	vocabCutoff := fs.Int("train-vocab-cutoff", 0, "ignore vocabulary indices at or beyond this cutoff during training")
	deadCellStrides := fs.Int("dead-cell-update-strides", 0, "reassign dead cells every n epochs (0 disables)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	positional := fs.Args()
	if len(positional) != 3 {
		return errs.NewInvalidArgument("usage: create <corpusFile> <width> <height>")
	}
	corpusFile := positional[0]
	width, err := parseDim(positional[1], "width")
	if err != nil {
		return err
	}
	height, err := parseDim(positional[2], "height")
	if err != nil {
		return err
	}

	if *name == "" || *directory == "" {
		return errs.NewInvalidArgument("--name and --directory are required")
	}
	if *epochs < 2 {
		return errs.NewInvalidArgument("--epochs must be at least 2")
	}
	if *initialRadius == 0 {
		*initialRadius = float64(width+height) / 2
	}
	if *initialRadius < 1 {
		return errs.NewInvalidArgument("--initial-radius must be at least 1")
	}
	if *updateExponent == 0 {
		*updateExponent = math.Pow(math.Log(1.5)/math.Log(*initialRadius), 1.0/float64(*epochs))
	}
	if *updateExponent <= 0 || *updateExponent > 1 {
		return errs.NewInvalidArgument("--update-exponent must be in (0, 1]")
	}

	topo, err := topology.New(topology.Global(*globalTopology), topology.Local(*localTopology), height, width)
	if err != nil {
		return err
	}

	runDir := filepath.Join(*directory, *name)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return errs.NewIoError(runDir, err)
	}

	logger := logging.NewText(loggerLevel(*verbose))

	data, err := corpus.Load(corpusFile)
	if err != nil {
		return err
	}
	data.EnsureSumOfSquares()

	if *vocabCutoff > 0 {
		minFirst := data.MinFirstIndexAcrossRows()
		if int(minFirst) >= *vocabCutoff {
			logger.Warn("some rows become empty under the requested vocabulary cutoff",
				"cutoff", *vocabCutoff, "max_first_index", minFirst)
		}
		if *vocabCutoff > data.NumCols() {
			return errs.NewInvalidArgument("--train-vocab-cutoff exceeds vocabulary size")
		}
	}

	var cb *codebook.Codebook
	pool := workerpool.New(runtime.GOMAXPROCS(0))
	if *priorName != "" {
		priorPath := filepath.Join(*directory, *priorName, "codebook.bin")
		cb, err = codebook.Load(priorPath, topo)
		if err != nil {
			return err
		}
	} else {
		cb = codebook.New(height, width, data.NumCols(), topo)
		if err := cb.Init(time.Now().Unix(), pool); err != nil {
			return err
		}
	}

	neigh, err := neighbourhood.New(height, width, topo, float32(*updateExponent), float32(*initialRadius))
	if err != nil {
		return err
	}

	convergencePath := filepath.Join(runDir, "convergence.tsv")
	convergenceFile, err := os.Create(convergencePath)
	if err != nil {
		return errs.NewIoError(convergencePath, err)
	}
	defer convergenceFile.Close()
	fmt.Fprintln(convergenceFile, "epoch\tunix_time\tradius_min\tradius_max\tquantization_error\ttopographic_error\tgap_error\tdiffusion_error")

	opts := []training.Option{
		training.WithVocabCutoff(*vocabCutoff),
		training.WithDeadCellStride(*deadCellStrides),
		training.WithRespectLowerBound(!*nonAdaptive),
		training.WithLogger(logger),
		training.WithConvergenceWriter(convergenceFile),
	}
	if *verbose {
		opts = append(opts, training.WithPreliminaryDirectory(filepath.Join(runDir, "preliminary")))
	}

	start := time.Now()
	result, err := training.Run(context.Background(), cb, neigh, data, *epochs, pool, opts...)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	if err := neigh.Save(filepath.Join(runDir, "neighbourhood.bin")); err != nil {
		return err
	}

	smap, err := semanticmap.BuildFromBMU(data, result.BMU, height, width, logger)
	if err != nil {
		return err
	}

	if err := cb.Save(filepath.Join(runDir, "codebook.bin")); err != nil {
		return err
	}
	if err := smap.SaveBestMatchingUnits(filepath.Join(runDir, "bmus.bin")); err != nil {
		return err
	}
	if err := smap.SaveCounts(filepath.Join(runDir, "counts.bin")); err != nil && !errs.IsSoft(err) {
		return err
	}

	return writeReadme(runDir, readmeInfo{
		corpusFile:      corpusFile,
		width:           width,
		height:          height,
		epochs:          *epochs,
		initialRadius:   *initialRadius,
		updateExponent:  *updateExponent,
		globalTopology:  topology.Global(*globalTopology),
		localTopology:   topology.Local(*localTopology),
		numRows:         data.NumRows(),
		numCols:         data.NumCols(),
		numNonZero:      data.NumNonZero(),
		numCPU:          runtime.NumCPU(),
		elapsed:         elapsed,
	})
}

func parseDim(s, label string) (int, error) {
	var v int
	if _, err := fmt.Sscanf(s, "%d", &v); err != nil || v <= 0 {
		return 0, errs.NewInvalidArgument(label + " must be a positive integer")
	}
	return v, nil
}

func loggerLevel(verbose bool) slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}
