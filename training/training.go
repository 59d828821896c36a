// Package training orchestrates the per-epoch loop that drives a
// codebook and neighbourhood field toward convergence over a corpus:
// BMU search, optional dead-cell reassignment, the batch update, the
// adaptive radius update, and convergence logging, in that strict
// order every epoch.
package training

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/mosig/ksom/codebook"
	"github.com/mosig/ksom/corpus"
	"github.com/mosig/ksom/errs"
	"github.com/mosig/ksom/internal/workerpool"
	"github.com/mosig/ksom/logging"
	"github.com/mosig/ksom/neighbourhood"
)

type options struct {
	deadCellStride       int
	vocabCutoff          int
	respectLowerBound    bool
	preliminaryDirectory string
	logger               *logging.Logger
	convergenceWriter    io.Writer
}

// Option configures a training Run.
type Option func(*options)

// WithDeadCellStride enables dead-cell reassignment every n epochs
// instead of computing plain gap error. n ≤ 0 disables it.
func WithDeadCellStride(n int) Option {
	return func(o *options) { o.deadCellStride = n }
}

// WithVocabCutoff restricts the BMU search (on every epoch and the
// final flush) and the batch update (on every epoch but the final one,
// whose update always sees the full vocabulary) to dimensions below
// cutoff.
func WithVocabCutoff(cutoff int) Option {
	return func(o *options) { o.vocabCutoff = cutoff }
}

// WithRespectLowerBound controls whether the neighbourhood update
// floors each cell's radius at its discontinuity-derived lower bound.
// Defaults to true; --non-adaptive on the CLI disables it.
func WithRespectLowerBound(respect bool) Option {
	return func(o *options) { o.respectLowerBound = respect }
}

// WithPreliminaryDirectory writes a loadable codebook and
// neighbourhood snapshot after every epoch into dir, so a run can be
// resumed from the most recent one via --prior-name. Snapshot files
// older than the two most recent epochs are rolled into a single
// compressed history archive as each new snapshot is written.
func WithPreliminaryDirectory(dir string) Option {
	return func(o *options) { o.preliminaryDirectory = dir }
}

// WithLogger attaches a structured logger for per-epoch metrics.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithConvergenceWriter appends one TSV row per epoch to w:
// epoch, unixTime placeholder, radiusMin, radiusMax, quantization,
// topographic, gap, diffusion.
func WithConvergenceWriter(w io.Writer) Option {
	return func(o *options) { o.convergenceWriter = w }
}

// Result carries the final epoch's BMU assignment, needed by the
// semantic-map build that follows training.
type Result struct {
	BMU       []uint16
	Distances []float32
}

// Run trains cb against data for numEpochs ≥ 2, following the
// reference loop's exact per-epoch ordering, including the final
// epoch's no-cutoff special case on the batch update and the extra
// metrics flush appended after the last epoch.
func Run(ctx context.Context, cb *codebook.Codebook, neigh *neighbourhood.Neighbourhood, data *corpus.Matrix, numEpochs int, pool *workerpool.Pool, opts ...Option) (*Result, error) {
	if numEpochs < 2 {
		return nil, errs.NewInvalidArgument("numEpochs must be at least 2")
	}

	o := &options{respectLowerBound: true}
	for _, opt := range opts {
		opt(o)
	}

	var archiver *preliminaryArchiver
	if o.preliminaryDirectory != "" {
		if err := os.MkdirAll(o.preliminaryDirectory, 0755); err != nil {
			return nil, errs.NewIoError(o.preliminaryDirectory, err)
		}
		archiver = newPreliminaryArchiver(o.preliminaryDirectory, o.logger)
		defer archiver.Close()
	}

	numRows := data.NumRows()
	var prevBmu []uint16

	runEpoch := func(epoch int, finalFlush bool) (*Result, error) {
		batchCutoff := o.vocabCutoff
		if epoch == numEpochs {
			batchCutoff = 0 // final epoch's batch update always sees the full vocabulary
		}

		bmu, dist, nextBmu, _, err := cb.FindBestAndNextBestMatchingUnits(data, o.vocabCutoff, pool)
		if err != nil {
			return nil, err
		}

		var gap float32
		if !finalFlush && o.deadCellStride > 0 && epoch%o.deadCellStride == 0 {
			gap = cb.AssignDeadCells(bmu, dist, numRows)
		} else {
			gap = cb.GapError(bmu)
		}

		var diffusion float32
		if epoch > 1 {
			diffusion = cb.DiffusionError(bmu, prevBmu, numRows)
		}
		prevBmu = append(prevBmu[:0], bmu...)

		if !finalFlush {
			if o.preliminaryDirectory != "" {
				if err := savePreliminary(o.preliminaryDirectory, epoch-1, cb, neigh, o.logger); err != nil {
					return nil, err
				}
				if archiver != nil {
					archiver.NoteEpoch(epoch - 1)
				}
			}
			if err := cb.ApplyBatchUpdate(data, neigh, bmu, batchCutoff, pool); err != nil {
				return nil, err
			}
		}

		topographic, err := neigh.Update(bmu, nextBmu, numRows, o.respectLowerBound, pool)
		if err != nil {
			return nil, err
		}

		quantization := cb.QuantizationError(dist, numRows)
		logEpoch := epoch - 1
		if finalFlush {
			logEpoch = numEpochs
		}
		if o.logger != nil {
			o.logger.LogEpoch(ctx, logEpoch, neigh.RadiusMin(), neigh.RadiusMax(), quantization, topographic, gap, diffusion)
		}
		if o.convergenceWriter != nil {
			fmt.Fprintf(o.convergenceWriter, "%d\t%d\t%g\t%g\t%g\t%g\t%g\t%g\n",
				logEpoch, 0, neigh.RadiusMin(), neigh.RadiusMax(), quantization, topographic, gap, diffusion)
		}

		return &Result{BMU: bmu, Distances: dist}, nil
	}

	for epoch := 1; epoch <= numEpochs; epoch++ {
		if _, err := runEpoch(epoch, false); err != nil {
			return nil, err
		}
	}

	// One final BMU search and metric flush, appended under epoch
	// numEpochs, without running another batch update.
	final, err := runEpoch(numEpochs, true)
	if err != nil {
		return nil, err
	}

	return final, nil
}

func savePreliminary(dir string, epoch int, cb *codebook.Codebook, neigh *neighbourhood.Neighbourhood, logger *logging.Logger) error {
	codebookPath := filepath.Join(dir, fmt.Sprintf("prelim-%d.codebook.bin", epoch))
	if err := cb.Save(codebookPath); err != nil {
		return errs.NewIoError(codebookPath, err)
	}
	if logger != nil {
		logger.LogSave(context.Background(), codebookPath, nil)
	}

	neighPath := filepath.Join(dir, fmt.Sprintf("prelim-%d.neighbourhood.bin", epoch))
	if err := neigh.Save(neighPath); err != nil {
		return errs.NewIoError(neighPath, err)
	}
	if logger != nil {
		logger.LogSave(context.Background(), neighPath, nil)
	}
	return nil
}

// preliminaryArchiver rolls preliminary artifacts older than the two
// most recent epochs into a single compressed history file, so a long
// run doesn't accumulate one codebook and one neighbourhood file per
// epoch on disk. Resume only ever needs the latest snapshot, which is
// never archived.
type preliminaryArchiver struct {
	dir      string
	logger   *logging.Logger
	epochs   []int
	history  *os.File
	encoder  *zstd.Encoder
}

func newPreliminaryArchiver(dir string, logger *logging.Logger) *preliminaryArchiver {
	return &preliminaryArchiver{dir: dir, logger: logger}
}

// NoteEpoch records that epoch's artifacts now exist and archives any
// epoch more than one generation behind the newest.
func (a *preliminaryArchiver) NoteEpoch(epoch int) {
	a.epochs = append(a.epochs, epoch)
	for len(a.epochs) > 2 {
		stale := a.epochs[0]
		a.epochs = a.epochs[1:]
		a.archive(stale)
	}
}

func (a *preliminaryArchiver) archive(epoch int) {
	if a.history == nil {
		path := filepath.Join(a.dir, "prelim-history.tar.zst")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			if a.logger != nil {
				a.logger.Warn("could not open preliminary history archive", "error", err)
			}
			return
		}
		enc, err := zstd.NewWriter(f)
		if err != nil {
			if a.logger != nil {
				a.logger.Warn("could not create zstd encoder", "error", err)
			}
			_ = f.Close()
			return
		}
		a.history = f
		a.encoder = enc
	}

	for _, kind := range []string{"codebook", "neighbourhood"} {
		path := filepath.Join(a.dir, fmt.Sprintf("prelim-%d.%s.bin", epoch, kind))
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if _, err := a.encoder.Write(data); err == nil {
			_ = os.Remove(path)
		}
	}
}

// Close flushes and closes any open history archive.
func (a *preliminaryArchiver) Close() error {
	if a.encoder != nil {
		_ = a.encoder.Close()
	}
	if a.history != nil {
		return a.history.Close()
	}
	return nil
}
