// Package parquet exports pipeline results as Parquet files with one row
// per (batch, frame, feature) value.
package parquet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go-source/writerfile"
	pqformat "github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/banshee-data/framefeatures/internal/monitoring"
	"github.com/banshee-data/framefeatures/internal/pipeline"
)

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("parquet: writer closed")

// Row is the on-disk layout of one feature value. Shape is empty for
// scalars; Values holds the value flattened in row-major order.
type Row struct {
	RunID    string    `parquet:"name=run_id, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	BatchNum int64     `parquet:"name=batch_num, type=INT64"`
	FrameNum int64     `parquet:"name=frame_num, type=INT64"`
	Key      string    `parquet:"name=key, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Shape    []int64   `parquet:"name=shape, type=INT64, repetitiontype=REPEATED"`
	Values   []float64 `parquet:"name=values, type=DOUBLE, repetitiontype=REPEATED"`
}

// Parallelism of the column encoder.
const writerParallelism = 4

// Writer streams records into a Snappy-compressed Parquet file. It
// implements pipeline.RunSink; several runs may share one file.
type Writer struct {
	mu     sync.Mutex
	file   source.ParquetFile
	pw     *writer.ParquetWriter
	rows   int64
	closed bool
	logger zerolog.Logger
}

var _ pipeline.RunSink = (*Writer)(nil)

// Create opens a local file at path for writing.
func Create(path string) (*Writer, error) {
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	w, err := newWriter(fw)
	if err != nil {
		fw.Close()
		return nil, err
	}
	w.logger = w.logger.With().Str("path", path).Logger()
	return w, nil
}

// NewWriter writes Parquet into out. out is not closed by Close.
func NewWriter(out io.Writer) (*Writer, error) {
	return newWriter(writerfile.NewWriterFile(out))
}

func newWriter(file source.ParquetFile) (*Writer, error) {
	pw, err := writer.NewParquetWriter(file, new(Row), writerParallelism)
	if err != nil {
		return nil, fmt.Errorf("create parquet writer: %w", err)
	}
	pw.CompressionType = pqformat.CompressionCodec_SNAPPY
	return &Writer{
		file:   file,
		pw:     pw,
		logger: monitoring.Component("parquet"),
	}, nil
}

// BeginRun implements pipeline.RunSink.
func (w *Writer) BeginRun(_ context.Context, info pipeline.RunStats) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	w.logger.Debug().Str("run_id", info.RunID).Int("frames", info.Frames).Msg("exporting run")
	return nil
}

// WriteRecord implements pipeline.Sink. Values are written in key order.
func (w *Writer) WriteRecord(ctx context.Context, runID string, rec pipeline.Record) error {
	rows := make([]Row, 0, len(rec.Input))
	for _, key := range rec.Keys() {
		cell, err := pipeline.ToCell(rec.Input[key])
		if err != nil {
			return fmt.Errorf("encode %q: %w", key, err)
		}
		shape := make([]int64, len(cell.Shape))
		for i, d := range cell.Shape {
			shape[i] = int64(d)
		}
		rows = append(rows, Row{
			RunID:    runID,
			BatchNum: int64(rec.BatchNum()),
			FrameNum: int64(rec.FrameNum()),
			Key:      key,
			Shape:    shape,
			Values:   cell.Data,
		})
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.pw.Write(row); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
		w.rows++
	}
	return nil
}

// EndRun implements pipeline.RunSink. It flushes buffered rows into a row
// group so each run ends on a group boundary.
func (w *Writer) EndRun(_ context.Context, info pipeline.RunStats) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if err := w.pw.Flush(true); err != nil {
		return fmt.Errorf("flush run %s: %w", info.RunID, err)
	}
	return nil
}

// Rows reports how many rows have been written.
func (w *Writer) Rows() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rows
}

// Close writes the footer and closes the underlying file. It is safe to
// call more than once.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	err := w.pw.WriteStop()
	if cerr := w.file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	w.logger.Debug().Int64("rows", w.rows).Msg("parquet export complete")
	return nil
}
