package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"
)

// Batches slices items into consecutive batches of size. Every batch is full
// except possibly the last. No element is dropped.
func Batches[T any](items []T, size int) [][]T {
	if size <= 0 || len(items) == 0 {
		return nil
	}
	out := make([][]T, 0, (len(items)+size-1)/size)
	for i := 0; i < len(items); i += size {
		out = append(out, items[i:min(len(items), i+size)])
	}
	return out
}

// BatchWriter streams sample rows into a single shard. Each full training
// batch becomes its own row group, so a trainer can read one batch per row
// group. The shard is written under outDir/tmp and moved into outDir by
// Finalize.
type BatchWriter struct {
	outDir string
	tmpDir string

	name      string
	tmpPath   string
	outPath   string
	batchSize int

	file   *os.File
	writer *parquet.GenericWriter[SampleRow]

	pending      []SampleRow
	bufferedRows int
	batches      int
	games        int
}

func NewBatchWriter(outDir string, batchSize int) (*BatchWriter, error) {
	if outDir == "" {
		return nil, fmt.Errorf("outDir is required")
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}

	absOut, err := filepath.Abs(outDir)
	if err != nil {
		absOut = outDir
	}
	tmpDir := filepath.Join(absOut, "tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, fmt.Errorf("create tmp dir: %w", err)
	}

	name := fmt.Sprintf("samples_%d.parquet", time.Now().UnixNano())
	tmpPath := filepath.Join(tmpDir, name)
	outPath := filepath.Join(absOut, name)

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open tmp parquet: %w", err)
	}

	return &BatchWriter{
		outDir:    absOut,
		tmpDir:    tmpDir,
		name:      name,
		tmpPath:   tmpPath,
		outPath:   outPath,
		batchSize: batchSize,
		file:      f,
		writer:    parquet.NewGenericWriter[SampleRow](f, writerOptions()...),
	}, nil
}

func (b *BatchWriter) TmpPath() string   { return b.tmpPath }
func (b *BatchWriter) OutPath() string   { return b.outPath }
func (b *BatchWriter) BufferedRows() int { return b.bufferedRows }
func (b *BatchWriter) Batches() int      { return b.batches }

// WriteRows buffers rows and writes every full batch as a row group.
func (b *BatchWriter) WriteRows(rows []SampleRow) error {
	if b.writer == nil || b.file == nil {
		return fmt.Errorf("batch writer is closed")
	}
	b.pending = append(b.pending, rows...)
	for len(b.pending) >= b.batchSize {
		if err := b.writeBatch(b.pending[:b.batchSize]); err != nil {
			return err
		}
		b.pending = b.pending[b.batchSize:]
	}
	return nil
}

func (b *BatchWriter) writeBatch(rows []SampleRow) error {
	if _, err := b.writer.Write(rows); err != nil {
		return fmt.Errorf("write batch %d: %w", b.batches, err)
	}
	if err := b.writer.Flush(); err != nil {
		return fmt.Errorf("flush batch %d: %w", b.batches, err)
	}
	b.bufferedRows += len(rows)
	b.batches++
	return nil
}

func (b *BatchWriter) NoteGameWritten() {
	b.games++
}

// Finalize writes any short trailing batch, closes the parquet writer and
// moves the file from tmp/ to outDir. If no rows were written, the tmp file is
// removed and outPath is returned empty.
func (b *BatchWriter) Finalize() (outPath string, rows int, games int, err error) {
	if b.writer == nil && b.file == nil {
		return "", 0, 0, nil
	}

	if len(b.pending) > 0 {
		if err := b.writeBatch(b.pending); err != nil {
			return "", 0, 0, err
		}
		b.pending = nil
	}

	rows = b.bufferedRows
	games = b.games
	outPath = b.outPath

	var closeErr error
	if b.writer != nil {
		closeErr = b.writer.Close()
		b.writer = nil
	}
	var fileErr error
	if b.file != nil {
		_ = b.file.Sync()
		fileErr = b.file.Close()
		b.file = nil
	}
	if closeErr != nil {
		return "", 0, 0, fmt.Errorf("close parquet writer: %w", closeErr)
	}
	if fileErr != nil {
		return "", 0, 0, fmt.Errorf("close parquet file: %w", fileErr)
	}

	if rows == 0 {
		_ = os.Remove(b.tmpPath)
		return "", 0, 0, nil
	}
	if err := os.Rename(b.tmpPath, b.outPath); err != nil {
		return "", 0, 0, fmt.Errorf("rename parquet: %w", err)
	}
	return outPath, rows, games, nil
}

// Abort closes the writer and removes the partial shard.
func (b *BatchWriter) Abort() {
	if b.writer != nil {
		_ = b.writer.Close()
		b.writer = nil
	}
	if b.file != nil {
		_ = b.file.Close()
		b.file = nil
	}
	_ = os.Remove(b.tmpPath)
	b.pending = nil
}
