package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"
)

// SchemaVersion is written into every shard's key/value metadata.
const SchemaVersion = "sidestacker_sample_v1"

// SampleRow is one self-play training sample.
//
// Board holds the 49 cells of the position from the mover's side (+1 own,
// -1 opponent, 0 empty) stored as two's-complement bytes. Encoded is the same
// position as the 3x7x7 network input. Policy is the root visit distribution
// over all actions and Value the game outcome for the mover in [-1..1].
type SampleRow struct {
	GameID    string    `parquet:"game_id,dict"`
	Iteration int32     `parquet:"iteration"`
	Ply       int32     `parquet:"ply"`
	Mover     int32     `parquet:"mover"`
	Board     []byte    `parquet:"board"`
	Encoded   []float32 `parquet:"encoded"`
	Policy    []float32 `parquet:"policy"`
	Action    int32     `parquet:"action"`
	Value     float32   `parquet:"value"`
	Source    string    `parquet:"source,dict"`

	// ModelPath is the resolved path to the ONNX model that guided the game.
	// Empty for rollout self-play.
	ModelPath string `parquet:"model_path,dict,optional"`

	// MCTSRootJSON stores a summary of the root children.
	// Format: JSON array of {action, n, q, p}.
	MCTSRootJSON []byte `parquet:"mcts_root_json,optional,zstd"`
}

// Cells decodes Board back into signed cell values.
func (r SampleRow) Cells() []int8 {
	out := make([]int8, len(r.Board))
	for i, b := range r.Board {
		out[i] = int8(b)
	}
	return out
}

// PackCells stores signed cell values in SampleRow.Board form.
func PackCells(cells []int8) []byte {
	out := make([]byte, len(cells))
	for i, c := range cells {
		out[i] = byte(c)
	}
	return out
}

func writerOptions() []parquet.WriterOption {
	return []parquet.WriterOption{
		parquet.Compression(&zstd.Codec{Level: zstd.SpeedBetterCompression}),
		parquet.SkipPageBounds("encoded"),
		parquet.KeyValueMetadata("schema", SchemaVersion),
	}
}

// WriteSamplesParquetAtomic writes rows into outDir/tmp and then atomically
// moves the finished file into outDir, so readers never observe a partial
// shard. The returned path is the final parquet file path.
func WriteSamplesParquetAtomic(outDir string, rows []SampleRow) (string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	tmpDir := filepath.Join(outDir, "tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return "", fmt.Errorf("create tmp dir: %w", err)
	}

	name := fmt.Sprintf("samples_%d.parquet", time.Now().UnixNano())
	finalPath := filepath.Join(outDir, name)
	tmpPath := filepath.Join(tmpDir, name+".tmp")
	_ = os.Remove(tmpPath)

	if err := parquet.WriteFile(tmpPath, rows, writerOptions()...); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("write parquet: %w", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("rename parquet: %w", err)
	}

	return finalPath, nil
}

// ReadSamples loads every row of a shard.
func ReadSamples(path string) ([]SampleRow, error) {
	rows, err := parquet.ReadFile[SampleRow](path)
	if err != nil {
		return nil, fmt.Errorf("read parquet %s: %w", path, err)
	}
	return rows, nil
}

// ShardInfo describes one finished shard on disk.
type ShardInfo struct {
	Path      string
	Rows      int64
	RowGroups int
	Schema    string
}

// InspectShard reads the footer of a shard without loading its rows.
func InspectShard(path string) (ShardInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return ShardInfo{}, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return ShardInfo{}, err
	}
	pf, err := parquet.OpenFile(f, st.Size())
	if err != nil {
		return ShardInfo{}, fmt.Errorf("open parquet %s: %w", path, err)
	}
	schema, _ := pf.Lookup("schema")
	return ShardInfo{
		Path:      path,
		Rows:      pf.NumRows(),
		RowGroups: len(pf.RowGroups()),
		Schema:    schema,
	}, nil
}

// ListShards returns the finished parquet files directly under dir, oldest
// first. Files still in dir/tmp are ignored.
func ListShards(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.parquet"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}
