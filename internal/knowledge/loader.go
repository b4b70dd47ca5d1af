package knowledge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	rcerrors "github.com/hunianlab/rumahcari/internal/errors"
)

// loadBatchSize bounds one upsert transaction during bulk load.
const loadBatchSize = 64

// LoadJSONL reads snippets from a JSON-lines stream and upserts them in
// batches. Blank lines are skipped; a malformed line aborts the load
// with its line number. Returns the number of snippets loaded.
func LoadJSONL(ctx context.Context, idx Index, r io.Reader) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		batch  []Snippet
		loaded int
		lineNo int
	)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := idx.Upsert(ctx, batch); err != nil {
			return err
		}
		loaded += len(batch)
		batch = batch[:0]
		return nil
	}

	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var sn Snippet
		if err := json.Unmarshal(line, &sn); err != nil {
			return loaded, rcerrors.Newf(rcerrors.ErrCodeInvalidInput,
				"snippet line %d is not valid JSON: %v", lineNo, err)
		}
		sn.DeriveID()
		if err := sn.Validate(); err != nil {
			return loaded, rcerrors.Newf(rcerrors.ErrCodeInvalidInput,
				"snippet line %d: no title or content", lineNo)
		}

		batch = append(batch, sn)
		if len(batch) >= loadBatchSize {
			if err := flush(); err != nil {
				return loaded, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return loaded, fmt.Errorf("read snippet stream: %w", err)
	}

	if err := flush(); err != nil {
		return loaded, err
	}
	return loaded, nil
}

// LoadFile loads snippets from a JSONL file on disk.
func LoadFile(ctx context.Context, idx Index, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, rcerrors.Newf(rcerrors.ErrCodeFileNotFound, "snippets file %s not found", path)
		}
		return 0, fmt.Errorf("open snippets file: %w", err)
	}
	defer f.Close()

	return LoadJSONL(ctx, idx, f)
}
