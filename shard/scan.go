package shard

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
)

// Scan is the result of one pass over a line-delimited input.
type Scan struct {
	// Offsets holds the byte offset of line 0, batchSize, 2*batchSize, ...
	Offsets []int64 `json:"offsets"`
	// Lines counts every line including blank ones.
	Lines int64 `json:"lines"`
	// Records counts non-blank lines.
	Records int64 `json:"records"`
	// Size is the number of bytes read.
	Size int64 `json:"size"`
	// BatchSize is the lines-per-shard the offsets were computed with.
	BatchSize int `json:"batch_size"`
}

const scanBufferSize = 1 << 20

// ScanOffsets reads r once and records the offset of every batchSize-th
// line. Offsets always fall on line boundaries. An empty input yields no
// offsets.
func ScanOffsets(r io.Reader, batchSize int) (Scan, error) {
	if batchSize <= 0 {
		return Scan{}, fmt.Errorf("%w: %d", ErrInvalidBatchSize, batchSize)
	}

	scan := Scan{BatchSize: batchSize}
	br := bufio.NewReaderSize(r, scanBufferSize)

	var (
		pos       int64
		lineStart = true
		blank     = true
	)
	for {
		chunk, err := br.ReadSlice('\n')
		if len(chunk) > 0 {
			if lineStart {
				if scan.Lines%int64(batchSize) == 0 {
					scan.Offsets = append(scan.Offsets, pos)
				}
				scan.Lines++
				lineStart = false
			}
			if blank && len(bytes.TrimSpace(chunk)) > 0 {
				blank = false
			}
			pos += int64(len(chunk))
			if chunk[len(chunk)-1] == '\n' {
				if !blank {
					scan.Records++
				}
				lineStart, blank = true, true
			}
		}
		switch {
		case err == nil, errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if !lineStart && !blank {
				scan.Records++
			}
			scan.Size = pos
			return scan, nil
		default:
			return Scan{}, err
		}
	}
}
