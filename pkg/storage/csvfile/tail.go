package csvfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"astercollector/internal/aster/memorystore"
)

const tailChunk = 64 * 1024

// LoadRecentTradeIDs returns the ids of the last n trade rows for symbol,
// oldest first. A missing file yields no ids; rows that do not start with an
// integer id (the header, torn lines) are skipped.
func (s *Store) LoadRecentTradeIDs(symbol string, n int) ([]int64, error) {
	if n <= 0 {
		return nil, nil
	}

	lines, err := readLastLines(s.Path(memorystore.KindTrade, symbol), n)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	ids := make([]int64, 0, len(lines))
	for _, line := range lines {
		field, _, _ := strings.Cut(line, ",")
		id, err := strconv.ParseInt(strings.TrimSpace(field), 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// lastNewline returns the offset of the last '\n' among the first size
// bytes of f, or -1 when there is none.
func lastNewline(f *os.File, size int64) (int64, error) {
	offset := size
	for offset > 0 {
		n := int64(tailChunk)
		if offset < n {
			n = offset
		}
		offset -= n

		chunk := make([]byte, n)
		if _, err := f.ReadAt(chunk, offset); err != nil && !errors.Is(err, io.EOF) {
			return 0, err
		}
		if i := bytes.LastIndexByte(chunk, '\n'); i >= 0 {
			return offset + int64(i), nil
		}
	}
	return -1, nil
}

// readLastLines reads backwards from the end of path until it has n
// complete non-empty lines or reaches the start of the file. A trailing
// line without a newline is not complete and is left out.
func readLastLines(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	var (
		offset = info.Size()
		tail   []byte
	)
	for offset > 0 && bytes.Count(tail, []byte{'\n'}) <= n {
		size := int64(tailChunk)
		if offset < size {
			size = offset
		}
		offset -= size

		chunk := make([]byte, size)
		if _, err := f.ReadAt(chunk, offset); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		tail = append(chunk, tail...)
	}

	all := strings.Split(string(tail), "\n")
	// A last line without its newline was torn by an interrupted write
	if len(tail) > 0 && tail[len(tail)-1] != '\n' {
		all = all[:len(all)-1]
	}
	// The first piece may be a partial line unless we reached the start
	if offset > 0 && len(all) > 0 {
		all = all[1:]
	}

	lines := make([]string, 0, n)
	for _, l := range all {
		l = strings.TrimRight(l, "\r")
		if l != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}
