package ingest

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

const (
	fitsCardSize  = 80
	fitsBlockSize = 2880
	maxHeaderSize = 64 * fitsBlockSize
)

// ReadHeaderInts reads integer keywords from the primary header of a FITS
// file. Missing keywords are absent from the result.
func ReadHeaderInts(path string, keys []string) (map[string]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseHeaderInts(bufio.NewReader(f), keys)
}

func parseHeaderInts(r io.Reader, keys []string) (map[string]int, error) {
	wanted := make(map[string]bool, len(keys))
	for _, k := range keys {
		wanted[k] = true
	}

	out := make(map[string]int, len(keys))
	card := make([]byte, fitsCardSize)
	for read := 0; read < maxHeaderSize; read += fitsCardSize {
		if _, err := io.ReadFull(r, card); err != nil {
			if read == 0 {
				return nil, fmt.Errorf("failed to read FITS header: %w", err)
			}
			return out, nil
		}

		key := strings.TrimSpace(string(card[:8]))
		if key == "END" {
			return out, nil
		}
		if !wanted[key] || string(card[8:10]) != "= " {
			continue
		}

		value := string(card[10:])
		if i := strings.Index(value, "/"); i >= 0 {
			value = value[:i]
		}
		if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			out[key] = n
		}
	}
	return out, nil
}
