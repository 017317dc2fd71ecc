package store

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/nilfheim/boltget/internal/dlerr"
)

// SegmentMeta is one line of the resume-meta segment table.
type SegmentMeta struct {
	ID         int
	Offset     int64
	Size       int64
	FileOffset int64
	Downloaded int64
}

// DownloadMeta is the full on-disk record: everything needed to decide
// whether a download can resume and, if so, where each segment left
// off.
type DownloadMeta struct {
	URL        string
	OutputPath string
	FileSize   int64
	Downloaded int64
	Segments   []SegmentMeta
}

// MetaSuffix is appended to the output path to name the sidecar file.
const MetaSuffix = ".boltmeta"

func SidecarPath(outputPath string) string {
	return outputPath + MetaSuffix
}

// Save writes m to path, first to a temp file in the same directory
// then renaming over the destination, so a crash mid-write never
// leaves a half-written sidecar behind.
func Save(path string, m DownloadMeta) error {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return dlerr.New(dlerr.KindWriteError, "store/meta-save", err)
		}
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return dlerr.New(dlerr.KindWriteError, "store/meta-save", err)
	}
	tmpName := tmp.Name()
	if err := writeMeta(tmp, m); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return dlerr.New(dlerr.KindWriteError, "store/meta-save", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return dlerr.New(dlerr.KindWriteError, "store/meta-save", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return dlerr.New(dlerr.KindWriteError, "store/meta-save", err)
	}
	return nil
}

func writeMeta(w *os.File, m DownloadMeta) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%s\n", m.URL)
	fmt.Fprintf(bw, "%s\n", m.OutputPath)
	fmt.Fprintf(bw, "%d\n", m.FileSize)
	fmt.Fprintf(bw, "%d\n", m.Downloaded)
	fmt.Fprintf(bw, "%d\n", len(m.Segments))
	for _, s := range m.Segments {
		fmt.Fprintf(bw, "%d %d %d %d %d\n", s.ID, s.Offset, s.Size, s.FileOffset, s.Downloaded)
	}
	return bw.Flush()
}

// Load reads a resume-meta sidecar. A missing file is not an error: it
// returns (nil, nil) so the caller starts a fresh plan.
func Load(path string) (*DownloadMeta, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, dlerr.New(dlerr.KindReadError, "store/meta-load", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	readLine := func() (string, error) {
		if !sc.Scan() {
			if err := sc.Err(); err != nil {
				return "", err
			}
			return "", fmt.Errorf("unexpected end of meta file")
		}
		return sc.Text(), nil
	}

	var m DownloadMeta
	var err2 error
	if m.URL, err2 = readLine(); err2 != nil {
		return nil, malformed(err2)
	}
	if m.OutputPath, err2 = readLine(); err2 != nil {
		return nil, malformed(err2)
	}
	if m.FileSize, err2 = readInt64Line(readLine); err2 != nil {
		return nil, malformed(err2)
	}
	if m.Downloaded, err2 = readInt64Line(readLine); err2 != nil {
		return nil, malformed(err2)
	}
	count, err2 := readInt64Line(readLine)
	if err2 != nil {
		return nil, malformed(err2)
	}
	m.Segments = make([]SegmentMeta, 0, count)
	for i := int64(0); i < count; i++ {
		line, err := readLine()
		if err != nil {
			return nil, malformed(err)
		}
		seg, err := parseSegmentLine(line)
		if err != nil {
			return nil, malformed(err)
		}
		m.Segments = append(m.Segments, seg)
	}
	return &m, nil
}

func parseSegmentLine(line string) (SegmentMeta, error) {
	var id, offset, size, fileOffset, downloaded int64
	n, err := fmt.Sscanf(line, "%d %d %d %d %d", &id, &offset, &size, &fileOffset, &downloaded)
	if err != nil || n != 5 {
		return SegmentMeta{}, fmt.Errorf("malformed segment line %q: %w", line, err)
	}
	return SegmentMeta{
		ID:         int(id),
		Offset:     offset,
		Size:       size,
		FileOffset: fileOffset,
		Downloaded: downloaded,
	}, nil
}

func readInt64Line(readLine func() (string, error)) (int64, error) {
	s, err := readLine()
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed integer %q: %w", s, err)
	}
	return n, nil
}

func malformed(err error) error {
	return dlerr.New(dlerr.KindResumeFailed, "store/meta-load", err)
}

// Delete removes the sidecar file; a missing file is not an error.
func Delete(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return dlerr.New(dlerr.KindWriteError, "store/meta-delete", err)
	}
	return nil
}

// Exists reports whether a sidecar file is present at path.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
