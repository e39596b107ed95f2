package result

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// MatrixExt is the extension of the per-object deposition files the engine
// writes into a run's output directory.
const MatrixExt = ".txt"

// Parse reads the deposition matrices of one engine run from dir. Each
// "<object>.txt" file is a whitespace separated matrix; lines starting with
// '#' or '%' are comments.
func Parse(dir string) (*Output, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read output dir: %w", err)
	}
	out := &Output{Runs: 1, Objects: map[string]*Deposition{}}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != MatrixExt {
			continue
		}
		name := strings.TrimSuffix(e.Name(), MatrixExt)
		d, err := readMatrix(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		out.Objects[name] = d
	}
	return out, nil
}

// WriteDir stores o in the layout Parse reads.
func (o *Output) WriteDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	for name, d := range o.Objects {
		path := filepath.Join(dir, name+MatrixExt)
		if err := writeMatrix(path, d); err != nil {
			return err
		}
	}
	return nil
}

func readMatrix(path string) (*Deposition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open matrix: %w", err)
	}
	defer f.Close()
	d, err := decodeMatrix(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return d, nil
}

func decodeMatrix(r io.Reader) (*Deposition, error) {
	d := &Deposition{}
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for s.Scan() {
		line++
		text := strings.TrimSpace(s.Text())
		if text == "" || strings.HasPrefix(text, "#") || strings.HasPrefix(text, "%") {
			continue
		}
		fields := strings.Fields(text)
		if d.Rows == 0 {
			d.Cols = len(fields)
		} else if len(fields) != d.Cols {
			return nil, fmt.Errorf("line %d: %d columns, want %d", line, len(fields), d.Cols)
		}
		for _, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			d.Counts = append(d.Counts, v)
		}
		d.Rows++
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return d, nil
}

func writeMatrix(path string, d *Deposition) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create matrix: %w", err)
	}
	w := bufio.NewWriter(f)
	for i := 0; i < d.Rows; i++ {
		for j := 0; j < d.Cols; j++ {
			if j > 0 {
				w.WriteByte(' ')
			}
			w.WriteString(strconv.FormatFloat(d.At(i, j), 'g', -1, 64))
		}
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("write matrix: %w", err)
	}
	return f.Close()
}
