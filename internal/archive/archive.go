// Copyright (C) 2025 lode contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//        http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package archive extracts package archives into a filesystem. Zip
// and gzip-compressed tar archives are supported; the format is
// sniffed from the payload, not the file name.
package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/klauspost/compress/gzip"
)

// ErrCorrupt is returned when the payload is not a readable archive.
var ErrCorrupt = fmt.Errorf("corrupt archive")

// Extensions are the archive file extensions suppliers recognize, in
// preference order.
var Extensions = []string{".zip", ".tar.gz", ".tgz"}

// HasSupportedExtension reports whether name ends in a supported
// archive extension.
func HasSupportedExtension(name string) bool {
	for _, ext := range Extensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

// TrimExtension removes a supported archive extension from name.
func TrimExtension(name string) string {
	for _, ext := range Extensions {
		if strings.HasSuffix(name, ext) {
			return strings.TrimSuffix(name, ext)
		}
	}
	return name
}

// Extract unpacks the archive payload into dir on fs. Entry paths are
// slash-normalized and must stay inside dir; anything else is
// rejected as corrupt.
func Extract(fs billy.Filesystem, dir string, data []byte) error {
	switch {
	case bytes.HasPrefix(data, []byte("PK")):
		return extractZip(fs, dir, data)
	case bytes.HasPrefix(data, []byte{0x1f, 0x8b}):
		return extractTarGz(fs, dir, data)
	}
	return fmt.Errorf("%w: unrecognized format", ErrCorrupt)
}

func extractZip(fs billy.Filesystem, dir string, data []byte) error {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrCorrupt, f.Name, err)
		}
		err = writeEntry(fs, dir, f.Name, rc)
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func extractTarGz(fs billy.Filesystem, dir string, data []byte) error {
	gzr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if err := writeEntry(fs, dir, hdr.Name, tr); err != nil {
			return err
		}
	}
}

// writeEntry writes one archive entry under dir, refusing paths that
// escape it.
func writeEntry(fs billy.Filesystem, dir, name string, r io.Reader) error {
	clean := path.Clean(strings.ReplaceAll(name, "\\", "/"))
	if path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("%w: entry %q escapes archive root", ErrCorrupt, name)
	}

	target := path.Join(dir, clean)
	if err := fs.MkdirAll(path.Dir(target), 0o755); err != nil {
		return err
	}

	f, err := fs.Create(target)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Zip builds a zip archive from a map of entry path to contents.
// Entries are written in sorted order. Used when packaging local
// directories for a supplier and by tests building fixtures.
func Zip(files map[string][]byte) ([]byte, error) {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range names {
		w, err := zw.Create(name)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(files[name]); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// PackDir archives the contents of dir on fs into a zip payload.
func PackDir(fs billy.Filesystem, dir string) ([]byte, error) {
	files := map[string][]byte{}
	if err := walk(fs, dir, "", files); err != nil {
		return nil, err
	}
	return Zip(files)
}

func walk(fs billy.Filesystem, root, rel string, files map[string][]byte) error {
	entries, err := fs.ReadDir(path.Join(root, rel))
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Name() == ".git" {
			continue
		}
		name := path.Join(rel, e.Name())
		if e.IsDir() {
			if err := walk(fs, root, name, files); err != nil {
				return err
			}
			continue
		}
		data, err := util.ReadFile(fs, path.Join(root, name))
		if err != nil {
			return err
		}
		files[name] = data
	}
	return nil
}
