package models

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// MarkerFile records which asset revision a directory was unpacked from.
const MarkerFile = "uuid"

// ErrAssetNotFound is returned when no bundled asset matches the name.
var ErrAssetNotFound = errors.New("model asset not found")

// Unpacker copies model assets bundled with an application into a writable
// directory the engine can open. Unpacking a large model can take seconds.
type Unpacker struct {
	AssetsDir string
	ModelsDir string
}

func NewUnpacker(assetsDir, modelsDir string) *Unpacker {
	return &Unpacker{AssetsDir: assetsDir, ModelsDir: modelsDir}
}

// Unpack makes the asset called name available under ModelsDir and returns
// its path. The asset is either a directory or a .zip archive in AssetsDir.
// A target whose marker matches the asset is reused as is.
func (u *Unpacker) Unpack(ctx context.Context, name string) (string, error) {
	if u.AssetsDir == "" {
		return "", fmt.Errorf("%w: no assets directory configured", ErrAssetNotFound)
	}

	base := strings.TrimSuffix(filepath.Base(filepath.Clean(name)), ".zip")
	if base == "" || base == "." || base == string(filepath.Separator) {
		return "", fmt.Errorf("invalid asset name %q", name)
	}
	target := filepath.Join(u.ModelsDir, base)

	src := filepath.Join(u.AssetsDir, strings.TrimSuffix(name, ".zip"))
	if info, err := os.Stat(src); err == nil && info.IsDir() {
		marker := dirMarker(src, info)
		if readMarker(target) == marker {
			log.Printf("Models: %s already unpacked", base)
			return target, nil
		}
		log.Printf("Models: copying asset %s to %s", src, target)
		return target, u.install(ctx, target, marker, func(tmp string) error {
			return copyDir(ctx, src, tmp)
		})
	}

	archive := src + ".zip"
	if info, err := os.Stat(archive); err == nil && !info.IsDir() {
		marker := fileMarker(archive, info)
		if readMarker(target) == marker {
			log.Printf("Models: %s already unpacked", base)
			return target, nil
		}
		log.Printf("Models: extracting asset %s to %s", archive, target)
		return target, u.install(ctx, target, marker, func(tmp string) error {
			return extractZip(ctx, archive, tmp)
		})
	}

	return "", fmt.Errorf("%w: %s in %s", ErrAssetNotFound, name, u.AssetsDir)
}

// install fills a temp directory and swaps it into place.
func (u *Unpacker) install(ctx context.Context, target, marker string, fill func(tmp string) error) error {
	if err := os.MkdirAll(u.ModelsDir, 0755); err != nil {
		return fmt.Errorf("failed to create models directory: %w", err)
	}

	tmp := target + ".unpacking"
	if err := os.RemoveAll(tmp); err != nil {
		return fmt.Errorf("failed to clear %s: %w", tmp, err)
	}
	if err := fill(tmp); err != nil {
		os.RemoveAll(tmp)
		return err
	}
	if err := os.WriteFile(filepath.Join(tmp, MarkerFile), []byte(marker+"\n"), 0644); err != nil {
		os.RemoveAll(tmp)
		return fmt.Errorf("failed to write marker: %w", err)
	}

	if err := os.RemoveAll(target); err != nil {
		os.RemoveAll(tmp)
		return fmt.Errorf("failed to replace %s: %w", target, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("failed to finalize %s: %w", target, err)
	}
	return nil
}

// dirMarker prefers the uuid file shipped inside the asset and otherwise
// derives a stable id from the asset's path and modification time.
func dirMarker(src string, info fs.FileInfo) string {
	if m := readMarker(src); m != "" {
		return m
	}
	return fileMarker(src, info)
}

func fileMarker(path string, info fs.FileInfo) string {
	seed := fmt.Sprintf("%s|%d|%d", path, info.Size(), info.ModTime().UnixNano())
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(seed)).String()
}

func readMarker(dir string) string {
	data, err := os.ReadFile(filepath.Join(dir, MarkerFile))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func copyDir(ctx context.Context, src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		out := filepath.Join(dst, rel)

		if d.IsDir() {
			return os.MkdirAll(out, 0755)
		}
		if rel == MarkerFile {
			return nil
		}
		return copyFile(path, out)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// extractZip unpacks archive into dst. Model archives wrap everything in a
// single top-level directory; that prefix is stripped.
func extractZip(ctx context.Context, archive, dst string) error {
	r, err := zip.OpenReader(archive)
	if err != nil {
		return fmt.Errorf("open %s: %w", archive, err)
	}
	defer r.Close()

	prefix := commonPrefix(r.File)

	if err := os.MkdirAll(dst, 0755); err != nil {
		return err
	}
	root := filepath.Clean(dst) + string(filepath.Separator)

	for _, f := range r.File {
		if err := ctx.Err(); err != nil {
			return err
		}

		name := strings.TrimPrefix(f.Name, prefix)
		if name == "" {
			continue
		}
		out := filepath.Join(dst, filepath.FromSlash(name))
		if !strings.HasPrefix(out, root) {
			return fmt.Errorf("illegal path in archive: %s", f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(out, 0755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
			return err
		}
		if err := extractFile(f, out); err != nil {
			return fmt.Errorf("extract %s: %w", f.Name, err)
		}
	}
	return nil
}

func extractFile(f *zip.File, out string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	w, err := os.Create(out)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, rc); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// commonPrefix returns "dir/" when every entry lives under the same top-level
// directory, otherwise "".
func commonPrefix(files []*zip.File) string {
	var prefix string
	for _, f := range files {
		first, _, found := strings.Cut(f.Name, "/")
		if !found {
			return ""
		}
		if prefix == "" {
			prefix = first
		} else if prefix != first {
			return ""
		}
	}
	if prefix == "" {
		return ""
	}
	return prefix + "/"
}
