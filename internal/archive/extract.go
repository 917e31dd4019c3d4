package archive

import (
	"archive/tar"
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
)

type Format string

const (
	FormatZip   Format = "zip"
	FormatTarGz Format = "tar.gz"
)

var (
	zipMagic      = []byte("PK\x03\x04")
	zipEmptyMagic = []byte("PK\x05\x06")
	gzipMagic     = []byte{0x1f, 0x8b}
)

// ErrUnsupportedFormat is returned for archives that are neither zip nor
// gzip-compressed tar.
var ErrUnsupportedFormat = errors.New("unsupported archive format")

// DetectFormat sniffs the archive format from its leading bytes.
func DetectFormat(path string) (Format, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()
	header := make([]byte, 4)
	n, err := io.ReadFull(file, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	header = header[:n]
	switch {
	case bytes.HasPrefix(header, zipMagic), bytes.HasPrefix(header, zipEmptyMagic):
		return FormatZip, nil
	case bytes.HasPrefix(header, gzipMagic):
		return FormatTarGz, nil
	default:
		return "", ErrUnsupportedFormat
	}
}

// Extract unpacks archivePath into dest, which is created if missing.
// Entries that would land outside dest, lexically or through a symlink
// unpacked earlier, are rejected.
func Extract(archivePath string, dest string) error {
	format, err := DetectFormat(archivePath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}
	root, err := filepath.EvalSymlinks(dest)
	if err != nil {
		return err
	}
	switch format {
	case FormatZip:
		return extractZip(archivePath, root)
	default:
		return extractTarGz(archivePath, root)
	}
}

func extractZip(archivePath string, dest string) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return err
	}
	defer reader.Close()
	for _, entry := range reader.File {
		target, err := resolveEntry(dest, entry.Name)
		if err != nil {
			return err
		}
		mode := entry.Mode()
		switch {
		case mode.IsDir():
			if err := mkdirEntry(dest, target, mode); err != nil {
				return err
			}
		case mode&os.ModeSymlink != 0:
			rc, err := entry.Open()
			if err != nil {
				return err
			}
			link, err := io.ReadAll(io.LimitReader(rc, 4096))
			rc.Close()
			if err != nil {
				return err
			}
			if err := writeSymlink(dest, target, string(link)); err != nil {
				return err
			}
		default:
			rc, err := entry.Open()
			if err != nil {
				return err
			}
			err = writeFile(target, rc, mode)
			rc.Close()
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func extractTarGz(archivePath string, dest string) error {
	file, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer file.Close()
	gz, err := gzip.NewReader(bufio.NewReader(file))
	if err != nil {
		return err
	}
	defer gz.Close()
	reader := tar.NewReader(gz)
	for {
		header, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		target, err := resolveEntry(dest, header.Name)
		if err != nil {
			return err
		}
		mode := header.FileInfo().Mode()
		switch header.Typeflag {
		case tar.TypeDir:
			if err := mkdirEntry(dest, target, mode); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeFile(target, reader, mode); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := writeSymlink(dest, target, header.Linkname); err != nil {
				return err
			}
		case tar.TypeLink:
			source, err := resolveEntry(dest, header.Linkname)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := removeLink(target); err != nil {
				return err
			}
			if err := os.Link(source, target); err != nil {
				return err
			}
		default:
			continue
		}
	}
}

func safeJoin(dest string, name string) (string, error) {
	cleanName := filepath.FromSlash(strings.TrimSpace(name))
	if filepath.IsAbs(cleanName) {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("archive entry has absolute path: %s", name))
	}
	target := filepath.Join(dest, cleanName)
	if !within(dest, target) {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("archive entry escapes destination: %s", name))
	}
	return target, nil
}

func within(root string, path string) bool {
	rel, err := filepath.Rel(root, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// resolveEntry maps an entry name to its on-disk location under root. The
// existing part of the parent directory is resolved through symlinks, so
// a link unpacked earlier cannot redirect later entries outside root.
func resolveEntry(root string, name string) (string, error) {
	target, err := safeJoin(root, name)
	if err != nil {
		return "", err
	}
	existing := filepath.Dir(target)
	var missing []string
	for existing != root {
		if _, err := os.Lstat(existing); err == nil {
			break
		}
		missing = append([]string{filepath.Base(existing)}, missing...)
		existing = filepath.Dir(existing)
	}
	real, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("archive entry has unresolvable parent: %s", name)).
			WithCause(err)
	}
	real = filepath.Join(append(append([]string{real}, missing...), filepath.Base(target))...)
	if !within(root, real) {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("archive entry escapes destination through a symlink: %s", name))
	}
	return real, nil
}

// writeSymlink creates target -> link. target must already be resolved
// by resolveEntry so the link is judged from where it really lives.
func writeSymlink(dest string, target string, link string) error {
	resolved := filepath.Join(filepath.Dir(target), link)
	if filepath.IsAbs(link) || !within(dest, resolved) {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("archive symlink points outside destination: %s -> %s", target, link))
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	if err := removeLink(target); err != nil {
		return err
	}
	return os.Symlink(link, target)
}

// removeLink drops an earlier entry's symlink at target so the next write
// replaces the link instead of following it.
func removeLink(target string) error {
	info, err := os.Lstat(target)
	if err != nil || info.Mode()&os.ModeSymlink == 0 {
		return nil
	}
	return os.Remove(target)
}

func mkdirEntry(root string, target string, mode os.FileMode) error {
	if info, err := os.Lstat(target); err == nil && info.Mode()&os.ModeSymlink != 0 {
		real, err := filepath.EvalSymlinks(target)
		if err != nil || !within(root, real) {
			return errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(fmt.Sprintf("archive directory is a symlink outside destination: %s", target))
		}
		return nil
	}
	return os.MkdirAll(target, dirMode(mode))
}

func writeFile(target string, r io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	if err := removeLink(target); err != nil {
		return err
	}
	perm := mode.Perm()
	if perm == 0 {
		perm = 0o644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func dirMode(mode os.FileMode) os.FileMode {
	perm := mode.Perm()
	if perm == 0 {
		return 0o755
	}
	return perm | 0o700
}
