// Package archive provides the content hashing and archive extraction
// primitives used by the installer. Everything here is stateless.
package archive

import (
	_ "crypto/sha256"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	digest "github.com/opencontainers/go-digest"
)

// NewDigester returns a hasher for the canonical (sha256) algorithm.
func NewDigester() digest.Digester {
	return digest.Canonical.Digester()
}

func Digest(r io.Reader) (digest.Digest, error) {
	return digest.Canonical.FromReader(r)
}

func FileDigest(path string) (digest.Digest, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()
	return Digest(file)
}

// ParseDigest accepts "sha256:<hex>", a bare hex string, or a sha256sum
// line ("<hex>  file.zip").
func ParseDigest(raw string) (digest.Digest, error) {
	value := strings.TrimSpace(raw)
	if fields := strings.Fields(value); len(fields) > 0 {
		value = fields[0]
	}
	if value == "" {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("empty checksum")
	}
	if !strings.Contains(value, ":") {
		value = string(digest.SHA256) + ":" + strings.ToLower(value)
	}
	parsed, err := digest.Parse(value)
	if err != nil {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("invalid checksum %q", raw)).
			WithCause(err)
	}
	return parsed, nil
}

// TreeDigest hashes a directory tree: every regular file's slash-separated
// relative path followed by its contents, in case-insensitive path order.
// Symlinks contribute their target instead of contents.
func TreeDigest(root string) (digest.Digest, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return "", err
	}
	sort.Slice(paths, func(i, j int) bool {
		li, lj := strings.ToLower(paths[i]), strings.ToLower(paths[j])
		if li == lj {
			return paths[i] < paths[j]
		}
		return li < lj
	})

	digester := NewDigester()
	hash := digester.Hash()
	for _, rel := range paths {
		full := filepath.Join(root, filepath.FromSlash(rel))
		_, _ = io.WriteString(hash, rel)
		_, _ = hash.Write([]byte{0})
		info, err := os.Lstat(full)
		if err != nil {
			return "", err
		}
		if info.Mode()&os.ModeSymlink != 0 {
			target, err := os.Readlink(full)
			if err != nil {
				return "", err
			}
			_, _ = io.WriteString(hash, target)
		} else if err := hashFile(hash, full); err != nil {
			return "", err
		}
		_, _ = hash.Write([]byte{0})
	}
	return digester.Digest(), nil
}

func hashFile(w io.Writer, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	_, err = io.Copy(w, file)
	return err
}
