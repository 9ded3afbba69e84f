package fetch

import (
	"archive/tar"
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"wasmtoolchain/internal/registry"
)

func extractArchive(ctx context.Context, runner Runner, kind registry.ArchiveKind, archivePath, dest string) error {
	switch kind {
	case registry.ArchiveZip:
		return extractZip(archivePath, dest)
	case registry.ArchiveTarGz:
		return extractTarGz(archivePath, dest)
	case registry.ArchiveTarZs:
		return extractTarZst(archivePath, dest)
	case registry.ArchiveTarXz:
		return extractTarXz(ctx, runner, archivePath, dest)
	default:
		return fmt.Errorf("unsupported archive format %q", kind)
	}
}

// safeJoin resolves an archive entry name under dest, rejecting absolute
// names and any entry that would land outside dest.
func safeJoin(dest, name string) (string, error) {
	clean := filepath.FromSlash(name)
	if filepath.IsAbs(clean) || strings.HasPrefix(name, "/") || filepath.VolumeName(clean) != "" {
		return "", fmt.Errorf("archive entry %q is absolute", name)
	}
	target := filepath.Join(dest, clean)
	rel, err := filepath.Rel(dest, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("archive entry %q escapes destination", name)
	}
	return target, nil
}

// checkRealPath fails if any existing component of target below dest is a
// symlink, so links created by earlier entries cannot redirect later writes.
func checkRealPath(dest, target string) error {
	rel, err := filepath.Rel(dest, target)
	if err != nil {
		return fmt.Errorf("archive entry %s escapes destination", target)
	}
	cur := dest
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if part == "" || part == "." {
			continue
		}
		cur = filepath.Join(cur, part)
		info, err := os.Lstat(cur)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("inspect %s: %w", cur, err)
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("archive entry %s passes through symlink %s", target, cur)
		}
	}
	return nil
}

func extractZip(archivePath, dest string) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("open zip: %w", err)
	}
	defer reader.Close()

	for _, file := range reader.File {
		target, err := safeJoin(dest, file.Name)
		if err != nil {
			return err
		}
		if err := checkRealPath(dest, target); err != nil {
			return err
		}
		if file.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("create dir %s: %w", target, err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("prepare file %s: %w", target, err)
		}
		rc, err := file.Open()
		if err != nil {
			return fmt.Errorf("open zip entry %s: %w", file.Name, err)
		}
		err = writeFile(target, rc, file.Mode().Perm()|0o600)
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func extractTarGz(archivePath, dest string) error {
	file, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer file.Close()

	gz, err := gzip.NewReader(file)
	if err != nil {
		return fmt.Errorf("gzip reader: %w", err)
	}
	defer gz.Close()

	return untarStream(gz, dest)
}

func extractTarZst(archivePath, dest string) error {
	file, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer file.Close()

	dec, err := zstd.NewReader(file)
	if err != nil {
		return fmt.Errorf("zstd reader: %w", err)
	}
	defer dec.Close()

	return untarStream(dec, dest)
}

// extractTarXz shells out to tar; there is no xz decoder in the dependency
// set. GNU and BSD tar both refuse entries containing "..".
func extractTarXz(ctx context.Context, runner Runner, archivePath, dest string) error {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("prepare extract dir: %w", err)
	}
	if _, err := runner.Run(ctx, "tar", "-xJf", archivePath, "-C", dest); err != nil {
		return fmt.Errorf("tar extract: %w", err)
	}
	return nil
}

func untarStream(r io.Reader, dest string) error {
	tr := tar.NewReader(r)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tar header: %w", err)
		}
		target, err := safeJoin(dest, header.Name)
		if err != nil {
			return err
		}
		check := target
		if header.Typeflag == tar.TypeSymlink {
			check = filepath.Dir(target)
		}
		if err := checkRealPath(dest, check); err != nil {
			return err
		}
		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("create dir %s: %w", target, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("prepare file %s: %w", target, err)
			}
			if err := writeFile(target, tr, os.FileMode(header.Mode).Perm()|0o600); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := extractSymlink(dest, target, header.Linkname); err != nil {
				return err
			}
		default:
			// Hard links, devices and fifos are never needed for a tool binary.
		}
	}
}

// extractSymlink creates a relative symlink whose target stays inside dest.
// SDK archives ship versioned binaries behind such links (bin/clang). The
// link name must be in clean form so ".." only ever climbs real directories.
func extractSymlink(dest, target, linkname string) error {
	if filepath.IsAbs(linkname) || strings.HasPrefix(linkname, "/") {
		return fmt.Errorf("symlink %s points to absolute path %q", target, linkname)
	}
	if path.Clean(linkname) != strings.TrimSuffix(linkname, "/") {
		return fmt.Errorf("symlink %s has non-canonical target %q", target, linkname)
	}
	resolved := filepath.Join(filepath.Dir(target), filepath.FromSlash(linkname))
	rel, err := filepath.Rel(dest, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("symlink %s escapes destination", target)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("prepare symlink %s: %w", target, err)
	}
	if err := os.Symlink(linkname, target); err != nil {
		return fmt.Errorf("create symlink %s: %w", target, err)
	}
	return nil
}

func writeFile(target string, r io.Reader, mode os.FileMode) error {
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("create file %s: %w", target, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("write file %s: %w", target, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close file %s: %w", target, err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return writeFile(dst, in, 0o644)
}

func chmodExec(path string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	if err := os.Chmod(path, 0o755); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	return nil
}
