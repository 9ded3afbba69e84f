package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"wasmtoolchain/internal/registry"
	"wasmtoolchain/internal/source"
	"wasmtoolchain/internal/toolerr"
)

// VendorResult describes one vendored artifact.
type VendorResult struct {
	Identity registry.ToolIdentity `json:"identity"`
	Path     string                `json:"path"`
	Digest   string                `json:"digest"`
	Origin   source.Origin         `json:"origin,omitempty"`
	Existing bool                  `json:"existing"`
}

// Vendor stores the verified, unextracted artifact for id under root using
// the vendor layout, so an offline session pointed at root can install it.
// Vendored files are verified here; installs from a vendor tree trust them.
func (f *Fetcher) Vendor(ctx context.Context, id registry.ToolIdentity, root string) (VendorResult, error) {
	rec, err := f.registry.Lookup(id)
	if err != nil {
		return VendorResult{}, err
	}
	storage := rec.StorageIdentity()
	dest := source.VendorPath(root, storage, rec.Filename)
	result := VendorResult{Identity: storage, Path: dest, Digest: rec.Digest.String()}

	if ok, _ := verifyFile(rec, dest); ok {
		result.Existing = true
		return result, nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return VendorResult{}, fmt.Errorf("prepare vendor dir: %w", err)
	}

	src, err := f.sources.Resolve(storage, rec.Filename, rec.URL)
	if err != nil {
		return VendorResult{}, err
	}
	result.Origin = src.Origin

	var tmpPath string
	switch src.Kind {
	case source.Remote:
		tmpPath, err = f.download(ctx, rec, src, filepath.Dir(dest))
		if err != nil {
			return VendorResult{}, err
		}
	case source.Local:
		if filepath.Clean(src.Path) == filepath.Clean(dest) {
			return VendorResult{}, toolerr.New(toolerr.KindChecksumMismatch).
				Tool(storage.Name, storage.Version, string(storage.Platform)).
				Paths(dest).
				Detail("vendored file does not match %s", rec.Digest).
				Build()
		}
		tmpPath, err = copyVerified(rec, src.Path, filepath.Dir(dest))
		if err != nil {
			return VendorResult{}, err
		}
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return VendorResult{}, fmt.Errorf("commit vendored artifact: %w", err)
	}

	f.logger.Info("vendored tool",
		zap.String("tool", storage.Key()),
		zap.String("origin", string(src.Origin)),
		zap.String("path", dest))
	return result, nil
}

func verifyFile(rec registry.ToolRecord, path string) (bool, error) {
	file, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer file.Close()
	sum, err := rec.Digest.Sum(file)
	if err != nil {
		return false, err
	}
	return rec.Digest.Matches(sum), nil
}

// copyVerified copies src into a temp file under dir, hashing as it goes.
func copyVerified(rec registry.ToolRecord, src, dir string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(dir, "vendor-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	h, err := rec.Digest.NewHash()
	if err != nil {
		tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", err
	}
	_, copyErr := io.Copy(io.MultiWriter(tmp, h), in)
	closeErr := tmp.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("copy %s: %w", src, errors.Join(copyErr, closeErr))
	}
	if actual := fmt.Sprintf("%x", h.Sum(nil)); !rec.Digest.Matches(actual) {
		_ = os.Remove(tmp.Name())
		return "", toolerr.New(toolerr.KindChecksumMismatch).
			Tool(rec.Identity.Name, rec.Identity.Version, string(rec.Identity.Platform)).
			Paths(src).
			Detail("expected %s, got %s:%s", rec.Digest, rec.Digest.Algorithm, actual).
			Build()
	}
	return tmp.Name(), nil
}
