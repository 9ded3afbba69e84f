package checksums

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"
	"go.uber.org/zap"

	"wasmtoolchain/internal/registry"
	"wasmtoolchain/internal/toolerr"
)

// Change classifies how far a new release moves a tool.
type Change string

const (
	ChangeNone     Change = "none"
	ChangeInitial  Change = "initial"
	ChangeMajor    Change = "major"
	ChangeMinor    Change = "minor"
	ChangePatch    Change = "patch"
	ChangeBackport Change = "backport"
	ChangeUnknown  Change = "unknown"
)

// UpdateOptions controls one tool update.
type UpdateOptions struct {
	// Version pins the release to record; empty means the latest release.
	Version string
	// DryRun hashes the assets but leaves the tool file untouched.
	DryRun bool
	// Force re-records a version that is already present.
	Force bool
}

// PlatformResult is the outcome for one platform asset.
type PlatformResult struct {
	Platform registry.Platform `json:"platform"`
	Asset    string            `json:"asset"`
	Digest   string            `json:"digest,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// UpdateResult describes what an update found and did.
type UpdateResult struct {
	Tool        string           `json:"tool"`
	Path        string           `json:"path"`
	Previous    string           `json:"previous"`
	Version     string           `json:"version"`
	Tag         string           `json:"tag"`
	ReleaseDate string           `json:"release_date,omitempty"`
	Change      Change           `json:"change"`
	Updated     bool             `json:"updated"`
	DryRun      bool             `json:"dry_run,omitempty"`
	Platforms   []PlatformResult `json:"platforms,omitempty"`
}

// Updater records digests of new upstream releases into registry tool files.
type Updater struct {
	Releases *ReleaseClient
	Sum      Summer
	Logger   *zap.Logger
}

// Update looks up a release of tool's GitHub repo, hashes every platform
// asset the tool file expects, and records the new version in dir. Platforms
// whose asset is missing or cannot be downloaded are skipped with a warning;
// an update that hashes nothing fails.
func (u *Updater) Update(ctx context.Context, dir, tool string, opts UpdateOptions) (UpdateResult, error) {
	logger := u.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	doc, err := registry.OpenDocument(dir, tool)
	if err != nil {
		return UpdateResult{}, err
	}
	repo := doc.GitHubRepo()
	if repo == "" {
		return UpdateResult{}, toolerr.New(toolerr.KindInvalidInput).
			Tool(tool, "", "").
			Detail("tool file %s has no github_repo", doc.Path()).
			Build()
	}

	var tags []string
	if opts.Version != "" {
		tags = append(tags, doc.Tag(opts.Version))
		if tags[0] != opts.Version {
			tags = append(tags, opts.Version)
		}
	}
	release, err := u.Releases.Release(ctx, repo, tags...)
	if err != nil {
		return UpdateResult{}, fmt.Errorf("%s: %w", tool, err)
	}

	version := opts.Version
	if version == "" {
		version = doc.VersionFromTag(release.TagName)
	}
	result := UpdateResult{
		Tool:        tool,
		Path:        doc.Path(),
		Previous:    doc.Latest(),
		Version:     version,
		Tag:         release.TagName,
		ReleaseDate: release.ReleaseDate(),
		DryRun:      opts.DryRun,
	}
	if doc.HasVersion(version) && !opts.Force {
		result.Change = ChangeNone
		logger.Info("tool already records release",
			zap.String("tool", tool),
			zap.String("version", version))
		return result, nil
	}
	result.Change = classify(result.Previous, version)

	assets, err := doc.Assets(version)
	if err != nil {
		return UpdateResult{}, err
	}
	digests := make(map[registry.Platform]string, len(assets))
	for _, asset := range assets {
		pr := PlatformResult{Platform: asset.Platform, Asset: asset.Filename}
		url, ok := release.Asset(asset.Filename)
		if !ok {
			pr.Error = "asset not published"
			logger.Warn("release has no asset for platform",
				zap.String("tool", tool),
				zap.String("tag", release.TagName),
				zap.String("platform", string(asset.Platform)),
				zap.String("asset", asset.Filename))
			result.Platforms = append(result.Platforms, pr)
			continue
		}
		sum, err := u.Sum.Checksum(ctx, url, asset.Algorithm)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return UpdateResult{}, ctxErr
			}
			pr.Error = err.Error()
			logger.Warn("skipping platform that failed to download",
				zap.String("tool", tool),
				zap.String("platform", string(asset.Platform)),
				zap.String("url", url),
				zap.Error(err))
			result.Platforms = append(result.Platforms, pr)
			continue
		}
		pr.Digest = string(asset.Algorithm) + ":" + sum
		digests[asset.Platform] = sum
		result.Platforms = append(result.Platforms, pr)
	}
	if len(digests) == 0 {
		return result, toolerr.New(toolerr.KindDownloadFailed).
			Tool(tool, version, "").
			Detail("no platform asset of release %s could be hashed", release.TagName).
			Build()
	}

	if opts.DryRun {
		return result, nil
	}
	if err := doc.AddVersion(version, result.ReleaseDate, digests); err != nil {
		return result, err
	}
	if err := doc.Save(); err != nil {
		return result, err
	}
	result.Updated = true
	logger.Info("recorded release",
		zap.String("tool", tool),
		zap.String("version", version),
		zap.String("change", string(result.Change)),
		zap.Int("platforms", len(digests)))
	return result, nil
}

// UpdateAll runs Update for each tool and joins the failures.
func (u *Updater) UpdateAll(ctx context.Context, dir string, tools []string, opts UpdateOptions) ([]UpdateResult, error) {
	var (
		results []UpdateResult
		errs    []error
	)
	for _, tool := range tools {
		res, err := u.Update(ctx, dir, tool, opts)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return results, ctxErr
			}
			errs = append(errs, err)
			continue
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

func classify(previous, next string) Change {
	if previous == "" {
		return ChangeInitial
	}
	p, errP := semver.NewVersion(previous)
	n, errN := semver.NewVersion(next)
	if errP != nil || errN != nil {
		return ChangeUnknown
	}
	switch {
	case n.Equal(p):
		return ChangeNone
	case n.LessThan(p):
		return ChangeBackport
	case n.Major() != p.Major():
		return ChangeMajor
	case n.Minor() != p.Minor():
		return ChangeMinor
	default:
		return ChangePatch
	}
}
