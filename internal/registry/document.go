package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"

	"wasmtoolchain/internal/toolerr"
)

// Document is one on-disk tool file opened for editing. Saving rewrites it as
// plain JSON; comments in the original are not preserved.
type Document struct {
	path string
	file toolFile
}

// ReleaseAsset is a file a new release must publish for one platform, derived
// from the platform entries of the tool's current latest version.
type ReleaseAsset struct {
	Platform  Platform        `json:"platform"`
	Filename  string          `json:"filename"`
	URL       string          `json:"url"`
	Algorithm DigestAlgorithm `json:"algorithm"`
}

// OpenDocument finds the tool file for tool in dir.
func OpenDocument(dir, tool string) (*Document, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read registry dir: %w", err)
	}
	var known []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !(strings.HasSuffix(name, ".jsonc") || strings.HasSuffix(name, ".json")) {
			continue
		}
		p := filepath.Join(dir, name)
		raw, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		tf, err := parseToolFile(name, raw)
		if err != nil {
			return nil, err
		}
		if tf.ToolName == tool {
			return &Document{path: p, file: tf}, nil
		}
		known = append(known, tf.ToolName)
	}
	sort.Strings(known)
	return nil, toolerr.New(toolerr.KindUnknownTool).
		Tool(tool, "", "").
		Detail("no tool file in %s", dir).
		Alternatives(known...).
		Build()
}

func (d *Document) Path() string       { return d.path }
func (d *Document) Tool() string       { return d.file.ToolName }
func (d *Document) GitHubRepo() string { return d.file.GitHubRepo }

// Latest returns latest_version, or the highest recorded version.
func (d *Document) Latest() string {
	if d.file.LatestVersion != "" {
		return d.file.LatestVersion
	}
	versions := make([]string, 0, len(d.file.Versions))
	for v := range d.file.Versions {
		versions = append(versions, v)
	}
	sortVersionsDesc(versions)
	if len(versions) == 0 {
		return ""
	}
	return versions[0]
}

func (d *Document) HasVersion(version string) bool {
	_, ok := d.file.Versions[version]
	return ok
}

func (d *Document) tagPrefix() string {
	if d.file.TagPrefix != "" {
		return d.file.TagPrefix
	}
	return "v"
}

// Tag is the release tag a version is published under.
func (d *Document) Tag(version string) string {
	return d.tagPrefix() + version
}

// VersionFromTag strips the tool's tag prefix from a release tag.
func (d *Document) VersionFromTag(tag string) string {
	if v, ok := strings.CutPrefix(tag, d.tagPrefix()); ok && v != "" {
		return v
	}
	return strings.TrimPrefix(tag, "v")
}

// Assets lists the per-platform files version is expected to publish. The
// platform set and naming follow the current latest version.
func (d *Document) Assets(version string) ([]ReleaseAsset, error) {
	tmpl, ok := d.file.Versions[d.Latest()]
	if !ok {
		return nil, fmt.Errorf("%s: no version to use as a template", d.file.ToolName)
	}
	keys := make([]string, 0, len(tmpl.Platforms))
	for key := range tmpl.Platforms {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	assets := make([]ReleaseAsset, 0, len(keys))
	for _, key := range keys {
		pinfo := tmpl.Platforms[key]
		vars := templateVars{
			tool:         d.file.ToolName,
			version:      version,
			repo:         d.file.GitHubRepo,
			platform:     key,
			platformName: pinfo.PlatformName,
			urlSuffix:    pinfo.URLSuffix,
		}
		vars.filename = vars.expand(d.file.FilenameTemplate)
		alg := SHA256
		if pinfo.SHA256 == "" && pinfo.BLAKE3 != "" {
			alg = BLAKE3
		}
		assets = append(assets, ReleaseAsset{
			Platform:  Platform(key),
			Filename:  vars.filename,
			URL:       vars.expand(d.file.URLTemplate),
			Algorithm: alg,
		})
	}
	return assets, nil
}

// AddVersion records version with the given per-platform hex digests and
// advances latest_version when version is newer. Platforms without a digest
// are left out of the entry.
func (d *Document) AddVersion(version, releaseDate string, digests map[Platform]string) error {
	if len(digests) == 0 {
		return fmt.Errorf("%s %s: no platform digests", d.file.ToolName, version)
	}
	tmpl := d.file.Versions[d.Latest()]
	info := versionInfo{ReleaseDate: releaseDate, Platforms: make(map[string]platformInfo, len(digests))}
	for platform, sum := range digests {
		base, ok := tmpl.Platforms[string(platform)]
		if !ok {
			return fmt.Errorf("%s %s: platform %s has no template entry", d.file.ToolName, version, platform)
		}
		entry := platformInfo{URLSuffix: base.URLSuffix, PlatformName: base.PlatformName}
		if base.SHA256 == "" && base.BLAKE3 != "" {
			entry.BLAKE3 = strings.ToLower(sum)
		} else {
			entry.SHA256 = strings.ToLower(sum)
		}
		info.Platforms[string(platform)] = entry
	}

	next := d.file
	next.Versions = make(map[string]versionInfo, len(d.file.Versions)+1)
	for k, v := range d.file.Versions {
		next.Versions[k] = v
	}
	next.Versions[version] = info
	if newer(version, d.Latest()) {
		next.LatestVersion = version
	}
	if err := next.check(); err != nil {
		return fmt.Errorf("%s %s: %w", d.file.ToolName, version, err)
	}
	d.file = next
	return nil
}

// Save validates the document against the schema and atomically replaces
// the file on disk.
func (d *Document) Save() error {
	data, err := json.MarshalIndent(d.file, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", d.file.ToolName, err)
	}
	data = append(data, '\n')
	if _, err := parseToolFile(filepath.Base(d.path), data); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(d.path), ".tool-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, d.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace %s: %w", d.path, err)
	}
	return nil
}

// newer reports whether candidate sorts above current. Versions semver
// cannot parse fall back to string order.
func newer(candidate, current string) bool {
	if current == "" {
		return true
	}
	c, errC := semver.NewVersion(candidate)
	p, errP := semver.NewVersion(current)
	if errC != nil || errP != nil {
		return candidate > current
	}
	return c.GreaterThan(p)
}
