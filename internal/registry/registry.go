// Package registry is the immutable checksum registry: (tool, version,
// platform) to digest, download location and archive layout. Lookups are pure;
// nothing here touches the network.
package registry

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"

	"wasmtoolchain/internal/toolerr"
)

// Registry holds the loaded tool files. It is never mutated after Load.
type Registry struct {
	tools map[string]toolFile
}

// Default loads the registry data compiled into the binary.
func Default() (*Registry, error) {
	return loadRegistry(embedded, "data/tools")
}

// LoadDir loads tool files from an on-disk directory.
func LoadDir(dir string) (*Registry, error) {
	return loadRegistry(os.DirFS(dir), ".")
}

// LoadFS loads tool files from dir within fsys.
func LoadFS(fsys fs.FS, dir string) (*Registry, error) {
	return loadRegistry(fsys, dir)
}

func loadRegistry(fsys fs.FS, dir string) (*Registry, error) {
	tools, err := loadFS(fsys, dir)
	if err != nil {
		return nil, err
	}
	return &Registry{tools: tools}, nil
}

// Tools returns the known tool names, sorted.
func (r *Registry) Tools() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Versions returns the known versions of a tool, newest first.
func (r *Registry) Versions(tool string) []string {
	tf, ok := r.tools[tool]
	if !ok {
		return nil
	}
	versions := make([]string, 0, len(tf.Versions))
	for v := range tf.Versions {
		versions = append(versions, v)
	}
	sortVersionsDesc(versions)
	return versions
}

// Platforms returns the platforms a tool version supports, sorted. Universal
// tools report every canonical platform.
func (r *Registry) Platforms(tool, version string) []Platform {
	tf, ok := r.tools[tool]
	if !ok {
		return nil
	}
	info, ok := tf.Versions[version]
	if !ok {
		return nil
	}
	if tf.Universal {
		return CanonicalPlatforms()
	}
	out := make([]Platform, 0, len(info.Platforms))
	for key := range info.Platforms {
		out = append(out, Platform(key))
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Latest returns the tool's latest_version, or the highest known version.
func (r *Registry) Latest(tool string) (string, bool) {
	tf, ok := r.tools[tool]
	if !ok {
		return "", false
	}
	if tf.LatestVersion != "" {
		return tf.LatestVersion, true
	}
	versions := r.Versions(tool)
	if len(versions) == 0 {
		return "", false
	}
	return versions[0], true
}

// GitHubRepo returns the owner/repo of a tool, if recorded.
func (r *Registry) GitHubRepo(tool string) string {
	return r.tools[tool].GitHubRepo
}

// Has reports whether the exact tool/version pair is known.
func (r *Registry) Has(tool, version string) bool {
	tf, ok := r.tools[tool]
	if !ok {
		return false
	}
	_, ok = tf.Versions[version]
	return ok
}

// Lookup returns the record for id. An identity whose platform is not in the
// tool/version's known set is UnsupportedPlatform; a record without a digest
// is MissingDigest. Neither ever yields a usable record.
func (r *Registry) Lookup(id ToolIdentity) (ToolRecord, error) {
	tf, ok := r.tools[id.Name]
	if !ok {
		return ToolRecord{}, toolerr.New(toolerr.KindUnknownTool).
			Tool(id.Name, id.Version, string(id.Platform)).
			Alternatives(r.Tools()...).
			Build()
	}
	info, ok := tf.Versions[id.Version]
	if !ok {
		return ToolRecord{}, toolerr.New(toolerr.KindUnknownVersion).
			Tool(id.Name, id.Version, string(id.Platform)).
			Alternatives(r.Versions(id.Name)...).
			Build()
	}

	platform, err := NormalizePlatform(string(id.Platform))
	if err != nil {
		return ToolRecord{}, r.unsupported(id, err.Error())
	}
	id.Platform = platform

	recordKey := platform
	if tf.Universal {
		recordKey = PlatformAny
	}
	pinfo, ok := info.Platforms[string(recordKey)]
	if !ok {
		return ToolRecord{}, r.unsupported(id, "")
	}

	digest, err := pinfo.digest()
	if err != nil || digest.IsZero() {
		b := toolerr.New(toolerr.KindMissingDigest).
			Tool(id.Name, id.Version, string(id.Platform)).
			Detail("registry entry has no usable digest; refusing to authorize a download")
		if err != nil {
			b.Cause(err)
		}
		return ToolRecord{}, b.Build()
	}

	return buildRecord(tf, id, recordKey, info, pinfo, digest), nil
}

func (r *Registry) unsupported(id ToolIdentity, detail string) error {
	platforms := r.Platforms(id.Name, id.Version)
	alts := make([]string, len(platforms))
	for i, p := range platforms {
		alts[i] = string(p)
	}
	b := toolerr.New(toolerr.KindUnsupportedPlatform).
		Tool(id.Name, id.Version, string(id.Platform)).
		Alternatives(alts...)
	if detail != "" {
		b.Detail("%s", detail)
	}
	return b.Build()
}

func buildRecord(tf toolFile, id ToolIdentity, recordKey Platform, info versionInfo, pinfo platformInfo, digest Digest) ToolRecord {
	vars := templateVars{
		tool:         tf.ToolName,
		version:      id.Version,
		repo:         tf.GitHubRepo,
		platform:     string(recordKey),
		platformName: pinfo.PlatformName,
		urlSuffix:    pinfo.URLSuffix,
	}
	filename := vars.expand(tf.FilenameTemplate)
	vars.filename = filename

	binary := binaryName(tf, id.Platform)
	candidates := make([]string, 0, len(tf.BinaryPaths)+3)
	for _, p := range tf.BinaryPaths {
		candidates = append(candidates, withExe(vars.expand(p), id.Platform))
	}
	candidates = append(candidates,
		binary,
		path.Join("bin", binary),
		path.Join(tf.ToolName, binary),
	)

	layout := Layout{Candidates: candidates}
	if tf.StripPrefix != "" {
		layout.StripPrefix = vars.expand(tf.StripPrefix)
	}

	return ToolRecord{
		Identity:       id,
		RecordPlatform: recordKey,
		Digest:         digest,
		Archive:        ArchiveKindFor(filename),
		Filename:       filename,
		URL:            vars.expand(tf.URLTemplate),
		GitHubRepo:     tf.GitHubRepo,
		ReleaseDate:    info.ReleaseDate,
		Binary:         binary,
		Layout:         layout,
	}
}

func binaryName(tf toolFile, platform Platform) string {
	name := tf.Binary
	if name == "" {
		name = tf.ToolName
	}
	return withExe(name, platform)
}

// withExe appends .exe for Windows targets when the name has no extension.
func withExe(name string, platform Platform) string {
	if platform.OS() != "windows" || path.Ext(name) != "" {
		return name
	}
	return name + ".exe"
}

type templateVars struct {
	tool         string
	version      string
	repo         string
	platform     string
	platformName string
	urlSuffix    string
	filename     string
}

func (v templateVars) expand(tmpl string) string {
	platformName := v.platformName
	if platformName == "" {
		platformName = v.platform
	}
	return strings.NewReplacer(
		"{tool}", v.tool,
		"{version}", v.version,
		"{repo}", v.repo,
		"{platform}", v.platform,
		"{platform_name}", platformName,
		"{url_suffix}", v.urlSuffix,
		"{filename}", v.filename,
	).Replace(tmpl)
}

func sortVersionsDesc(versions []string) {
	sort.SliceStable(versions, func(i, j int) bool {
		vi, errI := semver.NewVersion(versions[i])
		vj, errJ := semver.NewVersion(versions[j])
		if errI != nil || errJ != nil {
			return versions[i] > versions[j]
		}
		return vi.GreaterThan(vj)
	})
}

// String summarizes the registry for logs.
func (r *Registry) String() string {
	return fmt.Sprintf("registry(%d tools)", len(r.tools))
}
