package registry

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/kaptinlin/jsonschema"
	"github.com/tidwall/jsonc"
)

//go:embed data/schema.json data/tools/*.jsonc
var embedded embed.FS

// toolFile mirrors one checksums/tools/<tool>.jsonc document.
type toolFile struct {
	ToolName         string                 `json:"tool_name"`
	GitHubRepo       string                 `json:"github_repo"`
	TagPrefix        string                 `json:"tag_prefix,omitempty"`
	LatestVersion    string                 `json:"latest_version"`
	Binary           string                 `json:"binary,omitempty"`
	URLTemplate      string                 `json:"url_template"`
	FilenameTemplate string                 `json:"filename_template"`
	StripPrefix      string                 `json:"strip_prefix,omitempty"`
	BinaryPaths      []string               `json:"binary_paths,omitempty"`
	Universal        bool                   `json:"universal,omitempty"`
	Versions         map[string]versionInfo `json:"versions"`
}

type versionInfo struct {
	ReleaseDate string                  `json:"release_date"`
	Platforms   map[string]platformInfo `json:"platforms"`
}

type platformInfo struct {
	SHA256       string `json:"sha256,omitempty"`
	BLAKE3       string `json:"blake3,omitempty"`
	URLSuffix    string `json:"url_suffix"`
	PlatformName string `json:"platform_name,omitempty"`
}

func (p platformInfo) digest() (Digest, error) {
	switch {
	case p.SHA256 != "":
		return ParseDigest(string(SHA256) + ":" + p.SHA256)
	case p.BLAKE3 != "":
		return ParseDigest(string(BLAKE3) + ":" + p.BLAKE3)
	default:
		return Digest{}, nil
	}
}

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func toolSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		data, err := embedded.ReadFile("data/schema.json")
		if err != nil {
			schemaErr = fmt.Errorf("read schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		schema, schemaErr = compiler.Compile(data)
		if schemaErr != nil {
			schemaErr = fmt.Errorf("compile schema: %w", schemaErr)
		}
	})
	return schema, schemaErr
}

// parseToolFile strips JSONC comments, validates the document against the
// registry schema and decodes it.
func parseToolFile(name string, raw []byte) (toolFile, error) {
	data := jsonc.ToJSON(raw)

	s, err := toolSchema()
	if err != nil {
		return toolFile{}, err
	}
	result := s.ValidateJSON(data)
	if !result.IsValid() {
		return toolFile{}, fmt.Errorf("%s: schema validation failed: %v", name, result.Errors)
	}

	var tf toolFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return toolFile{}, fmt.Errorf("%s: decode: %w", name, err)
	}
	if err := tf.check(); err != nil {
		return toolFile{}, fmt.Errorf("%s: %w", name, err)
	}
	return tf, nil
}

// check enforces the invariants the schema cannot express.
func (tf toolFile) check() error {
	if len(tf.Versions) == 0 {
		return errors.New("no versions")
	}
	for version, info := range tf.Versions {
		for key, pinfo := range info.Platforms {
			if _, err := pinfo.digest(); err != nil {
				return fmt.Errorf("version %s platform %s: %w", version, key, err)
			}
			if tf.Universal {
				if Platform(key) != PlatformAny {
					return fmt.Errorf("version %s: universal tool must only list %q, found %q", version, PlatformAny, key)
				}
				continue
			}
			p, err := NormalizePlatform(key)
			if err != nil {
				return fmt.Errorf("version %s: %w", version, err)
			}
			if string(p) != key {
				return fmt.Errorf("version %s: platform %q must be written canonically as %q", version, key, p)
			}
		}
	}
	if tf.LatestVersion != "" {
		if _, ok := tf.Versions[tf.LatestVersion]; !ok {
			return fmt.Errorf("latest_version %s has no entry", tf.LatestVersion)
		}
	}
	return nil
}

// loadFS reads every *.jsonc/*.json tool file under dir in fsys.
func loadFS(fsys fs.FS, dir string) (map[string]toolFile, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read registry dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var errs []error
	tools := make(map[string]toolFile, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !(strings.HasSuffix(name, ".jsonc") || strings.HasSuffix(name, ".json")) {
			continue
		}
		raw, err := fs.ReadFile(fsys, path.Join(dir, name))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		tf, err := parseToolFile(name, raw)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := tools[tf.ToolName]; dup {
			errs = append(errs, fmt.Errorf("%s: duplicate tool %q", name, tf.ToolName))
			continue
		}
		tools[tf.ToolName] = tf
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if len(tools) == 0 {
		return nil, fmt.Errorf("registry dir %s contains no tool files", dir)
	}
	return tools, nil
}

// ValidateDir parses and validates every tool file in dir without building a
// Registry. Used by `checksums validate`.
func ValidateDir(dir string) ([]string, error) {
	tools, err := loadFS(os.DirFS(dir), ".")
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(tools))
	for name := range tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
