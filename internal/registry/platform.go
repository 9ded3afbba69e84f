package registry

import (
	"fmt"
	"runtime"
	"strings"
)

// Platform is a normalized `{os}_{arch}` tag.
type Platform string

// PlatformAny keys records that serve every platform (e.g. .wasm helpers).
const PlatformAny Platform = "any"

var (
	canonicalOS   = []string{"darwin", "linux", "windows"}
	canonicalArch = []string{"amd64", "arm64"}

	osAliases = map[string]string{
		"darwin":  "darwin",
		"macos":   "darwin",
		"mac":     "darwin",
		"osx":     "darwin",
		"apple":   "darwin",
		"linux":   "linux",
		"windows": "windows",
		"win":     "windows",
		"win32":   "windows",
	}
	archAliases = map[string]string{
		"amd64":   "amd64",
		"x86_64":  "amd64",
		"x64":     "amd64",
		"arm64":   "arm64",
		"aarch64": "arm64",
	}
)

// CanonicalPlatforms lists every supported platform tag in stable order.
func CanonicalPlatforms() []Platform {
	out := make([]Platform, 0, len(canonicalOS)*len(canonicalArch))
	for _, osName := range canonicalOS {
		for _, arch := range canonicalArch {
			out = append(out, Platform(osName+"_"+arch))
		}
	}
	return out
}

// NormalizePlatform maps loose spellings ("macos-aarch64", "linux/x86_64",
// "darwin_arm64") onto the canonical tag.
func NormalizePlatform(raw string) (Platform, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	if value == "" {
		return "", fmt.Errorf("empty platform")
	}
	// Arch names contain separators themselves (x86_64), so try every split.
	for i := 1; i < len(value)-1; i++ {
		if !strings.ContainsRune("_-/", rune(value[i])) {
			continue
		}
		left, right := value[:i], value[i+1:]
		if osName, ok := osAliases[left]; ok {
			if arch, ok := archAliases[right]; ok {
				return Platform(osName + "_" + arch), nil
			}
		}
		// Release asset names often put the arch first.
		if osName, ok := osAliases[right]; ok {
			if arch, ok := archAliases[left]; ok {
				return Platform(osName + "_" + arch), nil
			}
		}
	}
	return "", fmt.Errorf("platform %q: expected {os}_{arch} with os in %s and arch in %s",
		raw, strings.Join(canonicalOS, "/"), strings.Join(canonicalArch, "/"))
}

// IsCanonical reports whether p is one of CanonicalPlatforms.
func (p Platform) IsCanonical() bool {
	for _, c := range CanonicalPlatforms() {
		if c == p {
			return true
		}
	}
	return false
}

// HostPlatform returns the platform of the running process.
func HostPlatform() (Platform, error) {
	return NormalizePlatform(runtime.GOOS + "_" + runtime.GOARCH)
}

// OS returns the operating-system half of the tag.
func (p Platform) OS() string {
	if idx := strings.IndexByte(string(p), '_'); idx > 0 {
		return string(p)[:idx]
	}
	return string(p)
}

// Arch returns the architecture half of the tag.
func (p Platform) Arch() string {
	if idx := strings.IndexByte(string(p), '_'); idx > 0 {
		return string(p)[idx+1:]
	}
	return ""
}

func (p Platform) String() string { return string(p) }
