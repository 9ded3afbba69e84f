// Package toolerr defines the structured error returned by every resolution
// step. Errors carry a Kind, the identity being resolved, and whatever the
// operator needs to self-correct: valid alternatives, paths tried, the URL
// fetched.
//
//	err := toolerr.New(toolerr.KindUnknownVersion).
//		Tool("wasm-tools", "9.9.9", "linux_amd64").
//		Alternatives("1.240.0", "1.239.0").
//		Build()
//
// Use errors.Is with a Kind to branch on category:
//
//	if errors.Is(err, toolerr.KindChecksumMismatch) { ... }
package toolerr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind categorizes an error.
type Kind string

const (
	KindUnknownTool               Kind = "unknown_tool"
	KindUnknownVersion            Kind = "unknown_version"
	KindUnsupportedPlatform       Kind = "unsupported_platform"
	KindMissingDigest             Kind = "missing_digest"
	KindChecksumMismatch          Kind = "checksum_mismatch"
	KindOfflineArtifactMissing    Kind = "offline_artifact_missing"
	KindBinaryNotFound            Kind = "binary_not_found"
	KindNoImplementation          Kind = "no_implementation_available"
	KindUnknownImplementation     Kind = "unknown_implementation"
	KindImplementationUnavailable Kind = "implementation_unavailable"
	KindUnknownBundle             Kind = "unknown_bundle"
	KindVersionUnresolved         Kind = "version_unresolved"
	KindDownloadFailed            Kind = "download_failed"
	KindInvalidInput              Kind = "invalid_input"
)

// Error implements error so a Kind can be used directly as an errors.Is target.
func (k Kind) Error() string { return string(k) }

// Error is the structured error used throughout the engine.
type Error struct {
	Kind         Kind
	Name         string
	Version      string
	Platform     string
	URL          string
	Paths        []string
	Alternatives []string
	Detail       string
	Cause        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if id := e.identity(); id != "" {
		b.WriteString(" ")
		b.WriteString(id)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.URL != "" {
		fmt.Fprintf(&b, " (url %s)", e.URL)
	}
	if len(e.Paths) > 0 {
		fmt.Fprintf(&b, " (tried %s)", strings.Join(e.Paths, ", "))
	}
	if len(e.Alternatives) > 0 {
		fmt.Fprintf(&b, " (available: %s)", strings.Join(e.Alternatives, ", "))
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) identity() string {
	if e.Name == "" {
		return ""
	}
	id := e.Name
	if e.Version != "" {
		id += "@" + e.Version
	}
	if e.Platform != "" {
		id += "/" + e.Platform
	}
	return id
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches either a bare Kind or another *Error with the same Kind.
func (e *Error) Is(target error) bool {
	switch t := target.(type) {
	case Kind:
		return e.Kind == t
	case *Error:
		return e.Kind == t.Kind
	}
	return false
}

// KindOf returns the Kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}

// Builder assembles an Error.
type Builder struct {
	err Error
}

// New starts building an error of the given kind.
func New(kind Kind) *Builder {
	return &Builder{err: Error{Kind: kind}}
}

func (b *Builder) Tool(name, version, platform string) *Builder {
	b.err.Name = name
	b.err.Version = version
	b.err.Platform = platform
	return b
}

func (b *Builder) URL(url string) *Builder {
	b.err.URL = url
	return b
}

func (b *Builder) Paths(paths ...string) *Builder {
	b.err.Paths = append(b.err.Paths, paths...)
	return b
}

func (b *Builder) Alternatives(alts ...string) *Builder {
	b.err.Alternatives = append(b.err.Alternatives, alts...)
	return b
}

func (b *Builder) Detail(format string, args ...any) *Builder {
	b.err.Detail = fmt.Sprintf(format, args...)
	return b
}

func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

func (b *Builder) Build() *Error {
	e := b.err
	e.Paths = append([]string(nil), b.err.Paths...)
	e.Alternatives = append([]string(nil), b.err.Alternatives...)
	if len(e.Paths) == 0 {
		e.Paths = nil
	}
	if len(e.Alternatives) == 0 {
		e.Alternatives = nil
	}
	return &e
}
