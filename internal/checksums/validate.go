package checksums

import (
	"context"
	"slices"

	"golang.org/x/sync/errgroup"

	"wasmtoolchain/internal/registry"
	"wasmtoolchain/internal/toolerr"
)

// Summer hashes the bytes served at a URL.
type Summer interface {
	Checksum(ctx context.Context, url string, alg registry.DigestAlgorithm) (string, error)
}

// Status is the outcome of re-hashing one record.
type Status string

const (
	StatusValid    Status = "valid"
	StatusMismatch Status = "mismatch"
	StatusFailed   Status = "failed"
)

// Check compares one recorded digest with the bytes upstream serves today.
type Check struct {
	Identity registry.ToolIdentity `json:"identity"`
	URL      string                `json:"url"`
	Expected string                `json:"expected"`
	Actual   string                `json:"actual,omitempty"`
	Status   Status                `json:"status"`
	Error    string                `json:"error,omitempty"`
}

// ValidateOptions narrows a remote validation run.
type ValidateOptions struct {
	// Tools limits the run; empty means every tool.
	Tools []string
	// AllVersions checks every recorded version instead of only the latest.
	AllVersions bool
	Concurrency int
}

// Report aggregates the checks of a run in registry order.
type Report struct {
	Checks     []Check `json:"checks"`
	Valid      int     `json:"valid"`
	Mismatched int     `json:"mismatched"`
	Failed     int     `json:"failed"`
}

// OK reports whether every record matched.
func (r Report) OK() bool { return r.Mismatched == 0 && r.Failed == 0 }

// Validate downloads each selected record from its default URL and compares
// the digest with the registry entry. Universal records are checked once.
func Validate(ctx context.Context, reg *registry.Registry, sum Summer, opts ValidateOptions) (Report, error) {
	targets, err := selectRecords(reg, opts)
	if err != nil {
		return Report{}, err
	}

	checks := make([]Check, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	limit := opts.Concurrency
	if limit <= 0 {
		limit = 4
	}
	g.SetLimit(limit)
	for i, t := range targets {
		g.Go(func() error {
			rec := t.rec
			if t.err != nil {
				checks[i] = Check{Identity: t.id, Status: StatusFailed, Error: t.err.Error()}
				return nil
			}
			check := Check{Identity: rec.StorageIdentity(), URL: rec.URL, Expected: rec.Digest.String()}
			actual, err := sum.Checksum(gctx, rec.URL, rec.Digest.Algorithm)
			switch {
			case err != nil:
				check.Status = StatusFailed
				check.Error = err.Error()
			case rec.Digest.Matches(actual):
				check.Status = StatusValid
				check.Actual = rec.Digest.String()
			default:
				check.Status = StatusMismatch
				check.Actual = string(rec.Digest.Algorithm) + ":" + actual
			}
			checks[i] = check
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}

	report := Report{Checks: checks}
	for _, c := range checks {
		switch c.Status {
		case StatusValid:
			report.Valid++
		case StatusMismatch:
			report.Mismatched++
		default:
			report.Failed++
		}
	}
	return report, nil
}

// target is a record to check, or the lookup error that stands in for it.
type target struct {
	id  registry.ToolIdentity
	rec registry.ToolRecord
	err error
}

func selectRecords(reg *registry.Registry, opts ValidateOptions) ([]target, error) {
	tools := opts.Tools
	if len(tools) == 0 {
		tools = reg.Tools()
	}
	for _, tool := range tools {
		if !slices.Contains(reg.Tools(), tool) {
			return nil, toolerr.New(toolerr.KindUnknownTool).
				Tool(tool, "", "").
				Alternatives(reg.Tools()...).
				Build()
		}
	}

	seen := make(map[string]bool)
	var targets []target
	for _, tool := range tools {
		versions := reg.Versions(tool)
		if !opts.AllVersions {
			latest, _ := reg.Latest(tool)
			versions = []string{latest}
		}
		for _, version := range versions {
			for _, p := range reg.Platforms(tool, version) {
				id := registry.ToolIdentity{Name: tool, Version: version, Platform: p}
				rec, err := reg.Lookup(id)
				if err == nil {
					id = rec.StorageIdentity()
				}
				if seen[id.Key()] {
					continue
				}
				seen[id.Key()] = true
				targets = append(targets, target{id: id, rec: rec, err: err})
			}
		}
	}
	return targets, nil
}
