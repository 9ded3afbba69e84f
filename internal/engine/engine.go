// Package engine is the entry point for resolution. A Session is built once
// from configuration and then answers tool and component requests; the
// environment is not consulted again after New.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"wasmtoolchain/internal/bundle"
	"wasmtoolchain/internal/config"
	"wasmtoolchain/internal/fetch"
	"wasmtoolchain/internal/paths"
	"wasmtoolchain/internal/registry"
	"wasmtoolchain/internal/selector"
	"wasmtoolchain/internal/source"
	"wasmtoolchain/internal/toolerr"
)

// SourceKind is the coarse origin reported to callers.
type SourceKind string

const (
	SourceLocal  SourceKind = "local"
	SourceMirror SourceKind = "mirror"
	SourceOrigin SourceKind = "origin"
)

func sourceKindOf(origin source.Origin) SourceKind {
	switch origin {
	case source.OriginMirror:
		return SourceMirror
	case source.OriginPublic:
		return SourceOrigin
	}
	return SourceLocal
}

// Request asks for one tool binary.
type Request struct {
	ToolName string `json:"tool_name"`
	// Version is used when neither ExplicitVersion nor the bundle decides.
	Version         string `json:"version,omitempty"`
	Platform        string `json:"platform,omitempty"`
	BundleName      string `json:"bundle_name,omitempty"`
	ExplicitVersion string `json:"explicit_version,omitempty"`
}

// Response is a materialized, verified tool binary.
type Response struct {
	Tool        string        `json:"tool"`
	Version     string        `json:"version"`
	Platform    string        `json:"platform"`
	BinaryPath  string        `json:"binary_path"`
	DigestUsed  string        `json:"digest_used"`
	SourceKind  SourceKind    `json:"source_kind"`
	Origin      source.Origin `json:"origin"`
	Location    string        `json:"location"`
	VersionFrom bundle.From   `json:"version_from"`
	Bundle      string        `json:"bundle,omitempty"`
	Cached      bool          `json:"cached"`
}

type options struct {
	logger     *zap.Logger
	progress   func(fetch.Event)
	httpClient *http.Client
	runner     fetch.Runner
	registry   *registry.Registry
	bundles    *bundle.Set
	catalog    *selector.Catalog
	host       registry.Platform
}

// Option customizes a Session.
type Option func(*options)

// WithLogger sets the session logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithProgress receives fetch lifecycle events.
func WithProgress(fn func(fetch.Event)) Option {
	return func(o *options) { o.progress = fn }
}

// WithHTTPClient replaces the download client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithRunner replaces the external command runner used for tar.xz.
func WithRunner(r fetch.Runner) Option {
	return func(o *options) { o.runner = r }
}

// WithRegistry, WithBundles and WithCatalog bypass loading from config.
func WithRegistry(r *registry.Registry) Option {
	return func(o *options) { o.registry = r }
}

func WithBundles(b *bundle.Set) Option {
	return func(o *options) { o.bundles = b }
}

func WithCatalog(c *selector.Catalog) Option {
	return func(o *options) { o.catalog = c }
}

// WithHostPlatform overrides the platform used when a request names none.
func WithHostPlatform(p registry.Platform) Option {
	return func(o *options) { o.host = p }
}

// Session holds the read-only registry, bundles and catalog plus the fetcher
// that owns the cache. It is safe for concurrent use.
type Session struct {
	cfg      config.Config
	registry *registry.Registry
	bundles  *bundle.Set
	sources  *source.Resolver
	fetcher  *fetch.Fetcher
	catalog  *selector.Catalog
	logger   *zap.Logger
	host     registry.Platform
}

// New builds a session from cfg, which should already have the environment
// overlay applied.
func New(cfg config.Config, opts ...Option) (*Session, error) {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	cfg.ApplyDefaults()

	reg := o.registry
	if reg == nil {
		var err error
		if cfg.RegistryDir != "" {
			reg, err = registry.LoadDir(cfg.RegistryDir)
		} else {
			reg, err = registry.Default()
		}
		if err != nil {
			return nil, fmt.Errorf("load checksum registry: %w", err)
		}
	}

	bundles := o.bundles
	if bundles == nil {
		var err error
		if cfg.BundlesFile != "" {
			bundles, err = bundle.Load(cfg.BundlesFile, bundle.WithLogger(o.logger))
		} else {
			bundles, err = bundle.Default(bundle.WithLogger(o.logger))
		}
		if err != nil {
			return nil, fmt.Errorf("load bundles: %w", err)
		}
	}
	if cfg.DefaultBundle != "" {
		if _, err := bundles.Get(cfg.DefaultBundle); err != nil {
			return nil, fmt.Errorf("default_bundle: %w", err)
		}
	}
	for _, w := range bundles.Check(reg) {
		o.logger.Warn("bundle drift", zap.String("detail", w))
	}

	catalog := o.catalog
	if catalog == nil {
		var err error
		if cfg.CatalogFile != "" {
			catalog, err = selector.LoadCatalog(cfg.CatalogFile)
		} else {
			catalog, err = selector.DefaultCatalog()
		}
		if err != nil {
			return nil, fmt.Errorf("load component catalog: %w", err)
		}
	}

	host := o.host
	if host == "" {
		p, err := registry.HostPlatform()
		if err != nil {
			return nil, toolerr.New(toolerr.KindUnsupportedPlatform).Detail("host platform").Cause(err).Build()
		}
		host = p
	}

	cacheDir := cfg.CacheDir
	if cacheDir == "" {
		root, err := paths.DefaultCacheRoot()
		if err != nil {
			return nil, err
		}
		cacheDir = root
	}

	sources := source.NewResolver(source.Config{
		Offline:    cfg.Offline,
		VendorRoot: cfg.VendorRoot,
		SharedDir:  cfg.SharedVendorDir,
		MirrorURL:  cfg.MirrorURL,
	}, o.logger)

	fetcher, err := fetch.New(reg, sources, fetch.Options{
		CacheDir:        cacheDir,
		LinkVendor:      cfg.LinkVendor,
		Attempts:        cfg.Download.Attempts,
		InitialInterval: cfg.Download.InitialInterval,
		MaxInterval:     cfg.Download.MaxInterval,
		Timeout:         cfg.Download.Timeout,
		HTTPClient:      o.httpClient,
		Runner:          o.runner,
		Logger:          o.logger,
		Progress:        o.progress,
	})
	if err != nil {
		return nil, err
	}

	return &Session{
		cfg:      cfg,
		registry: reg,
		bundles:  bundles,
		sources:  sources,
		fetcher:  fetcher,
		catalog:  catalog,
		logger:   o.logger,
		host:     host,
	}, nil
}

func (s *Session) Config() config.Config           { return s.cfg }
func (s *Session) Registry() *registry.Registry    { return s.registry }
func (s *Session) Bundles() *bundle.Set            { return s.bundles }
func (s *Session) Catalog() *selector.Catalog      { return s.catalog }
func (s *Session) Fetcher() *fetch.Fetcher         { return s.fetcher }
func (s *Session) HostPlatform() registry.Platform { return s.host }

// DefaultBundle is the configured default_bundle or the bundle file default.
func (s *Session) DefaultBundle() string {
	if s.cfg.DefaultBundle != "" {
		return s.cfg.DefaultBundle
	}
	return s.bundles.DefaultName()
}

// identity resolves a request's version and platform without fetching.
func (s *Session) identity(req Request) (registry.ToolIdentity, bundle.Resolution, error) {
	platform := s.host
	if req.Platform != "" {
		p, err := registry.NormalizePlatform(req.Platform)
		if err != nil {
			return registry.ToolIdentity{}, bundle.Resolution{}, toolerr.New(toolerr.KindUnsupportedPlatform).
				Tool(req.ToolName, req.ExplicitVersion, req.Platform).
				Detail("%v", err).
				Build()
		}
		platform = p
	}

	bundleName := req.BundleName
	if bundleName == "" && req.Version == "" && req.ExplicitVersion == "" {
		bundleName = s.DefaultBundle()
	}
	res, err := s.bundles.Resolve(bundle.Query{
		Tool:     req.ToolName,
		Bundle:   bundleName,
		Explicit: req.ExplicitVersion,
		Fallback: req.Version,
	})
	if err != nil {
		return registry.ToolIdentity{}, bundle.Resolution{}, err
	}
	return registry.ToolIdentity{Name: req.ToolName, Version: res.Version, Platform: platform}, res, nil
}

// Resolve materializes the binary for req.
func (s *Session) Resolve(ctx context.Context, req Request) (Response, error) {
	id, res, err := s.identity(req)
	if err != nil {
		return Response{}, err
	}
	art, err := s.fetcher.Fetch(ctx, id)
	if err != nil {
		return Response{}, err
	}
	return Response{
		Tool:        id.Name,
		Version:     id.Version,
		Platform:    string(id.Platform),
		BinaryPath:  art.BinaryPath,
		DigestUsed:  art.Record.Digest.String(),
		SourceKind:  sourceKindOf(art.Source.Origin),
		Origin:      art.Source.Origin,
		Location:    art.Source.Location(),
		VersionFrom: res.From,
		Bundle:      res.Bundle,
		Cached:      art.Cached,
	}, nil
}

// Result pairs a batch request with its outcome.
type Result struct {
	Request  Request  `json:"request"`
	Response Response `json:"response"`
	Err      error    `json:"-"`
}

// ResolveAll resolves reqs concurrently, at most config.Concurrency at a time.
// Every request runs to completion regardless of the others; the returned
// error joins all failures.
func (s *Session) ResolveAll(ctx context.Context, reqs []Request) ([]Result, error) {
	results := make([]Result, len(reqs))
	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for i, req := range reqs {
		g.Go(func() error {
			resp, err := s.Resolve(ctx, req)
			results[i] = Result{Request: req, Response: resp, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Request.ToolName, r.Err))
		}
	}
	return results, errors.Join(errs...)
}

// BundleTools expands a bundle into one request per tool and platform. With
// no platforms the host platform is used.
func (s *Session) BundleTools(name string, platforms ...string) ([]Request, error) {
	if name == "" {
		name = s.DefaultBundle()
	}
	b, err := s.bundles.Get(name)
	if err != nil {
		return nil, err
	}
	if len(platforms) == 0 {
		platforms = []string{string(s.host)}
	}
	var reqs []Request
	for _, tool := range b.ToolNames() {
		for _, p := range platforms {
			reqs = append(reqs, Request{ToolName: tool, BundleName: b.Name, Platform: p})
		}
	}
	return reqs, nil
}

// Vendor copies the verified artifact for each request into root using the
// vendor layout.
func (s *Session) Vendor(ctx context.Context, reqs []Request, root string) ([]fetch.VendorResult, error) {
	results := make([]fetch.VendorResult, len(reqs))
	errs := make([]error, len(reqs))
	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for i, req := range reqs {
		g.Go(func() error {
			id, _, err := s.identity(req)
			if err == nil {
				results[i], err = s.fetcher.Vendor(ctx, id, root)
			}
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", req.ToolName, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return results, errors.Join(errs...)
}
