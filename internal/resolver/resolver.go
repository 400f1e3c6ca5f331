// Package resolver finds a usable provider credential by consulting a
// fixed, ordered list of sources and returning the first candidate that
// passes the service's validation rule.
//
// Default order: key store, environment, operator fallback, caller hints.
// A source that errors, panics or yields an invalid value is skipped; an
// empty result is a normal outcome, not an error.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/benaskins/credence/internal/keystore"
	"github.com/benaskins/credence/internal/metrics"
	"github.com/benaskins/credence/internal/service"
)

// Outcome classifies one source consultation.
type Outcome string

const (
	OutcomeHit     Outcome = "hit"
	OutcomeEmpty   Outcome = "empty"
	OutcomeInvalid Outcome = "invalid"
	OutcomeError   Outcome = "error"
)

// sourceNone labels resolutions where every source was exhausted.
const sourceNone = "none"

// unknownService is the metrics label for IDs outside the catalog, which
// arrive from callers and must not mint new series.
const unknownService = "unknown"

// Catalog looks up service definitions.
type Catalog interface {
	Lookup(id service.ID) (service.Service, bool)
}

// Attempt records what one source produced, without the value itself.
type Attempt struct {
	Source  string  `json:"source"`
	Outcome Outcome `json:"outcome"`
	Masked  string  `json:"masked,omitempty"`
	Err     error   `json:"-"`
}

// Result is the detailed outcome of a resolution.
type Result struct {
	Value    string
	Source   string
	Attempts []Attempt
}

// Found reports whether a valid credential was resolved.
func (r Result) Found() bool {
	return r.Value != ""
}

// Resolver orchestrates credential sources.
type Resolver struct {
	catalog       Catalog
	store         keystore.Store
	sources       []Source
	metrics       metrics.Recorder
	logger        *slog.Logger
	persistCaller bool
	now           func() time.Time

	envLookup func(string) (string, bool)
	strict    bool
	fallback  bool
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithEnvLookup replaces os.LookupEnv for the environment source.
func WithEnvLookup(fn func(string) (string, bool)) Option {
	return func(r *Resolver) {
		r.envLookup = fn
	}
}

// WithStrictCallerMatch disables prefix-based matching of caller hints.
func WithStrictCallerMatch(strict bool) Option {
	return func(r *Resolver) {
		r.strict = strict
	}
}

// WithFallback enables or disables the operator fallback source.
func WithFallback(enabled bool) Option {
	return func(r *Resolver) {
		r.fallback = enabled
	}
}

// WithPersistCallerKeys controls whether keys recovered from caller hints
// are written to the store.
func WithPersistCallerKeys(persist bool) Option {
	return func(r *Resolver) {
		r.persistCaller = persist
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m metrics.Recorder) Option {
	return func(r *Resolver) {
		r.metrics = m
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		r.now = now
	}
}

// New creates a resolver over the given catalog and store.
func New(catalog Catalog, store keystore.Store, opts ...Option) *Resolver {
	r := &Resolver{
		catalog:       catalog,
		store:         store,
		metrics:       metrics.NewNoopMetrics(),
		logger:        slog.With("component", "resolver"),
		persistCaller: true,
		fallback:      true,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}

	r.sources = []Source{
		StoreSource{Store: store},
		EnvSource{Lookup: r.envLookup},
	}
	if r.fallback {
		r.sources = append(r.sources, FallbackSource{})
	}
	r.sources = append(r.sources, CallerSource{Strict: r.strict})
	return r
}

// Sources returns the source names in evaluation order.
func (r *Resolver) Sources() []string {
	names := make([]string, len(r.sources))
	for i, s := range r.sources {
		names[i] = s.Name()
	}
	return names
}

// Resolve returns a valid credential for (svc, userID), or false when no
// source has one.
func (r *Resolver) Resolve(ctx context.Context, svc service.ID, userID string, hints Hints) (string, bool) {
	res := r.ResolveDetail(ctx, svc, userID, hints)
	return res.Value, res.Found()
}

// ResolveDetail is Resolve with the per-source trail. On a store hit the
// record's LastValidatedAt is refreshed; on a caller hit the key may be
// remembered. Both writes are best-effort.
func (r *Resolver) ResolveDetail(ctx context.Context, svcID service.ID, userID string, hints Hints) Result {
	svc, ok := r.catalog.Lookup(svcID)
	if !ok {
		r.logger.Debug("resolve for unknown service", "service", svcID)
		r.metrics.RecordResolution(unknownService, sourceNone)
		return Result{}
	}

	req := Request{Service: svc, UserID: userID, Hints: hints}
	var res Result
	for _, src := range r.sources {
		value, attempt := r.consult(ctx, src, req)
		r.metrics.RecordAttempt(string(svcID), attempt.Source, string(attempt.Outcome))
		res.Attempts = append(res.Attempts, attempt)
		if attempt.Outcome == OutcomeHit {
			res.Value = value
			res.Source = src.Name()
			break
		}
	}

	if !res.Found() {
		r.logger.Info("no valid credential found", "service", svcID, "user", userID, "attempts", len(res.Attempts))
		r.metrics.RecordResolution(string(svcID), sourceNone)
		return res
	}

	r.logger.Info("credential resolved", "service", svcID, "user", userID, "source", res.Source, "key", service.Mask(res.Value))
	r.metrics.RecordResolution(string(svcID), res.Source)

	switch res.Source {
	case SourceStore:
		r.touch(ctx, svc.ID, userID, res.Value)
	case SourceCaller:
		if r.persistCaller {
			if err := r.Remember(ctx, svc.ID, userID, res.Value); err != nil {
				r.logger.Warn("could not remember recovered credential", "service", svcID, "user", userID, "error", err)
			}
		}
	}
	return res
}

// consult runs one source, absorbing errors and panics, and validates
// its candidate.
func (r *Resolver) consult(ctx context.Context, src Source, req Request) (value string, attempt Attempt) {
	attempt.Source = src.Name()
	defer func() {
		if p := recover(); p != nil {
			value = ""
			attempt.Outcome = OutcomeError
			attempt.Err = fmt.Errorf("source %s panicked: %v", attempt.Source, p)
			r.logger.Warn("credential source failed", "source", attempt.Source, "service", req.Service.ID, "error", attempt.Err)
		}
	}()

	candidate, err := src.Produce(ctx, req)
	if err != nil {
		attempt.Outcome = OutcomeError
		attempt.Err = err
		r.logger.Warn("credential source failed", "source", attempt.Source, "service", req.Service.ID, "error", err)
		return "", attempt
	}
	if candidate == "" {
		attempt.Outcome = OutcomeEmpty
		return "", attempt
	}

	attempt.Masked = service.Mask(candidate)
	if err := req.Service.Check(candidate); err != nil {
		attempt.Outcome = OutcomeInvalid
		attempt.Err = err
		r.logger.Debug("credential candidate rejected", "source", attempt.Source, "service", req.Service.ID, "key", attempt.Masked, "reason", err)
		return "", attempt
	}
	attempt.Outcome = OutcomeHit
	return candidate, attempt
}

// Remember validates value and stores it for (svc, userID). It returns a
// *service.ValidationError for a rejected value and performs no write in
// that case. An existing record keeps its CreatedAt.
func (r *Resolver) Remember(ctx context.Context, svcID service.ID, userID string, value string) error {
	svc, ok := r.catalog.Lookup(svcID)
	if !ok {
		r.metrics.RecordRemember(unknownService, "invalid")
		return &service.ValidationError{Service: svcID, Reason: service.ErrUnknownService.Error()}
	}
	if err := svc.Check(value); err != nil {
		r.metrics.RecordRemember(string(svcID), "invalid")
		return err
	}

	now := r.now().UTC()
	rec := keystore.Record{
		UserID:          userID,
		Service:         svcID,
		RawValue:        value,
		CreatedAt:       now,
		LastValidatedAt: &now,
		Enabled:         true,
	}
	if existing, ok, err := r.store.Get(ctx, userID, svcID); err == nil && ok {
		rec.CreatedAt = existing.CreatedAt
	}

	if err := r.store.Put(ctx, rec); err != nil {
		r.metrics.RecordRemember(string(svcID), "error")
		return fmt.Errorf("remember %s for %s: %w", svcID, userID, err)
	}
	r.metrics.RecordRemember(string(svcID), "stored")
	r.logger.Info("credential remembered", "service", svcID, "user", userID, "key", service.Mask(value))
	return nil
}

// SetEnabled flips the enabled flag of a stored record. It reports false
// when no record exists.
func (r *Resolver) SetEnabled(ctx context.Context, svcID service.ID, userID string, enabled bool) (bool, error) {
	ok, err := r.store.Update(ctx, userID, svcID, func(rec *keystore.Record) bool {
		if rec.Enabled == enabled {
			return false
		}
		rec.Enabled = enabled
		return true
	})
	if err != nil {
		return false, fmt.Errorf("set enabled %s for %s: %w", svcID, userID, err)
	}
	return ok, nil
}

// touch refreshes LastValidatedAt of the record that produced value. A
// record deleted or replaced since it was read is left alone.
func (r *Resolver) touch(ctx context.Context, svcID service.ID, userID, value string) {
	now := r.now().UTC()
	_, err := r.store.Update(ctx, userID, svcID, func(rec *keystore.Record) bool {
		if rec.RawValue != value {
			return false
		}
		rec.LastValidatedAt = &now
		return true
	})
	if err != nil {
		r.logger.Warn("could not refresh last validation time", "service", svcID, "user", userID, "error", err)
	}
}
