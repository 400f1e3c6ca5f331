package resolver

import (
	"context"

	"github.com/benaskins/credence/internal/service"
)

// Diagnostic summarizes what each source would yield for a resolution.
// It never carries an unmasked credential.
type Diagnostic struct {
	Service      service.ID      `json:"service"`
	UserID       string          `json:"user_id"`
	Found        bool            `json:"found"`
	MaskedPrefix string          `json:"masked_prefix"`
	Length       int             `json:"length"`
	Source       string          `json:"source,omitempty"`
	Sources      map[string]bool `json:"sources"`
	Attempts     []Attempt       `json:"attempts"`
	StoreError   string          `json:"store_error,omitempty"`
	Unknown      bool            `json:"unknown_service,omitempty"`
}

// Describe consults every source without short-circuiting and reports
// which of them hold a valid credential. It performs no writes.
func (r *Resolver) Describe(ctx context.Context, svcID service.ID, userID string, hints Hints) Diagnostic {
	d := Diagnostic{
		Service: svcID,
		UserID:  userID,
		Sources: make(map[string]bool, len(r.sources)),
	}

	svc, ok := r.catalog.Lookup(svcID)
	if !ok {
		d.Unknown = true
		for _, src := range r.sources {
			d.Sources[src.Name()] = false
		}
		return d
	}

	req := Request{Service: svc, UserID: userID, Hints: hints}
	for _, src := range r.sources {
		value, attempt := r.consult(ctx, src, req)
		d.Attempts = append(d.Attempts, attempt)
		d.Sources[src.Name()] = attempt.Outcome == OutcomeHit

		if src.Name() == SourceStore && attempt.Outcome == OutcomeError {
			d.StoreError = attempt.Err.Error()
		}
		if attempt.Outcome == OutcomeHit && !d.Found {
			d.Found = true
			d.Source = src.Name()
			d.MaskedPrefix = service.Mask(value)
			d.Length = len(value)
		}
	}
	return d
}
