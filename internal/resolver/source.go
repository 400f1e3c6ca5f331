package resolver

import (
	"context"
	"os"
	"strings"

	"github.com/benaskins/credence/internal/keystore"
	"github.com/benaskins/credence/internal/service"
)

// Source names, in default priority order.
const (
	SourceStore       = "store"
	SourceEnvironment = "environment"
	SourceFallback    = "fallback"
	SourceCaller      = "caller"
)

// ConnectedService is a caller-supplied hint about a provider the user has
// already connected. Every field is optional.
type ConnectedService struct {
	ServiceID   string `json:"service_id,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Value       string `json:"value,omitempty"`
}

// Hints carries caller context for one resolution.
type Hints struct {
	ConnectedServices []ConnectedService `json:"connected_services,omitempty"`
}

// Request is what a Source sees.
type Request struct {
	Service service.Service
	UserID  string
	Hints   Hints
}

// Source produces at most one candidate credential. An empty string
// means the source has nothing to offer; it is not an error.
type Source interface {
	Name() string
	Produce(ctx context.Context, req Request) (string, error)
}

// StoreSource reads the key store. Disabled records are ignored.
type StoreSource struct {
	Store keystore.Store
}

func (s StoreSource) Name() string { return SourceStore }

func (s StoreSource) Produce(ctx context.Context, req Request) (string, error) {
	rec, ok, err := s.Store.Get(ctx, req.UserID, req.Service.ID)
	if err != nil {
		return "", err
	}
	if !ok || !rec.Enabled {
		return "", nil
	}
	return rec.RawValue, nil
}

// EnvSource reads the environment variable registered for the service.
// The variable is looked up on every call.
type EnvSource struct {
	Lookup func(string) (string, bool)
}

func (s EnvSource) Name() string { return SourceEnvironment }

func (s EnvSource) Produce(_ context.Context, req Request) (string, error) {
	if req.Service.EnvVar == "" {
		return "", nil
	}
	lookup := s.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	v, _ := lookup(req.Service.EnvVar)
	return strings.TrimSpace(v), nil
}

// FallbackSource returns the operator-provisioned fallback key from the
// service definition, if any.
type FallbackSource struct{}

func (FallbackSource) Name() string { return SourceFallback }

func (FallbackSource) Produce(_ context.Context, req Request) (string, error) {
	return req.Service.Fallback, nil
}

// CallerSource scans the caller's connected services. An entry matches on
// service ID (case-insensitive) or display name. Unless Strict is set, an
// entry whose value carries the service's key prefix also matches.
type CallerSource struct {
	Strict bool
}

func (CallerSource) Name() string { return SourceCaller }

func (s CallerSource) Produce(_ context.Context, req Request) (string, error) {
	svc := req.Service
	for _, cs := range req.Hints.ConnectedServices {
		if cs.Value == "" {
			continue
		}
		switch {
		case strings.EqualFold(cs.ServiceID, string(svc.ID)):
		case cs.DisplayName != "" && cs.DisplayName == svc.Name:
		case !s.Strict && svc.Prefix != "" && strings.HasPrefix(cs.Value, svc.Prefix):
		default:
			continue
		}
		return cs.Value, nil
	}
	return "", nil
}
