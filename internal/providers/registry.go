package providers

import (
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Provider is one BSIM bank's OIDC configuration. APIURL, when set, overrides
// the hostname-derived API base and is the supported path for integrators; the
// derivation heuristic is a development convenience only.
type Provider struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Issuer       string `json:"issuer"`
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
	APIURL       string `json:"apiUrl,omitempty"`
}

// APIBaseURL returns the explicit override or falls back to deriving from the
// issuer hostname.
func (p Provider) APIBaseURL() string {
	if p.APIURL != "" {
		return strings.TrimRight(p.APIURL, "/")
	}
	return DeriveAPIBaseURL(p.Issuer)
}

// Registry is the static per-process BSIM provider list.
type Registry struct {
	providers []Provider
	byID      map[string]Provider
}

// NewRegistry parses the JSON-encoded provider array. A parse failure logs a
// warning and yields an empty registry, never an error.
func NewRegistry(providersJSON string, log *zap.Logger) *Registry {
	r := &Registry{byID: make(map[string]Provider)}
	if providersJSON == "" {
		return r
	}

	var parsed []Provider
	if err := json.Unmarshal([]byte(providersJSON), &parsed); err != nil {
		log.Warn("failed to parse BSIM_PROVIDERS, starting with empty provider list", zap.Error(err))
		return r
	}

	for _, p := range parsed {
		if p.ID == "" || p.Issuer == "" {
			log.Warn("skipping provider without id or issuer", zap.String("name", p.Name))
			continue
		}
		r.providers = append(r.providers, p)
		r.byID[p.ID] = p
	}
	return r
}

func (r *Registry) List() []Provider {
	return r.providers
}

func (r *Registry) Get(id string) (Provider, bool) {
	p, ok := r.byID[id]
	return p, ok
}

// localAPIPortOffset maps a localhost issuer port to its API port.
const localAPIPortOffset = 1

// DeriveAPIBaseURL applies the environment naming convention:
// auth-x.domain -> x.domain, auth.domain -> domain, localhost:n -> localhost:n+1.
// Best effort; unknown shapes pass through unchanged.
func DeriveAPIBaseURL(issuer string) string {
	u, err := url.Parse(issuer)
	if err != nil || u.Host == "" {
		return strings.TrimRight(issuer, "/")
	}

	host, port, splitErr := net.SplitHostPort(u.Host)
	if splitErr != nil {
		host, port = u.Host, ""
	}

	switch {
	case host == "localhost" || host == "127.0.0.1":
		if port != "" {
			if n, err := strconv.Atoi(port); err == nil {
				u.Host = net.JoinHostPort(host, strconv.Itoa(n+localAPIPortOffset))
			}
		}
	case strings.HasPrefix(host, "auth-"):
		u.Host = rejoin(strings.TrimPrefix(host, "auth-"), port)
	case strings.HasPrefix(host, "auth."):
		u.Host = rejoin(strings.TrimPrefix(host, "auth."), port)
	}

	u.Path = ""
	return fmt.Sprintf("%s://%s", u.Scheme, u.Host)
}

func rejoin(host, port string) string {
	if port == "" {
		return host
	}
	return net.JoinHostPort(host, port)
}
