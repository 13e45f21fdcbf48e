package catalog

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractorRef names a registered extractor.
type ExtractorRef struct {
	Module string `json:"module" yaml:"module"`
	Func   string `json:"func" yaml:"func"`
}

// Key returns the registry key, e.g. "ionq.backends".
func (r ExtractorRef) Key() string {
	return r.Module + "." + r.Func
}

// BackendRequest describes how to acquire a provider's backends. The concrete
// type is one of APIRequest, SDKRequest or ScrapeRequest.
type BackendRequest interface {
	Method() FetchMethod
	Extractor() ExtractorRef
	document() RequestDocument
}

// APIRequest calls a provider REST API with a templated auth header.
type APIRequest struct {
	BaseURL string
	// Auth maps header names to templates such as "apiKey TOKEN".
	Auth     map[string]string
	Function ExtractorRef
}

// SDKRequest calls a vendor SDK with credentials resolved from EnvVars.
type SDKRequest struct {
	EnvVars  []string
	Function ExtractorRef
}

// ScrapeRequest drives a browser session rooted at BaseURL.
type ScrapeRequest struct {
	BaseURL  string
	Function ExtractorRef
}

// Method implements BackendRequest.
func (APIRequest) Method() FetchMethod { return FetchAPI }

// Method implements BackendRequest.
func (SDKRequest) Method() FetchMethod { return FetchSDK }

// Method implements BackendRequest.
func (ScrapeRequest) Method() FetchMethod { return FetchScraping }

// Extractor implements BackendRequest.
func (r APIRequest) Extractor() ExtractorRef { return r.Function }

// Extractor implements BackendRequest.
func (r SDKRequest) Extractor() ExtractorRef { return r.Function }

// Extractor implements BackendRequest.
func (r ScrapeRequest) Extractor() ExtractorRef { return r.Function }

func (r APIRequest) document() RequestDocument {
	return RequestDocument{FetchMethod: FetchAPI, BaseURL: r.BaseURL, Auth: r.Auth, Extractor: r.Function}
}

func (r SDKRequest) document() RequestDocument {
	return RequestDocument{FetchMethod: FetchSDK, EnvVars: r.EnvVars, Extractor: r.Function}
}

func (r ScrapeRequest) document() RequestDocument {
	return RequestDocument{FetchMethod: FetchScraping, BaseURL: r.BaseURL, Extractor: r.Function}
}

// RequestDocument is the flat persisted form of a BackendRequest.
type RequestDocument struct {
	FetchMethod FetchMethod       `json:"fetch_method" yaml:"fetch_method"`
	BaseURL     string            `json:"base_url,omitempty" yaml:"base_url"`
	Auth        map[string]string `json:"auth,omitempty" yaml:"auth"`
	EnvVars     []string          `json:"env_vars,omitempty" yaml:"env_vars"`
	Extractor   ExtractorRef      `json:"extractor" yaml:"extractor"`
}

// DocumentOf flattens r for persistence.
func DocumentOf(r BackendRequest) RequestDocument {
	return r.document()
}

// Decode validates the document against its tag and returns the typed request.
func (d RequestDocument) Decode() (BackendRequest, error) {
	if d.Extractor.Module == "" || d.Extractor.Func == "" {
		return nil, fmt.Errorf("%w: extractor module and func are required", ErrMalformed)
	}
	switch d.FetchMethod {
	case FetchAPI:
		if err := requireURL(d.BaseURL); err != nil {
			return nil, err
		}
		if len(d.EnvVars) > 0 {
			return nil, fmt.Errorf("%w: env_vars not allowed for %s", ErrMalformed, d.FetchMethod)
		}
		return APIRequest{BaseURL: d.BaseURL, Auth: cloneMap(d.Auth), Function: d.Extractor}, nil
	case FetchSDK:
		if d.BaseURL != "" || len(d.Auth) > 0 {
			return nil, fmt.Errorf("%w: base_url and auth not allowed for %s", ErrMalformed, d.FetchMethod)
		}
		return SDKRequest{EnvVars: append([]string(nil), d.EnvVars...), Function: d.Extractor}, nil
	case FetchScraping:
		if err := requireURL(d.BaseURL); err != nil {
			return nil, err
		}
		if len(d.Auth) > 0 || len(d.EnvVars) > 0 {
			return nil, fmt.Errorf("%w: auth and env_vars not allowed for %s", ErrMalformed, d.FetchMethod)
		}
		return ScrapeRequest{BaseURL: d.BaseURL, Function: d.Extractor}, nil
	default:
		return nil, fmt.Errorf("%w: unknown fetch_method %q", ErrMalformed, d.FetchMethod)
	}
}

func requireURL(raw string) error {
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		return fmt.Errorf("%w: base_url %q must be an http(s) URL", ErrMalformed, raw)
	}
	return nil
}

func cloneMap(src map[string]string) map[string]string {
	if src == nil {
		return nil
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

type providerAlias Provider

type providerDocument struct {
	providerAlias
	Request *RequestDocument `json:"backend_request,omitempty"`
}

// MarshalJSON writes the provider with its request flattened under backend_request.
func (p Provider) MarshalJSON() ([]byte, error) {
	doc := providerDocument{providerAlias: providerAlias(p)}
	if doc.BackendIDs == nil {
		doc.BackendIDs = []string{}
	}
	if p.Request != nil {
		rd := p.Request.document()
		doc.Request = &rd
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal provider %s: %w", p.PID, err)
	}
	return data, nil
}

// UnmarshalJSON decodes and validates the backend_request variant.
func (p *Provider) UnmarshalJSON(data []byte) error {
	var doc providerDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("unmarshal provider: %w", err)
	}
	*p = Provider(doc.providerAlias)
	if doc.Request != nil {
		req, err := doc.Request.Decode()
		if err != nil {
			return fmt.Errorf("provider %s: %w", p.PID, err)
		}
		p.Request = req
	}
	return nil
}
