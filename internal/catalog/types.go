package catalog

import (
	"encoding/json"
	"time"
)

// FetchMethod tags how a provider's backends are acquired.
type FetchMethod string

// Supported fetch methods.
const (
	FetchAPI      FetchMethod = "API"
	FetchSDK      FetchMethod = "SDK"
	FetchScraping FetchMethod = "WEB-SCRAPING"
)

// Valid reports whether m is one of the known fetch methods.
func (m FetchMethod) Valid() bool {
	switch m {
	case FetchAPI, FetchSDK, FetchScraping:
		return true
	default:
		return false
	}
}

// Provider is a quantum hardware/service provider or a third-party platform.
type Provider struct {
	ID             string         `json:"id,omitempty"`
	PID            string         `json:"pid"`
	Name           string         `json:"name"`
	Description    *Description   `json:"description,omitempty"`
	Website        string         `json:"website,omitempty"`
	FromThirdParty bool           `json:"from_third_party"`
	ThirdParty     *ThirdParty    `json:"third_party,omitempty"`
	Request        BackendRequest `json:"-"`
	BackendIDs     []string       `json:"backends_ids"`
	LastChecked    *time.Time     `json:"last_checked,omitempty"`
	UpdatedAt      *time.Time     `json:"last_updated_at,omitempty"`
}

// ThirdParty references the platform a pass-through provider is reached through.
type ThirdParty struct {
	ID   string `json:"third_party_id,omitempty"`
	Name string `json:"third_party_name"`
}

// Description holds the descriptive text shown for a provider.
type Description struct {
	Short   string `json:"short_description,omitempty" yaml:"short_description"`
	Long    string `json:"long_description,omitempty" yaml:"long_description"`
	History string `json:"history,omitempty" yaml:"history"`
	Extra   string `json:"extra,omitempty" yaml:"extra"`
}

// ProviderRef is the back-reference attached to raw records and backends.
type ProviderRef struct {
	ID   string `json:"provider_id"`
	Name string `json:"provider_name"`
	// From names the platform of origin for pass-through providers.
	From string `json:"provider_from,omitempty"`
}

// ThirdPartyOrigin reports whether the record came through a third-party platform.
func (r ProviderRef) ThirdPartyOrigin() bool {
	return r.From != ""
}

// Ref builds the back-reference for p.
func (p Provider) Ref() ProviderRef {
	ref := ProviderRef{ID: p.ID, Name: p.Name}
	if p.FromThirdParty && p.ThirdParty != nil {
		ref.From = p.ThirdParty.Name
	}
	return ref
}

// RawRecord is a provider-shaped payload returned by an extractor.
type RawRecord struct {
	Provider ProviderRef     `json:"provider"`
	Payload  json.RawMessage `json:"payload"`
}

// User is an account able to hold encrypted per-platform secrets.
type User struct {
	ID        string                       `json:"id,omitempty"`
	Email     string                       `json:"email"`
	Username  string                       `json:"username,omitempty"`
	APIKeys   map[string]map[string][]byte `json:"api_keys,omitempty"`
	CreatedAt time.Time                    `json:"created_at"`
}

// ProviderFilter selects providers. Zero-valued fields do not filter.
type ProviderFilter struct {
	PIDs           []string
	Names          []string
	FromThirdParty *bool
	ThirdPartyName string
	// BackendIDs matches providers whose list contains any of the ids.
	BackendIDs []string
}

// BackendFilter selects backends. Zero-valued fields do not filter.
type BackendFilter struct {
	IDs          []string
	BIDs         []string
	ProviderIDs  []string
	ProviderName string
	ClassType    ClassType
}

// Bool returns a pointer to b, for optional filter fields.
func Bool(b bool) *bool {
	return &b
}
