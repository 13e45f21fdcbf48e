package catalog

import "slices"

// Match reports whether p satisfies every populated field of f.
func (f ProviderFilter) Match(p Provider) bool {
	if len(f.PIDs) > 0 && !slices.Contains(f.PIDs, p.PID) {
		return false
	}
	if len(f.Names) > 0 && !slices.Contains(f.Names, p.Name) {
		return false
	}
	if f.FromThirdParty != nil && *f.FromThirdParty != p.FromThirdParty {
		return false
	}
	if f.ThirdPartyName != "" && (p.ThirdParty == nil || p.ThirdParty.Name != f.ThirdPartyName) {
		return false
	}
	if len(f.BackendIDs) > 0 && !slices.ContainsFunc(p.BackendIDs, func(id string) bool {
		return slices.Contains(f.BackendIDs, id)
	}) {
		return false
	}
	return true
}

// Match reports whether b satisfies every populated field of f.
func (f BackendFilter) Match(b Backend) bool {
	if len(f.IDs) > 0 && !slices.Contains(f.IDs, b.ID) {
		return false
	}
	if len(f.BIDs) > 0 && !slices.Contains(f.BIDs, b.BID) {
		return false
	}
	if len(f.ProviderIDs) > 0 && !slices.Contains(f.ProviderIDs, b.Provider.ID) {
		return false
	}
	if f.ProviderName != "" && b.Provider.Name != f.ProviderName {
		return false
	}
	if f.ClassType != "" && b.ClassType != f.ClassType {
		return false
	}
	return true
}
