package catalog

import "strings"

// NativeNamespace prefixes the pid of every provider reached directly.
const NativeNamespace = "native"

// PlatformAmazonBraket is the only third-party platform currently catalogued.
const PlatformAmazonBraket = "Amazon Braket"

// Platforms lists the third-party platforms that re-expose other providers' hardware.
var Platforms = []string{PlatformAmazonBraket}

// Norm lowercases s and replaces spaces with underscores ("IBM Quantum" -> "ibm_quantum").
func Norm(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "_")
}

// NativePID returns the pid of a provider reached directly.
func NativePID(name string) string {
	return NativeNamespace + "." + Norm(name)
}

// ThirdPartyPID returns the pid of a provider reached through platform.
func ThirdPartyPID(platform, name string) string {
	return Norm(platform) + "." + Norm(name)
}

// SplitPID returns the namespace and the local part of a pid.
func SplitPID(pid string) (string, string) {
	ns, local, ok := strings.Cut(pid, ".")
	if !ok {
		return "", pid
	}
	return ns, local
}

// PlatformOf returns the platform name when pid identifies a third-party
// platform provider itself, e.g. "native.amazon_braket" -> "Amazon Braket".
func PlatformOf(pid string) (string, bool) {
	_, local := SplitPID(pid)
	for _, platform := range Platforms {
		if Norm(platform) == local {
			return platform, true
		}
	}
	return "", false
}

// CredentialKey is the per-platform key under which the operator's secrets for
// pid are stored, e.g. "native.ibm_quantum" -> "ibm_quantum".
func CredentialKey(pid string) string {
	_, local := SplitPID(pid)
	return local
}
