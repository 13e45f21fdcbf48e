package catalog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPIDHelpers(t *testing.T) {
	t.Parallel()

	require.Equal(t, "native.ibm_quantum", NativePID("IBM Quantum"))
	require.Equal(t, "amazon_braket.ionq", ThirdPartyPID(PlatformAmazonBraket, "IonQ"))
	require.Equal(t, "ibm_quantum", CredentialKey("native.ibm_quantum"))

	platform, ok := PlatformOf("native.amazon_braket")
	require.True(t, ok)
	require.Equal(t, PlatformAmazonBraket, platform)

	_, ok = PlatformOf("native.ionq")
	require.False(t, ok)
	_, ok = PlatformOf("amazon_braket.ionq")
	require.False(t, ok)
}

func TestProviderRef(t *testing.T) {
	t.Parallel()

	native := Provider{ID: "1", Name: "IonQ"}
	require.False(t, native.Ref().ThirdPartyOrigin())

	passThrough := Provider{
		ID:             "2",
		Name:           "IonQ",
		FromThirdParty: true,
		ThirdParty:     &ThirdParty{Name: PlatformAmazonBraket},
	}
	ref := passThrough.Ref()
	require.True(t, ref.ThirdPartyOrigin())
	require.Equal(t, PlatformAmazonBraket, ref.From)
}
