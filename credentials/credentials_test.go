package credentials

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseConnectionString(t *testing.T) {
	t.Parallel()

	cs, err := ParseConnectionString("HostName=test.azure-devices.net;DeviceId=devnull;SharedAccessKey=c2VjcmV0")
	require.NoError(t, err)
	require.Equal(t, "test.azure-devices.net", cs.HostName)
	require.Equal(t, "devnull", cs.DeviceID)
	require.Equal(t, "c2VjcmV0", cs.SharedAccessKey)
	require.Equal(t, "test.azure-devices.net", cs.EffectiveHostName())
}

func TestParseConnectionString_GatewayOverride(t *testing.T) {
	t.Parallel()

	cs, err := ParseConnectionString(
		"HostName=test.azure-devices.net;DeviceId=devnull;SharedAccessKey=c2VjcmV0;GatewayHostName=edge.local")
	require.NoError(t, err)
	require.Equal(t, "edge.local", cs.EffectiveHostName())
}

func TestParseConnectionString_RejectsMissingHostDot(t *testing.T) {
	t.Parallel()

	_, err := ParseConnectionString("HostName=test;DeviceId=devnull;SharedAccessKey=c2VjcmV0")
	require.Error(t, err)
}

func TestParseConnectionString_RejectsBothKeyAndSAS(t *testing.T) {
	t.Parallel()

	_, err := ParseConnectionString(
		"HostName=test.azure-devices.net;DeviceId=d;SharedAccessKey=a;SharedAccessSignature=b")
	require.Error(t, err)
}

func TestParseConnectionString_RejectsNeitherKeyNorSAS(t *testing.T) {
	t.Parallel()

	_, err := ParseConnectionString("HostName=test.azure-devices.net;DeviceId=d")
	require.Error(t, err)
}

func TestParseConnectionString_RejectsX509NotTrue(t *testing.T) {
	t.Parallel()

	_, err := ParseConnectionString("HostName=test.azure-devices.net;DeviceId=d;x509=false")
	require.Error(t, err)
}

func TestSharedAccessKeyCredentials_Token(t *testing.T) {
	t.Parallel()

	c := &SharedAccessKeyCredentials{
		Host:   "test.azure-devices.net",
		Device: "devnull",
		Key:    "c2VjcmV0",
	}
	tok, err := c.Token("test.azure-devices.net/devices/devnull", time.Hour)
	require.NoError(t, err)
	require.Contains(t, tok, "SharedAccessSignature sr=")
	require.Contains(t, tok, "&sig=")
	require.Contains(t, tok, "&se=")
}

func TestSharedAccessSignatureCredentials_TokenVerbatim(t *testing.T) {
	t.Parallel()

	c := &SharedAccessSignatureCredentials{Token_: "SharedAccessSignature sr=x&sig=y&se=1"}
	tok, err := c.Token("anything", time.Hour)
	require.NoError(t, err)
	require.Equal(t, "SharedAccessSignature sr=x&sig=y&se=1", tok)

	c.SetToken("SharedAccessSignature sr=x&sig=z&se=2")
	tok, err = c.Token("anything", time.Hour)
	require.NoError(t, err)
	require.Equal(t, "SharedAccessSignature sr=x&sig=z&se=2", tok)
}

func TestDeviceAuthCredentials_MintsHourForwardByDefault(t *testing.T) {
	t.Parallel()

	var gotExpiry time.Time
	c := &DeviceAuthCredentials{
		Host: "test.azure-devices.net", Device: "d",
		Mint: func(resource string, expiry time.Time) (string, error) {
			gotExpiry = expiry
			return "minted", nil
		},
	}
	before := time.Now()
	tok, err := c.Token("resource", 0)
	require.NoError(t, err)
	require.Equal(t, "minted", tok)
	require.WithinDuration(t, before.Add(time.Hour), gotExpiry, 5*time.Second)
}

func TestX509Credentials_NoToken(t *testing.T) {
	t.Parallel()

	c := &X509Credentials{Host: "h", Device: "d"}
	tok, err := c.Token("r", time.Hour)
	require.NoError(t, err)
	require.Empty(t, tok)
	require.Equal(t, KindX509, c.Kind())
}
