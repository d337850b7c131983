package identity

import (
	"crypto/md5" //nolint:gosec
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUUIDIsRawMD5Digest(t *testing.T) {
	name := "Mock.a"
	digest := md5.Sum([]byte(name)) //nolint:gosec
	id := UUID(name)
	require.Equal(t, digest[:], id[:])
}

func TestUUIDDeterministic(t *testing.T) {
	require.Equal(t, UUID("Mock.a"), UUID("Mock.a"))
	require.NotEqual(t, UUID("Mock.a"), UUID("Mock.b"))
}

func TestParseCanonicalName(t *testing.T) {
	cn, err := ParseCanonicalName("Mock.a")
	require.NoError(t, err)
	require.Equal(t, "Mock", cn.Type)
	require.Equal(t, "a", cn.Instance)
	require.Equal(t, "Mock.a", cn.String())

	_, err = ParseCanonicalName("NoDotHere")
	require.Error(t, err)

	_, err = ParseCanonicalName("1Bad.instance")
	require.Error(t, err)
}
