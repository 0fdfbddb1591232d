package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestSealOpenKey_RoundTrip(t *testing.T) {
	blob, err := SealKey("0x"+testKeyHex, "hunter2")
	require.NoError(t, err)

	got, err := OpenKey(blob, "hunter2")
	require.NoError(t, err)
	require.Equal(t, testKeyHex, got)
}

func TestOpenKey_WrongPassword(t *testing.T) {
	blob, err := SealKey(testKeyHex, "correct")
	require.NoError(t, err)

	_, err = OpenKey(blob, "wrong")
	require.Error(t, err)
}

func TestSealKey_RejectsBadInput(t *testing.T) {
	_, err := SealKey(testKeyHex, "")
	require.Error(t, err)

	_, err = SealKey("not-hex", "pw")
	require.Error(t, err)

	_, err = SealKey("abcd", "pw") // too short
	require.Error(t, err)
}

func TestResolveKey(t *testing.T) {
	// Raw key wins.
	got, err := ResolveKey(KeySource{RawPrivateKey: "0x" + testKeyHex})
	require.NoError(t, err)
	require.Equal(t, testKeyHex, got)

	// Sealed key file.
	blob, err := SealKey(testKeyHex, "pw")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "key.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	got, err = ResolveKey(KeySource{SealedKeyPath: path, Password: "pw"})
	require.NoError(t, err)
	require.Equal(t, testKeyHex, got)

	// No source configured.
	_, err = ResolveKey(KeySource{})
	require.Error(t, err)
}
