package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMakeShadowLibraryCopyNamingScheme(t *testing.T) {
	t.Parallel()
	src := filepath.Join(t.TempDir(), "libgain.so")
	require.NoError(t, os.WriteFile(src, []byte("fake-native-library"), 0o644))

	shadowPath, err := makeShadowLibraryCopy(src, "gain plugin/v2")
	require.NoError(t, err)
	defer removeShadowCopyBestEffort(shadowPath)

	contents, err := os.ReadFile(shadowPath)
	require.NoError(t, err)
	assert.Equal(t, "fake-native-library", string(contents))

	name := filepath.Base(shadowPath)
	parts := strings.SplitN(name, "-", 4)
	require.Len(t, parts, 4)
	assert.Equal(t, fmt.Sprintf("%d", os.Getpid()), parts[1])
	assert.Equal(t, "libgain.so", parts[3])

	assert.Contains(t, shadowPath, sanitizePluginID("gain plugin/v2"))
}

func TestMakeShadowLibraryCopyUniqueSeqAcrossCalls(t *testing.T) {
	t.Parallel()
	src := filepath.Join(t.TempDir(), "lib.so")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))

	first, err := makeShadowLibraryCopy(src, "p")
	require.NoError(t, err)
	defer removeShadowCopyBestEffort(first)

	second, err := makeShadowLibraryCopy(src, "p")
	require.NoError(t, err)
	defer removeShadowCopyBestEffort(second)

	assert.NotEqual(t, first, second)
}

func TestSanitizePluginIDReplacesUnsafeChars(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "a_b_c-d.e", sanitizePluginID("a/b c-d.e"))
	assert.Equal(t, "unknown-plugin", sanitizePluginID("   "))
}

func TestRemoveShadowCopyBestEffortIgnoresMissingFile(t *testing.T) {
	t.Parallel()
	assert.NotPanics(t, func() {
		removeShadowCopyBestEffort(filepath.Join(t.TempDir(), "missing.so"))
		removeShadowCopyBestEffort("")
	})
}
