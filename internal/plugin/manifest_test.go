package plugin

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeReceipt(t *testing.T, dir string, receipt PluginInstallReceipt) {
	t.Helper()
	data, err := json.Marshal(receipt)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, InstallReceiptFileName), data, 0o644))
}

func TestDiscoverPluginsFindsTopLevelReceipt(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	pluginDir := filepath.Join(root, "gain-plugin")
	writeReceipt(t, pluginDir, PluginInstallReceipt{
		Manifest:       PluginManifest{ID: "gain-plugin", APIVersion: ABIVersion},
		LibraryRelPath: "libgain.so",
	})

	found, err := DiscoverPlugins(root)
	require.NoError(t, err)
	if assert.Len(t, found, 1) {
		assert.Equal(t, "gain-plugin", found[0].Manifest.ID)
		assert.Equal(t, filepath.Join(pluginDir, "libgain.so"), found[0].LibraryPath)
	}
}

func TestDiscoverPluginsMissingDirYieldsNoError(t *testing.T) {
	t.Parallel()
	found, err := DiscoverPlugins(filepath.Join(t.TempDir(), "does-not-exist"))
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestDiscoverPluginsSkipsMalformedReceipt(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	badDir := filepath.Join(root, "broken-plugin")
	require.NoError(t, os.MkdirAll(badDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(badDir, InstallReceiptFileName), []byte("not json"), 0o644))

	goodDir := filepath.Join(root, "good-plugin")
	writeReceipt(t, goodDir, PluginInstallReceipt{
		Manifest:       PluginManifest{ID: "good-plugin", APIVersion: ABIVersion},
		LibraryRelPath: "libgood.so",
	})

	found, err := DiscoverPlugins(root)
	require.NoError(t, err)
	if assert.Len(t, found, 1) {
		assert.Equal(t, "good-plugin", found[0].Manifest.ID)
	}
}

func TestDiscoverPluginsRespectsMaxDepth(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	deepDir := filepath.Join(root, "a", "b", "c", "d", "e", "too-deep")
	writeReceipt(t, deepDir, PluginInstallReceipt{
		Manifest:       PluginManifest{ID: "too-deep", APIVersion: ABIVersion},
		LibraryRelPath: "lib.so",
	})

	found, err := DiscoverPlugins(root)
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestEntrySymbolOrDefault(t *testing.T) {
	t.Parallel()
	assert.Equal(t, DefaultEntrySymbol, PluginManifest{}.EntrySymbolOrDefault())
	assert.Equal(t, "CustomEntry", PluginManifest{EntrySymbol: "CustomEntry"}.EntrySymbolOrDefault())
}
