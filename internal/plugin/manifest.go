package plugin

import (
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/sonora-audio/sonora/internal/errors"
)

// InstallReceiptFileName is the well-known install-receipt filename at a
// plugin's root directory (spec §6).
const InstallReceiptFileName = ".install.json"

// maxDiscoveryDepth bounds how deep DiscoverPlugins walks below the plugin
// root, mirroring the original loader's max_depth(4).
const maxDiscoveryDepth = 4

// PluginManifest is the plugin-authored identity block inside an install
// receipt (spec §6: "PluginManifest{id, api_version, name?, entry_symbol?}").
type PluginManifest struct {
	ID          string `json:"id"`
	APIVersion  uint32 `json:"api_version"`
	Name        string `json:"name,omitempty"`
	EntrySymbol string `json:"entry_symbol,omitempty"`
}

// EntrySymbolOrDefault returns the manifest's entry symbol, or
// DefaultEntrySymbol when unset.
func (m PluginManifest) EntrySymbolOrDefault() string {
	if m.EntrySymbol != "" {
		return m.EntrySymbol
	}
	return DefaultEntrySymbol
}

// PluginInstallReceipt is the on-disk `.install.json` document.
type PluginInstallReceipt struct {
	Manifest       PluginManifest `json:"manifest"`
	LibraryRelPath string         `json:"library_rel_path"`
}

// DiscoveredPlugin is a validated install receipt resolved to an absolute
// library path, ready for loading.
type DiscoveredPlugin struct {
	RootDir     string
	ReceiptPath string
	Manifest    PluginManifest
	LibraryPath string
}

// DiscoverPlugins walks dir looking for InstallReceiptFileName files up to
// maxDiscoveryDepth below it, the Go-native equivalent of the original
// loader's walkdir::WalkDir(...).max_depth(4) pass. A missing dir is not an
// error; it simply yields no plugins.
func DiscoverPlugins(dir string) ([]DiscoveredPlugin, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, nil
	}

	var found []DiscoveredPlugin
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // best-effort: skip unreadable entries
		}
		if d.IsDir() {
			rel, relErr := filepath.Rel(dir, path)
			if relErr == nil && rel != "." {
				depth := len(strings.Split(filepath.ToSlash(rel), "/"))
				if depth >= maxDiscoveryDepth {
					return filepath.SkipDir
				}
			}
			return nil
		}
		if d.Name() != InstallReceiptFileName {
			return nil
		}
		receipt, readErr := readReceipt(path)
		if readErr != nil {
			return nil // malformed receipt: skip, don't abort the whole scan
		}
		root := filepath.Dir(path)
		found = append(found, DiscoveredPlugin{
			RootDir:     root,
			ReceiptPath: path,
			Manifest:    receipt.Manifest,
			LibraryPath: filepath.Join(root, filepath.FromSlash(receipt.LibraryRelPath)),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

func readReceipt(path string) (PluginInstallReceipt, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PluginInstallReceipt{}, errors.New(ErrManifestNotFound).Context("path", path).Build()
	}
	var receipt PluginInstallReceipt
	if err := json.Unmarshal(data, &receipt); err != nil {
		return PluginInstallReceipt{}, errors.New(ErrManifestInvalid).Context("path", path).Build()
	}
	if receipt.Manifest.ID == "" {
		return PluginInstallReceipt{}, errors.New(ErrManifestInvalid).Context("path", path).Context("detail", "empty id").Build()
	}
	return receipt, nil
}
