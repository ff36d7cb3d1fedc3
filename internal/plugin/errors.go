package plugin

import "github.com/sonora-audio/sonora/internal/errors"

// ComponentPlugin identifies errors raised by the plugin module-lease core.
const ComponentPlugin = "plugin"

// Error kinds the plugin runtime recognizes (spec §7, §4.9).
var (
	ErrManifestNotFound = errors.New(nil).
				Component(ComponentPlugin).
				Category(errors.CategoryFileIO).
				Context("kind", "manifest_not_found").
				Build()

	ErrManifestInvalid = errors.New(nil).
				Component(ComponentPlugin).
				Category(errors.CategoryValidation).
				Context("kind", "manifest_invalid").
				Build()

	ErrLibraryMissing = errors.New(nil).
				Component(ComponentPlugin).
				Category(errors.CategoryFileIO).
				Context("kind", "library_missing").
				Build()

	ErrABIVersionMismatch = errors.New(nil).
				Component(ComponentPlugin).
				Category(errors.CategoryPlugin).
				Context("kind", "abi_version_mismatch").
				Build()

	ErrEntrySymbolMissing = errors.New(nil).
				Component(ComponentPlugin).
				Category(errors.CategoryPlugin).
				Context("kind", "entry_symbol_missing").
				Build()

	ErrEntryReturnedNil = errors.New(nil).
				Component(ComponentPlugin).
				Category(errors.CategoryPlugin).
				Context("kind", "entry_returned_nil").
				Build()

	ErrMetadataMismatch = errors.New(nil).
				Component(ComponentPlugin).
				Category(errors.CategoryPlugin).
				Context("kind", "metadata_mismatch").
				Build()

	ErrPluginNotFound = errors.New(nil).
				Component(ComponentPlugin).
				Category(errors.CategoryNotFound).
				Context("kind", "plugin_not_found").
				Build()

	ErrPluginDisabled = errors.New(nil).
				Component(ComponentPlugin).
				Category(errors.CategoryState).
				Context("kind", "plugin_disabled").
				Build()

	ErrShadowCopyFailed = errors.New(nil).
				Component(ComponentPlugin).
				Category(errors.CategoryFileIO).
				Context("kind", "shadow_copy_failed").
				Build()

	ErrNoInstanceFactory = errors.New(nil).
				Component(ComponentPlugin).
				Category(errors.CategoryPlugin).
				Context("kind", "no_instance_factory").
				Build()
)

func errPluginUnavailable(pluginID string) error {
	return errors.New(ErrPluginNotFound).Context("plugin_id", pluginID).Build()
}

func errNoInstanceFactory(pluginID, typeID string) error {
	return errors.New(ErrNoInstanceFactory).Context("plugin_id", pluginID).Context("type_id", typeID).Build()
}
