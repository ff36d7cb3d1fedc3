package plugin

import "strings"

// capabilityKey identifies one entry in the introspection cache
// (spec §4.9: "keyed by (plugin_id, kind, type_id)").
type capabilityKey struct {
	pluginID string
	kind     CapabilityKind
	typeID   string
}

// introspectionCache is a per-actor snapshot of active capabilities plus a
// decoder-candidate table keyed by lowercased extension, rebuilt lazily on
// the next read after any install/retire/disable marks it dirty
// (spec §4.9).
type introspectionCache struct {
	dirty bool

	capabilities map[capabilityKey]CapabilityDescriptor
	// decoderCandidates maps a lowercased extension (no leading dot) to the
	// plugin ids willing to decode it. Slots are walked in map order, so the
	// order among plugins is not defined. Plugins listing "*" go into
	// decoderWildcards instead and are returned for every extension.
	decoderCandidates map[string][]string
	decoderWildcards  []string
}

func newIntrospectionCache() *introspectionCache {
	return &introspectionCache{dirty: true}
}

func (c *introspectionCache) markDirty() { c.dirty = true }

// rebuild walks every active lease in the registry's slots and repopulates
// the cache. Callers must hold the registry's lock.
func (c *introspectionCache) rebuild(slots map[string]*pluginSlotLifecycle, disabled map[string]bool) {
	caps := make(map[capabilityKey]CapabilityDescriptor)
	decoders := make(map[string][]string)
	var wildcards []string

	for pluginID, slot := range slots {
		if disabled[pluginID] || slot.active == nil {
			continue
		}
		lease := slot.active
		for _, desc := range lease.loaded.Module.Capabilities {
			caps[capabilityKey{pluginID: pluginID, kind: desc.Kind, typeID: desc.TypeID}] = desc
			if desc.Kind != CapabilityDecoder {
				continue
			}
			for _, ext := range desc.DecoderExtensions {
				ext = strings.ToLower(strings.TrimPrefix(ext, "."))
				if ext == "*" {
					wildcards = append(wildcards, pluginID)
					continue
				}
				decoders[ext] = append(decoders[ext], pluginID)
			}
		}
	}

	c.capabilities = caps
	c.decoderCandidates = decoders
	c.decoderWildcards = wildcards
	c.dirty = false
}

func (c *introspectionCache) ensureFresh(slots map[string]*pluginSlotLifecycle, disabled map[string]bool) {
	if c.dirty {
		c.rebuild(slots, disabled)
	}
}

// Capability looks up an active capability descriptor by its cache key.
func (c *introspectionCache) Capability(pluginID string, kind CapabilityKind, typeID string) (CapabilityDescriptor, bool) {
	desc, ok := c.capabilities[capabilityKey{pluginID: pluginID, kind: kind, typeID: typeID}]
	return desc, ok
}

// DecoderCandidates returns the plugin ids willing to decode ext, extension
// matches first, followed by any wildcard decoders. The order among plugins
// within each group is not defined.
func (c *introspectionCache) DecoderCandidates(ext string) []string {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	out := make([]string, 0, len(c.decoderCandidates[ext])+len(c.decoderWildcards))
	out = append(out, c.decoderCandidates[ext]...)
	out = append(out, c.decoderWildcards...)
	return out
}
