// Package plugin implements the generation-based hot-swap module-lease
// core: discovering, shadow-loading, and reconciling native plugin
// libraries, and the per-instance Worker Endpoint Controller that
// reconciles desired vs. current config within each worker (hot-apply /
// recreate / reject).
//
// A Registry owns one slot per plugin id holding its active generation (a
// *ModuleLease) and any generations still draining after a reload. External
// callers only ever see leases and capability descriptors through the
// Registry's methods, which serialize registry mutation behind one mutex —
// the Go analogue of the single cooperative "plugin runtime actor" thread
// spec.md describes.
package plugin
