package plugin

// WorkerControlKind enumerates the messages the plugin runtime actor pushes
// to worker-owned instance controllers on install/reload/disable
// (spec §4.9).
type WorkerControlKind int

const (
	ControlRecreate WorkerControlKind = iota
	ControlDestroy
)

// WorkerControlMessage carries a monotonically increasing per-plugin
// sequence number so workers can drop stale messages (spec §4.9: "workers
// drop stale messages by seq <= last_seen").
type WorkerControlMessage struct {
	Kind   WorkerControlKind
	Reason string
	Seq    uint64
}
