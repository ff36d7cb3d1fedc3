package plugin

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sonora-audio/sonora/internal/errors"
)

var shadowCopySeq atomic.Uint64

// makeShadowLibraryCopy copies sourceLibrary into a per-plugin shadow
// directory under the OS temp dir, naming the copy
// `<stamp_ms>-<pid>-<seq>-<basename>` exactly as spec §4.9 requires, so the
// original plugin library on disk stays replaceable while the shadow copy
// is dlopen'd. Grounded on stellatune-plugins/src/load.rs's
// make_shadow_library_copy.
func makeShadowLibraryCopy(sourceLibrary, pluginID string) (string, error) {
	baseName := filepath.Base(sourceLibrary)
	if baseName == "." || baseName == string(filepath.Separator) {
		return "", errors.New(ErrShadowCopyFailed).Context("source", sourceLibrary).Build()
	}

	stampMs := time.Now().UnixMilli()
	seq := shadowCopySeq.Add(1)
	pid := os.Getpid()

	safeID := sanitizePluginID(pluginID)
	shadowDir := filepath.Join(os.TempDir(), "sonora", "plugin-shadow", safeID)
	if err := os.MkdirAll(shadowDir, 0o755); err != nil {
		return "", errors.New(ErrShadowCopyFailed).Context("dir", shadowDir).Build()
	}

	shadowName := fmt.Sprintf("%d-%d-%d-%s", stampMs, pid, seq, baseName)
	shadowPath := filepath.Join(shadowDir, shadowName)
	if err := copyFile(sourceLibrary, shadowPath); err != nil {
		return "", errors.New(ErrShadowCopyFailed).Context("source", sourceLibrary).Context("dest", shadowPath).Build()
	}
	return shadowPath, nil
}

func sanitizePluginID(id string) string {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		trimmed = "unknown-plugin"
	}
	var b strings.Builder
	for _, r := range trimmed {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o755)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

// removeShadowCopyBestEffort deletes a shadow library file, ignoring errors:
// the lease's destruction must never block on filesystem cleanup (spec
// §4.9: "removing the shadow file (best-effort)").
func removeShadowCopyBestEffort(path string) {
	if path == "" {
		return
	}
	_ = os.Remove(path)
}
