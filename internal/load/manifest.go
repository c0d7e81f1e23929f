package load

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Manifest describes one written output.
type Manifest struct {
	Path        string      `json:"path"`
	Format      Format      `json:"format"`
	Compression Compression `json:"compression"`
	Rows        int         `json:"rows"`
	Columns     []string    `json:"columns"`
	Bytes       int64       `json:"bytes"`
	SHA256      string      `json:"sha256,omitempty"`
	WrittenAt   time.Time   `json:"written_at"`
}

// RunManifest lists every output of one pipeline run.
type RunManifest struct {
	RunID       string     `json:"run_id"`
	Environment string     `json:"environment"`
	CreatedAt   time.Time  `json:"created_at"`
	Outputs     []Manifest `json:"outputs"`
}

// SidecarPath returns the manifest path for an output path:
// out/fitness.parquet -> out/fitness.manifest.json.
func SidecarPath(outputPath string) string {
	dir, base := filepath.Split(outputPath)
	if i := strings.Index(base, "."); i > 0 {
		base = base[:i]
	}
	return filepath.Join(dir, base+".manifest.json")
}

// WriteSidecar writes the run manifest as indented JSON, atomically.
func WriteSidecar(path string, m RunManifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create manifest dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create manifest: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close manifest: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

// ReadSidecar reads a run manifest.
func ReadSidecar(path string) (*RunManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m RunManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest %s: %w", path, err)
	}
	return &m, nil
}

// Checksum returns the hex SHA-256 and size of a file.
func Checksum(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
