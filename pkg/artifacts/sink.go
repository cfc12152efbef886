package artifacts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/webpilot/webpilot/pkg/engine"
)

// Sink receives run artifacts: failure screenshots staged by the engine and
// the serialized run result. Artifact names are sink-relative paths with
// forward slashes on every platform; sinks translate as needed.
type Sink interface {
	// StoreFile publishes a local file under the given artifact name.
	StoreFile(ctx context.Context, localPath, name string) (*StoredArtifact, error)

	// StoreBytes publishes in-memory content under the given artifact name.
	StoreBytes(ctx context.Context, name string, data []byte) (*StoredArtifact, error)

	// Close releases any resources held by the sink.
	Close() error
}

// StoredArtifact describes one artifact after it reached the sink.
type StoredArtifact struct {
	// Name is the sink-relative artifact name.
	Name string `json:"name"`

	// Location is where the artifact ended up (a filesystem path or an
	// sftp:// locator).
	Location string `json:"location"`

	// Size is the number of bytes written.
	Size int64 `json:"size"`

	// Checksum is the SHA256 checksum of the stored content.
	Checksum string `json:"checksum"`

	// Duration is the time taken to store the artifact.
	Duration time.Duration `json:"duration"`

	// StoredAt is when the store completed.
	StoredAt time.Time `json:"stored_at"`
}

// SinkError represents an error from the artifact layer.
type SinkError struct {
	// Op is the operation that failed (e.g., "connect", "store run-1/shot.png")
	Op string

	// Err is the underlying error
	Err error

	// IsTemporary indicates if the error is temporary and can be retried
	IsTemporary bool

	// IsAuthError indicates if the error is related to authentication
	IsAuthError bool
}

func (e *SinkError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *SinkError) Unwrap() error {
	return e.Err
}

func (e *SinkError) Temporary() bool {
	return e.IsTemporary
}

// StoreResult serializes a run result and publishes it through the sink
// under <run_id>/result.json.
func StoreResult(ctx context.Context, sink Sink, result *engine.ExecutionResult) (*StoredArtifact, error) {
	if sink == nil {
		return nil, &SinkError{Op: "store result", Err: errors.New("sink is nil")}
	}
	if result == nil {
		return nil, &SinkError{Op: "store result", Err: errors.New("result is nil")}
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return nil, &SinkError{Op: "store result", Err: fmt.Errorf("failed to marshal result: %w", err)}
	}

	return sink.StoreBytes(ctx, path.Join(result.RunID, "result.json"), data)
}

// StoreDir publishes every regular file under dir, preserving the directory
// layout beneath prefix. A missing dir is not an error; the engine only
// creates its staging directory once it captures something.
func StoreDir(ctx context.Context, sink Sink, dir, prefix string) ([]*StoredArtifact, error) {
	if sink == nil {
		return nil, &SinkError{Op: "store dir", Err: errors.New("sink is nil")}
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, nil
	}

	var stored []*StoredArtifact
	err := filepath.Walk(dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		art, storeErr := sink.StoreFile(ctx, p, path.Join(prefix, filepath.ToSlash(rel)))
		if storeErr != nil {
			return storeErr
		}
		stored = append(stored, art)
		return nil
	})
	if err != nil {
		return stored, err
	}
	return stored, nil
}

// cleanName validates and normalizes a sink-relative artifact name.
func cleanName(name string) (string, error) {
	if name == "" {
		return "", errors.New("artifact name is empty")
	}
	cleaned := path.Clean(name)
	if cleaned == "." {
		return "", fmt.Errorf("invalid artifact name: %q", name)
	}
	if path.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("artifact name escapes the sink root: %q", name)
	}
	return cleaned, nil
}

// copyWithContext copies data while checking for context cancellation.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64

	for {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		default:
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			w, writeErr := dst.Write(buf[:n])
			written += int64(w)
			if writeErr != nil {
				return written, writeErr
			}
			if w != n {
				return written, io.ErrShortWrite
			}
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, readErr
		}
	}
}

// fileChecksum computes the SHA256 checksum of a local file.
func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
