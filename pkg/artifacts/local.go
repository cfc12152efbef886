package artifacts

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// LocalSink stores artifacts under a directory on the local filesystem.
type LocalSink struct {
	baseDir string
	logger  zerolog.Logger
}

// NewLocalSink creates a local sink rooted at baseDir, creating the
// directory if needed.
func NewLocalSink(baseDir string, logger zerolog.Logger) (*LocalSink, error) {
	if baseDir == "" {
		return nil, &SinkError{Op: "local sink", Err: errors.New("base directory is required")}
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, &SinkError{Op: "local sink", Err: fmt.Errorf("failed to create base directory: %w", err)}
	}

	return &LocalSink{
		baseDir: baseDir,
		logger:  logger.With().Str("component", "artifacts").Str("sink", "local").Logger(),
	}, nil
}

// BaseDir returns the directory artifacts are stored under.
func (s *LocalSink) BaseDir() string {
	return s.baseDir
}

// StoreFile copies a local file into the sink directory under name.
func (s *LocalSink) StoreFile(ctx context.Context, localPath, name string) (*StoredArtifact, error) {
	cleaned, err := cleanName(name)
	if err != nil {
		return nil, &SinkError{Op: "store " + name, Err: err}
	}
	dest := filepath.Join(s.baseDir, filepath.FromSlash(cleaned))

	// The engine stages screenshots inside the sink directory when both
	// point at the same path; copying such a file onto itself would
	// truncate it.
	if srcAbs, err := filepath.Abs(localPath); err == nil {
		if destAbs, err := filepath.Abs(dest); err == nil && srcAbs == destAbs {
			return s.describeInPlace(cleaned, dest)
		}
	}

	src, err := os.Open(localPath)
	if err != nil {
		return nil, &SinkError{Op: "store " + cleaned, Err: err}
	}
	defer src.Close()

	return s.store(ctx, cleaned, dest, src)
}

// StoreBytes writes in-memory content into the sink directory under name.
func (s *LocalSink) StoreBytes(ctx context.Context, name string, data []byte) (*StoredArtifact, error) {
	cleaned, err := cleanName(name)
	if err != nil {
		return nil, &SinkError{Op: "store " + name, Err: err}
	}
	dest := filepath.Join(s.baseDir, filepath.FromSlash(cleaned))

	return s.store(ctx, cleaned, dest, bytes.NewReader(data))
}

// Close releases sink resources. A local sink holds none.
func (s *LocalSink) Close() error {
	return nil
}

func (s *LocalSink) store(ctx context.Context, name, dest string, src io.Reader) (*StoredArtifact, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return nil, &SinkError{Op: "store " + name, Err: fmt.Errorf("failed to create artifact directory: %w", err)}
	}

	start := time.Now()
	dst, err := os.Create(dest)
	if err != nil {
		return nil, &SinkError{Op: "store " + name, Err: err}
	}

	hasher := sha256.New()
	written, err := copyWithContext(ctx, io.MultiWriter(dst, hasher), src)
	if err != nil {
		dst.Close()
		os.Remove(dest)
		return nil, &SinkError{Op: "store " + name, Err: err, IsTemporary: ctx.Err() != nil}
	}
	if err := dst.Close(); err != nil {
		return nil, &SinkError{Op: "store " + name, Err: err}
	}

	s.logger.Debug().
		Str("artifact", name).
		Str("path", dest).
		Int64("bytes", written).
		Msg("Artifact stored")

	return &StoredArtifact{
		Name:     name,
		Location: dest,
		Size:     written,
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
		Duration: time.Since(start),
		StoredAt: time.Now(),
	}, nil
}

func (s *LocalSink) describeInPlace(name, dest string) (*StoredArtifact, error) {
	info, err := os.Stat(dest)
	if err != nil {
		return nil, &SinkError{Op: "store " + name, Err: err}
	}
	sum, err := fileChecksum(dest)
	if err != nil {
		return nil, &SinkError{Op: "store " + name, Err: err}
	}

	return &StoredArtifact{
		Name:     name,
		Location: dest,
		Size:     info.Size(),
		Checksum: sum,
		StoredAt: time.Now(),
	}, nil
}
