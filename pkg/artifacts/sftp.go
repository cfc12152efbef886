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
	"path"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SFTPConfig holds the connection settings for an SFTP artifact sink.
// A key file takes precedence over a password when both are set.
type SFTPConfig struct {
	// Host is the remote hostname or IP address.
	Host string

	// Port is the SSH port.
	Port int

	// User is the SSH user.
	User string

	// Password authenticates when no key file is given.
	Password string

	// KeyFile is the path to the private key.
	KeyFile string

	// KeyPassphrase decrypts an encrypted key file.
	KeyPassphrase string

	// KnownHostsFile verifies the server host key. Empty disables
	// verification.
	KnownHostsFile string

	// BaseDir is the remote directory artifacts are uploaded under.
	// A relative path is resolved against the SSH user's home.
	BaseDir string

	// ConnectTimeout bounds the SSH handshake.
	ConnectTimeout time.Duration
}

// DefaultSFTPConfig returns an SFTP configuration with sensible defaults.
func DefaultSFTPConfig(host, user string) *SFTPConfig {
	return &SFTPConfig{
		Host:           host,
		Port:           22,
		User:           user,
		ConnectTimeout: 30 * time.Second,
	}
}

// Validate checks the configuration for errors.
func (c *SFTPConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.User == "" {
		return fmt.Errorf("user is required")
	}
	if c.KeyFile == "" && c.Password == "" {
		return fmt.Errorf("either a key file or a password is required")
	}
	if c.KeyFile != "" {
		if _, err := os.Stat(c.KeyFile); err != nil {
			return fmt.Errorf("private key file not found: %s", c.KeyFile)
		}
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect timeout must be positive")
	}
	return nil
}

// Address returns the formatted SSH address (host:port).
func (c *SFTPConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// BuildClientConfig converts the configuration to an ssh.ClientConfig.
func (c *SFTPConfig) BuildClientConfig() (*ssh.ClientConfig, error) {
	var authMethods []ssh.AuthMethod

	if c.KeyFile != "" {
		keyBytes, err := os.ReadFile(c.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key: %w", err)
		}

		var signer ssh.Signer
		if c.KeyPassphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(keyBytes, []byte(c.KeyPassphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(keyBytes)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}

		authMethods = append(authMethods, ssh.PublicKeys(signer))
	} else {
		authMethods = append(authMethods, ssh.Password(c.Password))

		// Many SSH servers only offer keyboard-interactive for password
		// logins.
		authMethods = append(authMethods, ssh.KeyboardInteractive(
			func(user, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = c.Password
				}
				return answers, nil
			},
		))
	}

	var hostKeyCallback ssh.HostKeyCallback
	if c.KnownHostsFile != "" {
		var err error
		hostKeyCallback, err = knownhosts.New(c.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts: %w", err)
		}
	} else {
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	}

	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         c.ConnectTimeout,
	}, nil
}

// SFTPSink uploads artifacts to a remote host over SFTP. The connection is
// established lazily on the first store and reused until Close.
type SFTPSink struct {
	cfg    *SFTPConfig
	logger zerolog.Logger

	mu   sync.Mutex
	conn *ssh.Client
	sftp *sftp.Client
}

// NewSFTPSink creates an SFTP sink. The configuration is validated but no
// connection is made until the first artifact is stored.
func NewSFTPSink(cfg *SFTPConfig, logger zerolog.Logger) (*SFTPSink, error) {
	if cfg == nil {
		return nil, &SinkError{Op: "sftp sink", Err: errors.New("config is required")}
	}
	if err := cfg.Validate(); err != nil {
		return nil, &SinkError{Op: "sftp sink", Err: err}
	}

	return &SFTPSink{
		cfg: cfg,
		logger: logger.With().
			Str("component", "artifacts").
			Str("sink", "sftp").
			Str("host", cfg.Host).
			Logger(),
	}, nil
}

// StoreFile uploads a local file to the remote host under name.
func (s *SFTPSink) StoreFile(ctx context.Context, localPath, name string) (*StoredArtifact, error) {
	cleaned, err := cleanName(name)
	if err != nil {
		return nil, &SinkError{Op: "store " + name, Err: err}
	}

	src, err := os.Open(localPath)
	if err != nil {
		return nil, &SinkError{Op: "store " + cleaned, Err: err}
	}
	defer src.Close()

	return s.store(ctx, cleaned, src)
}

// StoreBytes uploads in-memory content to the remote host under name.
func (s *SFTPSink) StoreBytes(ctx context.Context, name string, data []byte) (*StoredArtifact, error) {
	cleaned, err := cleanName(name)
	if err != nil {
		return nil, &SinkError{Op: "store " + name, Err: err}
	}

	return s.store(ctx, cleaned, bytes.NewReader(data))
}

// Close closes the SFTP session and the SSH connection.
func (s *SFTPSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	if s.sftp != nil {
		if err := s.sftp.Close(); err != nil {
			firstErr = err
		}
		s.sftp = nil
	}
	if s.conn != nil {
		if err := s.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.conn = nil
	}
	return firstErr
}

func (s *SFTPSink) store(ctx context.Context, name string, src io.Reader) (*StoredArtifact, error) {
	client, err := s.client(ctx)
	if err != nil {
		return nil, err
	}

	remote := name
	if s.cfg.BaseDir != "" {
		remote = path.Join(s.cfg.BaseDir, name)
	}

	if dir := path.Dir(remote); dir != "." && dir != "/" {
		if err := client.MkdirAll(dir); err != nil {
			return nil, &SinkError{
				Op:          "store " + name,
				Err:         fmt.Errorf("failed to create remote directory %s: %w", dir, err),
				IsTemporary: true,
			}
		}
	}

	start := time.Now()
	dst, err := client.Create(remote)
	if err != nil {
		return nil, &SinkError{Op: "store " + name, Err: err, IsTemporary: true}
	}

	hasher := sha256.New()
	written, err := copyWithContext(ctx, io.MultiWriter(dst, hasher), src)
	if err != nil {
		dst.Close()
		return nil, &SinkError{Op: "store " + name, Err: err, IsTemporary: true}
	}
	if err := dst.Close(); err != nil {
		return nil, &SinkError{Op: "store " + name, Err: err, IsTemporary: true}
	}

	s.logger.Debug().
		Str("artifact", name).
		Str("remote_path", remote).
		Int64("bytes", written).
		Msg("Artifact uploaded")

	return &StoredArtifact{
		Name:     name,
		Location: fmt.Sprintf("sftp://%s/%s", s.cfg.Address(), strings.TrimPrefix(remote, "/")),
		Size:     written,
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
		Duration: time.Since(start),
		StoredAt: time.Now(),
	}, nil
}

// client returns the SFTP session, dialing on first use.
func (s *SFTPSink) client(ctx context.Context) (*sftp.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sftp != nil {
		return s.sftp, nil
	}

	clientConfig, err := s.cfg.BuildClientConfig()
	if err != nil {
		return nil, &SinkError{Op: "connect", Err: err}
	}

	type dialResult struct {
		client *ssh.Client
		err    error
	}
	resultCh := make(chan dialResult, 1)

	go func() {
		client, err := ssh.Dial("tcp", s.cfg.Address(), clientConfig)
		resultCh <- dialResult{client: client, err: err}
	}()

	select {
	case <-ctx.Done():
		// Reap the connection if the dial eventually succeeds.
		go func() {
			if res := <-resultCh; res.client != nil {
				res.client.Close()
			}
		}()
		return nil, &SinkError{Op: "connect", Err: ctx.Err(), IsTemporary: true}

	case res := <-resultCh:
		if res.err != nil {
			authErr := isAuthError(res.err)
			return nil, &SinkError{
				Op:          "connect",
				Err:         res.err,
				IsTemporary: !authErr,
				IsAuthError: authErr,
			}
		}

		sftpClient, err := sftp.NewClient(res.client)
		if err != nil {
			res.client.Close()
			return nil, &SinkError{Op: "connect", Err: fmt.Errorf("failed to create SFTP client: %w", err)}
		}

		s.conn = res.client
		s.sftp = sftpClient
		s.logger.Info().Str("address", s.cfg.Address()).Msg("Connected to artifact host")
		return s.sftp, nil
	}
}

// isAuthError reports whether an SSH handshake failure looks like rejected
// credentials rather than a transient network problem.
func isAuthError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "permission denied")
}
