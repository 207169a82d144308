// Package sftp implements a transport that reads and writes resources on a
// remote host over SFTP.
package sftp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"

	"github.com/updohilo/updohilo/pkg/transports"
)

// Transport fetches and stores resources over a single lazily opened SFTP session.
type Transport struct {
	config *Config

	connMu      sync.Mutex
	ssh         *ssh.Client
	client      *sftp.Client
	connectedAt time.Time
}

// TransportError represents an error from the SFTP layer.
type TransportError struct {
	// Op is the operation that failed (e.g., "connect", "fetch", "store")
	Op string

	// Err is the underlying error
	Err error

	// IsTemporary indicates if the error is temporary and can be retried
	IsTemporary bool

	// IsAuthError indicates if the error is related to authentication
	IsAuthError bool
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Temporary() bool {
	return e.IsTemporary
}

// New creates an SFTP transport. No connection is made until first use.
func New(config *Config) (*Transport, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Transport{config: config}, nil
}

// newWithClient wraps an established SFTP client.
func newWithClient(config *Config, client *sftp.Client) *Transport {
	return &Transport{config: config, client: client, connectedAt: time.Now()}
}

// RemotePath converts a location ("sftp://host/a/b", "/a/b" or "a/b") into a remote path.
func (t *Transport) RemotePath(location string) string {
	p := location
	if transports.Scheme(location) == transports.SchemeSFTP {
		rest := transports.StripScheme(location)
		if i := strings.Index(rest, "/"); i >= 0 {
			p = rest[i:]
		} else {
			p = "/"
		}
	}
	if !path.IsAbs(p) && t.config.Root != "" {
		p = path.Join(t.config.Root, p)
	}
	return path.Clean(p)
}

// Fetch downloads the file at location.
func (t *Transport) Fetch(ctx context.Context, location string) ([]byte, error) {
	client, err := t.connect(ctx)
	if err != nil {
		return nil, err
	}

	remotePath := t.RemotePath(location)
	f, err := client.Open(remotePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", transports.ErrNotFound, location)
		}
		return nil, &TransportError{Op: "fetch", Err: err, IsTemporary: true}
	}
	defer f.Close()

	var buf bytes.Buffer
	if _, err := copyWithContext(ctx, &buf, f); err != nil {
		return nil, &TransportError{Op: "fetch", Err: fmt.Errorf("failed to read remote file: %w", err), IsTemporary: true}
	}

	log.Debug().Str("remote", remotePath).Int("bytes", buf.Len()).Msg("file downloaded")
	return buf.Bytes(), nil
}

// Store uploads content to location, creating parent directories.
func (t *Transport) Store(ctx context.Context, content []byte, location string) error {
	client, err := t.connect(ctx)
	if err != nil {
		return err
	}

	remotePath := t.RemotePath(location)
	if err := client.MkdirAll(path.Dir(remotePath)); err != nil {
		return &TransportError{Op: "store", Err: fmt.Errorf("failed to create remote directory: %w", err)}
	}

	f, err := client.Create(remotePath)
	if err != nil {
		return &TransportError{Op: "store", Err: fmt.Errorf("failed to create remote file: %w", err), IsTemporary: true}
	}

	if _, err := copyWithContext(ctx, f, bytes.NewReader(content)); err != nil {
		f.Close()
		return &TransportError{Op: "store", Err: fmt.Errorf("failed to copy file: %w", err), IsTemporary: true}
	}
	if err := f.Close(); err != nil {
		return &TransportError{Op: "store", Err: fmt.Errorf("failed to close remote file: %w", err), IsTemporary: true}
	}

	log.Debug().Str("remote", remotePath).Int("bytes", len(content)).Msg("file uploaded")
	return nil
}

// Close releases the SFTP session and SSH connection.
func (t *Transport) Close() error {
	t.connMu.Lock()
	defer t.connMu.Unlock()

	var errs []error
	if t.client != nil {
		errs = append(errs, t.client.Close())
		t.client = nil
	}
	if t.ssh != nil {
		errs = append(errs, t.ssh.Close())
		t.ssh = nil
	}
	return errors.Join(errs...)
}

// connect returns the SFTP client, dialing on first use.
func (t *Transport) connect(ctx context.Context) (*sftp.Client, error) {
	t.connMu.Lock()
	defer t.connMu.Unlock()

	if t.client != nil {
		return t.client, nil
	}

	clientConfig, err := t.config.ClientConfig()
	if err != nil {
		return nil, &TransportError{Op: "connect", Err: err, IsAuthError: true}
	}

	address := t.config.Address()
	log.Debug().Str("address", address).Msg("establishing SSH connection")

	type dialResult struct {
		client *ssh.Client
		err    error
	}
	done := make(chan dialResult, 1)
	go func() {
		c, err := ssh.Dial("tcp", address, clientConfig)
		done <- dialResult{c, err}
	}()

	var sshClient *ssh.Client
	select {
	case <-ctx.Done():
		go func() {
			if r := <-done; r.client != nil {
				_ = r.client.Close()
			}
		}()
		return nil, &TransportError{Op: "connect", Err: ctx.Err(), IsTemporary: true}
	case r := <-done:
		if r.err != nil {
			return nil, &TransportError{Op: "connect", Err: r.err, IsTemporary: true}
		}
		sshClient = r.client
	}

	client, err := sftp.NewClient(sshClient)
	if err != nil {
		_ = sshClient.Close()
		return nil, &TransportError{Op: "sftp-init", Err: fmt.Errorf("failed to create SFTP client: %w", err), IsTemporary: true}
	}

	t.ssh = sshClient
	t.client = client
	t.connectedAt = time.Now()
	log.Info().Str("address", address).Msg("SFTP session established")
	return client, nil
}

// copyWithContext copies data from src to dst while respecting context cancellation.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64

	for {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		default:
		}

		nr, err := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[0:nr])
			if nw > 0 {
				written += int64(nw)
			}
			if werr != nil {
				return written, werr
			}
			if nr != nw {
				return written, io.ErrShortWrite
			}
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return written, err
		}
	}

	return written, nil
}
