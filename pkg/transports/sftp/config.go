package sftp

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// AuthMethod selects how the transport authenticates to the SSH server.
type AuthMethod string

const (
	AuthMethodPassword AuthMethod = "password"
	AuthMethodKey      AuthMethod = "key"
)

// Keys tried, in order, when key auth has no PrivateKeyPath.
var defaultKeyNames = []string{"id_ed25519", "id_ecdsa", "id_rsa"}

// Config describes the SFTP server resources are read from and written to.
// Secrets are never serialized to JSON so run records cannot leak them.
type Config struct {
	Host       string     `json:"host" yaml:"host"`
	Port       int        `json:"port" yaml:"port"`
	User       string     `json:"user" yaml:"user"`
	AuthMethod AuthMethod `json:"auth_method" yaml:"auth_method"`

	Password             string `json:"-" yaml:"password"`
	PrivateKeyPath       string `json:"private_key_path" yaml:"private_key_path"`
	PrivateKeyPassphrase string `json:"-" yaml:"private_key_passphrase"`

	// KnownHostsPath is consulted only with StrictHostKeyChecking.
	KnownHostsPath        string `json:"known_hosts_path" yaml:"known_hosts_path"`
	StrictHostKeyChecking bool   `json:"strict_host_key_checking" yaml:"strict_host_key_checking"`

	ConnectionTimeout time.Duration `json:"connection_timeout" yaml:"connection_timeout"`

	// Root is the remote directory bare locations resolve under.
	Root string `json:"root" yaml:"root"`
}

// DefaultConfig returns key auth on port 22 with host key checking against
// ~/.ssh/known_hosts.
func DefaultConfig(host, user string) *Config {
	cfg := &Config{
		Host:                  host,
		Port:                  22,
		User:                  user,
		AuthMethod:            AuthMethodKey,
		StrictHostKeyChecking: true,
		ConnectionTimeout:     30 * time.Second,
	}
	if home, err := os.UserHomeDir(); err == nil {
		cfg.KnownHostsPath = filepath.Join(home, ".ssh", "known_hosts")
	}
	return cfg
}

// Validate reports every problem with c. Key auth without a key path picks
// the first default key found in ~/.ssh.
func (c *Config) Validate() error {
	var errs []error

	if c.Host == "" {
		errs = append(errs, errors.New("host is required"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port: %d", c.Port))
	}
	if c.User == "" {
		errs = append(errs, errors.New("user is required"))
	}
	if c.ConnectionTimeout <= 0 {
		errs = append(errs, errors.New("connection timeout must be positive"))
	}

	switch c.AuthMethod {
	case AuthMethodPassword:
		if c.Password == "" {
			errs = append(errs, errors.New("password is required for password authentication"))
		}
	case AuthMethodKey:
		if c.PrivateKeyPath == "" {
			c.PrivateKeyPath = findDefaultKey()
		}
		if c.PrivateKeyPath == "" {
			errs = append(errs, errors.New("private key path is required: no default key in ~/.ssh"))
		} else if _, err := os.Stat(c.PrivateKeyPath); err != nil {
			errs = append(errs, fmt.Errorf("private key file not found: %s", c.PrivateKeyPath))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported auth method: %q", c.AuthMethod))
	}

	return errors.Join(errs...)
}

func findDefaultKey() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	for _, name := range defaultKeyNames {
		path := filepath.Join(home, ".ssh", name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// Address returns host:port, bracketing IPv6 hosts.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ClientConfig builds the ssh.ClientConfig used to dial the server.
func (c *Config) ClientConfig() (*ssh.ClientConfig, error) {
	auth, err := c.authMethods()
	if err != nil {
		return nil, err
	}
	hostKeys, err := c.hostKeyCallback()
	if err != nil {
		return nil, err
	}
	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            auth,
		HostKeyCallback: hostKeys,
		Timeout:         c.ConnectionTimeout,
	}, nil
}

func (c *Config) authMethods() ([]ssh.AuthMethod, error) {
	switch c.AuthMethod {
	case AuthMethodPassword:
		// Servers that disable "password" usually still prompt through
		// keyboard-interactive.
		answer := func(_, _ string, questions []string, _ []bool) ([]string, error) {
			answers := make([]string, len(questions))
			for i := range answers {
				answers[i] = c.Password
			}
			return answers, nil
		}
		return []ssh.AuthMethod{ssh.Password(c.Password), ssh.KeyboardInteractive(answer)}, nil

	case AuthMethodKey:
		signer, err := c.signer()
		if err != nil {
			return nil, err
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}
	return nil, fmt.Errorf("unsupported auth method: %q", c.AuthMethod)
}

func (c *Config) signer() (ssh.Signer, error) {
	pem, err := os.ReadFile(c.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}

	var signer ssh.Signer
	if c.PrivateKeyPassphrase == "" {
		signer, err = ssh.ParsePrivateKey(pem)
	} else {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(pem, []byte(c.PrivateKeyPassphrase))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key %s: %w", c.PrivateKeyPath, err)
	}
	return signer, nil
}

func (c *Config) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if !c.StrictHostKeyChecking || c.KnownHostsPath == "" {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	callback, err := knownhosts.New(c.KnownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load known_hosts %s: %w", c.KnownHostsPath, err)
	}
	return callback, nil
}
