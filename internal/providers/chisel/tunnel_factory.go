package chisel

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nitecon/director/internal/transport"
)

// certTempDir creates a fresh temporary directory to hold one tunnel
// server's TLS materials.
func certTempDir() (string, error) {
	dir, err := os.MkdirTemp("", "director-tls-server-*")
	if err != nil {
		return "", fmt.Errorf("create cert dir: %w", err)
	}
	return dir, nil
}

// writeCertMaterials writes the CA, server certificate, and server key
// into dir and returns their file paths. The directory is removed on
// any write failure.
func writeCertMaterials(dir string, caPEM, certPEM, keyPEM []byte) (caFile, certFile, keyFile string, err error) {
	caFile = filepath.Join(dir, "ca.pem")
	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")

	if err := os.WriteFile(caFile, caPEM, 0o600); err != nil {
		removeCertDir(dir)
		return "", "", "", fmt.Errorf("write CA cert: %w", err)
	}
	if err := os.WriteFile(certFile, certPEM, 0o600); err != nil {
		removeCertDir(dir)
		return "", "", "", fmt.Errorf("write server cert: %w", err)
	}
	if err := os.WriteFile(keyFile, keyPEM, 0o600); err != nil {
		removeCertDir(dir)
		return "", "", "", fmt.Errorf("write server key: %w", err)
	}
	return caFile, certFile, keyFile, nil
}

func removeCertDir(dir string) {
	os.RemoveAll(dir)
}

// tunnelListenerWithCleanup wraps a transport.Listener and removes the
// temporary TLS certificate directory when stopped.
type tunnelListenerWithCleanup struct {
	transport.Listener
	certDir string
}

func (l *tunnelListenerWithCleanup) Stop(ctx context.Context) error {
	err := l.Listener.Stop(ctx)
	removeCertDir(l.certDir)
	return err
}
