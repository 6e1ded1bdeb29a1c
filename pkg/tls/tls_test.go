package tls

import (
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureCertificateGeneratesOnce(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "certs", "proxyd.crt")
	keyFile := filepath.Join(dir, "certs", "proxyd.key")

	generated, err := EnsureCertificate(certFile, keyFile, []string{"127.0.0.1", "proxy.internal"})
	require.NoError(t, err)
	assert.True(t, generated)

	generated, err = EnsureCertificate(certFile, keyFile, nil)
	require.NoError(t, err)
	assert.False(t, generated)

	raw, err := os.ReadFile(certFile)
	require.NoError(t, err)
	block, _ := pem.Decode(raw)
	require.NotNil(t, block)
	cert, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)
	assert.Contains(t, cert.DNSNames, "proxy.internal")
	assert.Len(t, cert.IPAddresses, 1)

	info, err := os.Stat(keyFile)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestServerAndClientConfig(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "a.crt")
	keyFile := filepath.Join(dir, "a.key")
	require.NoError(t, GenerateSelfSigned(certFile, keyFile, "proxyd", []string{"localhost"}))

	srv, err := ServerConfig(certFile, keyFile, "")
	require.NoError(t, err)
	assert.Len(t, srv.Certificates, 1)
	assert.Nil(t, srv.ClientCAs)

	mtls, err := ServerConfig(certFile, keyFile, certFile)
	require.NoError(t, err)
	assert.NotNil(t, mtls.ClientCAs)

	cli, err := ClientConfig(certFile, false)
	require.NoError(t, err)
	assert.NotNil(t, cli.RootCAs)

	_, err = ClientConfig(keyFile, false)
	assert.Error(t, err)

	_, err = ServerConfig(filepath.Join(dir, "missing.crt"), keyFile, "")
	assert.Error(t, err)
}
