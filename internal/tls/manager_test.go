package tls

import (
	"crypto/tls"
	"crypto/x509"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestDevCertificateIsReused(t *testing.T) {
	dir := t.TempDir()
	gen := NewDevCertGenerator(dir, zaptest.NewLogger(t))

	first, err := gen.GenerateCert([]string{"admin.surf.local", "127.0.0.1"})
	require.NoError(t, err)
	second, err := gen.GenerateCert([]string{"admin.surf.local", "127.0.0.1"})
	require.NoError(t, err)
	assert.Equal(t, first.Certificate[0], second.Certificate[0])

	leaf, err := x509.ParseCertificate(first.Certificate[0])
	require.NoError(t, err)
	assert.Contains(t, leaf.DNSNames, "admin.surf.local")
	assert.Len(t, leaf.IPAddresses, 1)
}

func TestManagerFallsBackToSelfSigned(t *testing.T) {
	m := NewTLSManager(TLSConfig{Domain: "localhost", AutoCertDir: t.TempDir()}, zaptest.NewLogger(t))
	cert, err := m.GetCertificate(&tls.ClientHelloInfo{ServerName: "localhost"})
	require.NoError(t, err)
	require.NotNil(t, cert)

	again, err := m.GetCertificate(&tls.ClientHelloInfo{ServerName: "localhost"})
	require.NoError(t, err)
	assert.Same(t, cert, again)
	assert.Equal(t, uint16(tls.VersionTLS12), m.GetTLSConfig().MinVersion)
}

func TestProductionRefusesSelfSigned(t *testing.T) {
	m := NewTLSManager(TLSConfig{Domain: "admin.surf.example", AutoCertDir: t.TempDir(), Production: true}, zaptest.NewLogger(t))
	_, err := m.GetCertificate(&tls.ClientHelloInfo{ServerName: "admin.surf.example"})
	assert.Error(t, err)
}
