package network

import (
	"crypto/x509"
	"testing"
)

func TestClientTLSConfigPinsDevCert(t *testing.T) {
	_, der, err := devTLSCert()
	if err != nil {
		t.Fatalf("devTLSCert: %v", err)
	}
	conf, err := clientTLSConfig(false)
	if err != nil {
		t.Fatalf("clientTLSConfig: %v", err)
	}
	if conf.InsecureSkipVerify {
		t.Fatalf("expected verification enabled")
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := cert.Verify(x509.VerifyOptions{Roots: conf.RootCAs, DNSName: "localhost"}); err != nil {
		t.Fatalf("dev cert not trusted by pinned pool: %v", err)
	}
}

func TestDevTLSCertDeterministic(t *testing.T) {
	_, a, err := devTLSCert()
	if err != nil {
		t.Fatalf("devTLSCert: %v", err)
	}
	_, b, err := devTLSCert()
	if err != nil {
		t.Fatalf("devTLSCert: %v", err)
	}
	if string(a) != string(b) {
		t.Fatalf("expected deterministic dev cert")
	}
}

func TestListenRequiresDevTLS(t *testing.T) {
	if _, err := Listen("127.0.0.1:0", false); err == nil {
		t.Fatalf("expected error without devtls")
	}
}
