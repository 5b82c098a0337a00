package tlsconfig

import (
	"crypto/tls"
	"testing"
)

func TestApplyVersionProfile(t *testing.T) {
	cfg := &tls.Config{}
	ApplyVersionProfile(cfg, ProfileSecure)
	if cfg.MinVersion != VersionTLS12 || cfg.MaxVersion != VersionTLS13 {
		t.Fatalf("unexpected profile applied: %+v", cfg)
	}
}

func TestApplyCipherSuitesPicksTierByVersion(t *testing.T) {
	cfg := &tls.Config{}
	ApplyCipherSuites(cfg, VersionTLS13)
	if cfg.CipherSuites != nil {
		t.Fatal("expected nil cipher suites for TLS 1.3")
	}
	ApplyCipherSuites(cfg, VersionTLS12)
	if len(cfg.CipherSuites) == 0 {
		t.Fatal("expected secure cipher suites for TLS 1.2")
	}
}

func TestIsVersionDeprecated(t *testing.T) {
	if !IsVersionDeprecated(VersionTLS11) {
		t.Fatal("TLS 1.1 should be deprecated")
	}
	if IsVersionDeprecated(VersionTLS12) {
		t.Fatal("TLS 1.2 should not be deprecated")
	}
}

func TestConfigureSNIPriorityOrder(t *testing.T) {
	cfg := &tls.Config{ServerName: "explicit.example"}
	ConfigureSNI(cfg, "custom.example", false, "fallback.example")
	if cfg.ServerName != "explicit.example" {
		t.Fatalf("explicit ServerName should win, got %q", cfg.ServerName)
	}

	cfg = &tls.Config{}
	ConfigureSNI(cfg, "", true, "fallback.example")
	if cfg.ServerName != "" {
		t.Fatalf("disableSNI should leave ServerName empty, got %q", cfg.ServerName)
	}

	cfg = &tls.Config{}
	ConfigureSNI(cfg, "custom.example", false, "fallback.example")
	if cfg.ServerName != "custom.example" {
		t.Fatalf("expected custom SNI, got %q", cfg.ServerName)
	}

	cfg = &tls.Config{}
	ConfigureSNI(cfg, "", false, "fallback.example")
	if cfg.ServerName != "fallback.example" {
		t.Fatalf("expected fallback host, got %q", cfg.ServerName)
	}
}
