package geoip

import (
	"errors"
	"testing"
)

func TestNewResolverEmptyPath(t *testing.T) {
	r, err := NewResolver("  ")
	if err != nil || r != nil {
		t.Fatalf("NewResolver(\"\") = %v, %v; want nil, nil", r, err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close on nil resolver: %v", err)
	}
}

func TestNewResolverMissingFile(t *testing.T) {
	if _, err := NewResolver(t.TempDir() + "/missing.mmdb"); err == nil {
		t.Fatal("expected error for missing database")
	}
}

func TestCountryCodeWithoutDatabase(t *testing.T) {
	var r *Resolver
	tests := []struct {
		ip      string
		wantErr error
		invalid bool
	}{
		{ip: "127.0.0.1"},
		{ip: "10.1.2.3:5123"},
		{ip: "[::1]:80"},
		{ip: "192.168.0.9"},
		{ip: "203.0.113.7", wantErr: ErrUnavailable},
		{ip: "not-an-ip", invalid: true},
	}
	for _, tt := range tests {
		got, err := r.CountryCode(tt.ip)
		switch {
		case tt.invalid:
			if err == nil {
				t.Fatalf("CountryCode(%q) expected error", tt.ip)
			}
		case tt.wantErr != nil:
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("CountryCode(%q) err = %v, want %v", tt.ip, err, tt.wantErr)
			}
		default:
			if err != nil || got != "" {
				t.Fatalf("CountryCode(%q) = %q, %v; want empty", tt.ip, got, err)
			}
		}
	}
}
