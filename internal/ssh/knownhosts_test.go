package ssh

import (
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestKnownHostsAppend(t *testing.T) {
	dir := t.TempDir()
	kh := filepath.Join(dir, "known_hosts")
	priv := filepath.Join(dir, "id_ed25519")
	if _, err := GenerateEd25519Keypair(priv); err != nil {
		t.Fatalf("keygen: %v", err)
	}
	signer, err := LoadPrivateKeySigner(priv)
	if err != nil {
		t.Fatalf("load signer: %v", err)
	}
	pub, err := os.ReadFile(priv + ".pub")
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := AppendKnownHost(kh, "engine.example.com", string(pub)); err != nil {
			t.Fatalf("append known host: %v", err)
		}
	}
	b, err := os.ReadFile(kh)
	if err != nil {
		t.Fatalf("read known_hosts: %v", err)
	}
	if n := strings.Count(string(b), "\n"); n != 1 {
		t.Fatalf("expected one known_hosts line, got %d", n)
	}

	cb, err := LoadKnownHostsCallback(kh)
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	addr := &net.TCPAddr{IP: net.ParseIP("192.0.2.10"), Port: 22}
	if err := cb("engine.example.com:22", addr, signer.PublicKey()); err != nil {
		t.Errorf("known host rejected: %v", err)
	}
	if err := cb("other.example.com:22", addr, signer.PublicKey()); err == nil {
		t.Errorf("unknown host accepted")
	}
}
