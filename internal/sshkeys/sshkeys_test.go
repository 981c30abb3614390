package sshkeys

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danmuck/xec/internal/engine"
	"github.com/danmuck/xec/internal/testutil/testlog"
	xssh "golang.org/x/crypto/ssh"
)

func generateKeyPair(t *testing.T) (private []byte, authorized string) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	block, err := xssh.MarshalPrivateKey(priv, "")
	if err != nil {
		t.Fatalf("marshal private key: %v", err)
	}
	sshPub, err := xssh.NewPublicKey(pub)
	if err != nil {
		t.Fatalf("new public key: %v", err)
	}
	return pem.EncodeToMemory(block), string(xssh.MarshalAuthorizedKey(sshPub))
}

func generateEncryptedKey(t *testing.T, passphrase string) []byte {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	block, err := xssh.MarshalPrivateKeyWithPassphrase(priv, "", []byte(passphrase))
	if err != nil {
		t.Fatalf("marshal encrypted key: %v", err)
	}
	return pem.EncodeToMemory(block)
}

func TestValidatePrivateKey(t *testing.T) {
	testlog.Start(t)
	key, _ := generateKeyPair(t)
	report := ValidatePrivateKey(key)
	if !report.IsValid || report.Encrypted {
		t.Fatalf("report=%+v", report)
	}
	if report.KeyType != "ssh-ed25519" {
		t.Fatalf("key type=%q", report.KeyType)
	}
}

func TestValidatePrivateKeyGarbage(t *testing.T) {
	testlog.Start(t)
	if report := ValidatePrivateKey([]byte("not a key")); report.IsValid {
		t.Fatalf("garbage accepted: %+v", report)
	}
	if report := ValidatePrivateKey(nil); report.IsValid || len(report.Issues) == 0 {
		t.Fatalf("empty key accepted: %+v", report)
	}
}

func TestValidatePrivateKeyEncrypted(t *testing.T) {
	testlog.Start(t)
	key := generateEncryptedKey(t, "hunter2")

	report := ValidatePrivateKey(key)
	if !report.IsValid || !report.Encrypted {
		t.Fatalf("encrypted key report=%+v", report)
	}

	with := ValidatePrivateKeyWithPassphrase(key, "hunter2")
	if !with.IsValid {
		t.Fatalf("correct passphrase rejected: %+v", with)
	}
	wrong := ValidatePrivateKeyWithPassphrase(key, "wrong")
	if wrong.IsValid {
		t.Fatalf("wrong passphrase accepted")
	}
}

func TestValidatePublicKey(t *testing.T) {
	testlog.Start(t)
	_, authorized := generateKeyPair(t)
	report := ValidatePublicKey(authorized)
	if !report.IsValid || report.KeyType != "ssh-ed25519" {
		t.Fatalf("report=%+v", report)
	}
	if report := ValidatePublicKey("   "); report.IsValid {
		t.Fatalf("blank public key accepted")
	}
	if report := ValidatePublicKey("ssh-rsa garbage"); report.IsValid {
		t.Fatalf("garbage public key accepted")
	}
}

func TestCheckKeyFilePermissions(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	key, _ := generateKeyPair(t)

	secure := filepath.Join(dir, "id_ed25519")
	if err := os.WriteFile(secure, key, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if report := CheckKeyFilePermissions(secure); !report.IsSecure {
		t.Fatalf("0600 flagged insecure: %+v", report)
	}

	loose := filepath.Join(dir, "id_loose")
	if err := os.WriteFile(loose, key, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	report := CheckKeyFilePermissions(loose)
	if report.IsSecure {
		t.Fatalf("0644 passed the permission check")
	}
	if len(report.Issues) == 0 || !strings.Contains(report.Issues[0], "0644") {
		t.Fatalf("issues=%v", report.Issues)
	}

	if report := CheckKeyFilePermissions(filepath.Join(dir, "missing")); report.IsSecure {
		t.Fatalf("missing file reported secure")
	}
}

func TestValidateSSHOptions(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	key, _ := generateKeyPair(t)
	keyPath := filepath.Join(dir, "id_ed25519")
	if err := os.WriteFile(keyPath, key, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	ok := ValidateSSHOptions(engine.SSHTarget{
		Host:           "h",
		Username:       "u",
		PrivateKeyPath: keyPath,
	})
	if !ok.IsValid {
		t.Fatalf("valid target rejected: %v", ok.Issues)
	}

	report := ValidateSSHOptions(engine.SSHTarget{Port: 70000})
	if report.IsValid {
		t.Fatalf("invalid target accepted")
	}
	for _, want := range []string{"missing host", "missing username", "out of range", "no auth method"} {
		found := false
		for _, issue := range report.Issues {
			if strings.Contains(issue, want) {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("issue %q missing from %v", want, report.Issues)
		}
	}
}

func TestValidateSSHOptionsEncryptedKeyNeedsPassphrase(t *testing.T) {
	testlog.Start(t)
	key := generateEncryptedKey(t, "hunter2")

	report := ValidateSSHOptions(engine.SSHTarget{
		Host:       "h",
		Username:   "u",
		PrivateKey: key,
	})
	if report.IsValid {
		t.Fatalf("encrypted key without passphrase accepted")
	}

	report = ValidateSSHOptions(engine.SSHTarget{
		Host:       "h",
		Username:   "u",
		PrivateKey: key,
		Passphrase: "hunter2",
	})
	if !report.IsValid {
		t.Fatalf("encrypted key with passphrase rejected: %v", report.Issues)
	}
}
