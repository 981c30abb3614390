// Package sshkeys pre-flights SSH credentials so the adapter can reject
// doomed configurations before dialing.
package sshkeys

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/danmuck/xec/internal/engine"
	xssh "golang.org/x/crypto/ssh"
)

// KeyReport is the outcome of validating one key.
type KeyReport struct {
	IsValid   bool
	KeyType   string
	Encrypted bool
	Issues    []string
}

// PermReport is the outcome of checking key file permissions.
type PermReport struct {
	IsSecure bool
	Issues   []string
}

// OptionsReport is the outcome of validating a full SSH target.
type OptionsReport struct {
	IsValid bool
	Issues  []string
}

// ValidatePrivateKey parses key material without a passphrase. An
// encrypted key reports valid with Encrypted set so callers know a
// passphrase is required.
func ValidatePrivateKey(key []byte) KeyReport {
	if len(key) == 0 {
		return KeyReport{Issues: []string{"private key is empty"}}
	}
	signer, err := xssh.ParsePrivateKey(key)
	if err != nil {
		var missing *xssh.PassphraseMissingError
		if errors.As(err, &missing) {
			report := KeyReport{IsValid: true, Encrypted: true}
			if missing.PublicKey != nil {
				report.KeyType = missing.PublicKey.Type()
			}
			report.Issues = append(report.Issues, "private key is passphrase-protected")
			return report
		}
		return KeyReport{Issues: []string{fmt.Sprintf("private key unparseable: %v", err)}}
	}
	return KeyReport{IsValid: true, KeyType: signer.PublicKey().Type()}
}

// ValidatePrivateKeyWithPassphrase parses an encrypted key with its
// passphrase.
func ValidatePrivateKeyWithPassphrase(key []byte, passphrase string) KeyReport {
	if len(key) == 0 {
		return KeyReport{Issues: []string{"private key is empty"}}
	}
	signer, err := xssh.ParsePrivateKeyWithPassphrase(key, []byte(passphrase))
	if err != nil {
		return KeyReport{Issues: []string{fmt.Sprintf("private key unparseable with passphrase: %v", err)}}
	}
	return KeyReport{IsValid: true, KeyType: signer.PublicKey().Type()}
}

// ValidatePublicKey parses an authorized_keys-format public key.
func ValidatePublicKey(key string) KeyReport {
	if strings.TrimSpace(key) == "" {
		return KeyReport{Issues: []string{"public key is empty"}}
	}
	pub, _, _, _, err := xssh.ParseAuthorizedKey([]byte(key))
	if err != nil {
		return KeyReport{Issues: []string{fmt.Sprintf("public key unparseable: %v", err)}}
	}
	return KeyReport{IsValid: true, KeyType: pub.Type()}
}

// CheckKeyFilePermissions flags key files readable by group or others.
func CheckKeyFilePermissions(path string) PermReport {
	info, err := os.Stat(path)
	if err != nil {
		return PermReport{Issues: []string{fmt.Sprintf("key file stat failed: %v", err)}}
	}
	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		return PermReport{Issues: []string{
			fmt.Sprintf("key file %s has mode %04o, expected 0600 or stricter", path, mode),
		}}
	}
	return PermReport{IsSecure: true}
}

// ValidateSSHOptions checks a target's connection settings and credential
// material together.
func ValidateSSHOptions(t engine.SSHTarget) OptionsReport {
	var issues []string
	if strings.TrimSpace(t.Host) == "" {
		issues = append(issues, "missing host")
	}
	if t.Port < 0 || t.Port > 65535 {
		issues = append(issues, fmt.Sprintf("port %d out of range", t.Port))
	}
	if strings.TrimSpace(t.Username) == "" {
		issues = append(issues, "missing username")
	}

	hasKey := len(t.PrivateKey) > 0 || t.PrivateKeyPath != ""
	switch {
	case t.Password != "" && hasKey:
		issues = append(issues, "both password and private key supplied, pick one")
	case t.Password == "" && !hasKey:
		issues = append(issues, "no auth method supplied")
	}

	if len(t.PrivateKey) > 0 {
		issues = append(issues, keyIssues(t.PrivateKey, t.Passphrase)...)
	} else if t.PrivateKeyPath != "" {
		if perm := CheckKeyFilePermissions(t.PrivateKeyPath); !perm.IsSecure {
			issues = append(issues, perm.Issues...)
		}
		if data, err := os.ReadFile(t.PrivateKeyPath); err != nil {
			issues = append(issues, fmt.Sprintf("key file unreadable: %v", err))
		} else {
			issues = append(issues, keyIssues(data, t.Passphrase)...)
		}
	}
	return OptionsReport{IsValid: len(issues) == 0, Issues: issues}
}

func keyIssues(key []byte, passphrase string) []string {
	report := ValidatePrivateKey(key)
	if report.Encrypted {
		if passphrase == "" {
			return []string{"private key is passphrase-protected but no passphrase supplied"}
		}
		report = ValidatePrivateKeyWithPassphrase(key, passphrase)
	}
	if !report.IsValid {
		return report.Issues
	}
	return nil
}
