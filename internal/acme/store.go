package acme

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// CertBundle is a provisioned certificate, persisted alongside its
// private key, mirroring the original prototype's CertBundle.
type CertBundle struct {
	Domain          string    `json:"domain"`
	CertificatePEM  string    `json:"certificate_pem"`
	PrivateKeyPEM   string    `json:"private_key_pem"`
	ExpiresAt       time.Time `json:"expires_at"`
	CreatedAt       time.Time `json:"created_at"`
}

// ExpiresWithinDays reports whether the bundle expires within the
// given number of days from now.
func (b CertBundle) ExpiresWithinDays(days int) bool {
	return time.Until(b.ExpiresAt) <= time.Duration(days)*24*time.Hour
}

// Account is a persisted ACME account record.
type Account struct {
	Email          string    `json:"email"`
	AccountURL     string    `json:"account_url"`
	PrivateKeyPEM  string    `json:"private_key_pem"`
	CreatedAt      time.Time `json:"created_at"`
}

// Store persists certs and accounts as JSON + PEM files under a root
// directory, sanitizing domain/email into safe filenames.
type Store struct {
	root string
}

// NewStore builds a Store rooted at dir, creating it if necessary.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("acme: creating store root: %w", err)
	}
	return &Store{root: dir}, nil
}

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9.-]`)

func sanitizeDomain(domain string) string {
	return unsafeFilenameChars.ReplaceAllString(strings.ToLower(domain), "_")
}

func emailFileStem(email string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(email)))
	return hex.EncodeToString(sum[:])[:16]
}

func (s *Store) certPath(domain string) string {
	return filepath.Join(s.root, sanitizeDomain(domain)+".cert.json")
}

func (s *Store) accountPath(email string) string {
	return filepath.Join(s.root, "account-"+emailFileStem(email)+".json")
}

// StoreCert persists a certificate bundle as JSON.
func (s *Store) StoreCert(bundle CertBundle) error {
	data, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return fmt.Errorf("acme: marshaling cert bundle: %w", err)
	}
	return os.WriteFile(s.certPath(bundle.Domain), data, 0o600)
}

// LoadCert reads a previously stored bundle, if any.
func (s *Store) LoadCert(domain string) (CertBundle, bool, error) {
	data, err := os.ReadFile(s.certPath(domain))
	if os.IsNotExist(err) {
		return CertBundle{}, false, nil
	}
	if err != nil {
		return CertBundle{}, false, fmt.Errorf("acme: reading cert bundle: %w", err)
	}
	var bundle CertBundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return CertBundle{}, false, fmt.Errorf("acme: decoding cert bundle: %w", err)
	}
	return bundle, true, nil
}

// WritePEMFiles additionally writes the cert/key as separate .pem
// files for consumption by a TLS config loader.
func (s *Store) WritePEMFiles(bundle CertBundle) error {
	base := filepath.Join(s.root, sanitizeDomain(bundle.Domain))
	if err := os.WriteFile(base+".crt.pem", []byte(bundle.CertificatePEM), 0o644); err != nil {
		return fmt.Errorf("acme: writing cert pem: %w", err)
	}
	if err := os.WriteFile(base+".key.pem", []byte(bundle.PrivateKeyPEM), 0o600); err != nil {
		return fmt.Errorf("acme: writing key pem: %w", err)
	}
	return nil
}

// StoreAccount persists an ACME account record.
func (s *Store) StoreAccount(acct Account) error {
	data, err := json.MarshalIndent(acct, "", "  ")
	if err != nil {
		return fmt.Errorf("acme: marshaling account: %w", err)
	}
	return os.WriteFile(s.accountPath(acct.Email), data, 0o600)
}

// LoadAccount reads a previously stored account, if any.
func (s *Store) LoadAccount(email string) (Account, bool, error) {
	data, err := os.ReadFile(s.accountPath(email))
	if os.IsNotExist(err) {
		return Account{}, false, nil
	}
	if err != nil {
		return Account{}, false, fmt.Errorf("acme: reading account: %w", err)
	}
	var acct Account
	if err := json.Unmarshal(data, &acct); err != nil {
		return Account{}, false, fmt.Errorf("acme: decoding account: %w", err)
	}
	return acct, true, nil
}
