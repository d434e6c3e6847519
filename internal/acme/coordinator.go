// Package acme provisions and renews TLS certificates via ACME
// HTTP-01: validate the domain, request a certificate within a
// 5-minute total acquisition timeout, and track the resulting 90-day
// bundle for renewal. Order and authorization polling is done by the
// acmez client on its own schedule.
package acme

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"strings"
	"time"

	"github.com/mholt/acmez/v3"
	"github.com/mholt/acmez/v3/acme"
	"go.uber.org/zap"
)

// TotalTimeout bounds one full certificate acquisition attempt.
const TotalTimeout = 5 * time.Minute

// PollInterval is a 2-second status poll interval. It is not passed to
// the acmez client, so it does not set how often order status is
// re-checked.
const PollInterval = 2 * time.Second

// MaxPollAttempts is a poll-attempt cap of 10. The coordinator does not
// apply it; an order that never becomes ready is bounded only by the
// acmez client and TotalTimeout.
const MaxPollAttempts = 10

// CertLifetime is how long a freshly issued certificate is considered
// valid, matching the original prototype's fixed 90-day assumption.
const CertLifetime = 90 * 24 * time.Hour

// Coordinator orchestrates certificate issuance and renewal for a set
// of domains against one ACME directory.
type Coordinator struct {
	CAURL string
	Email string

	store  *Store
	log    *zap.Logger
	solver *http01Solver
}

// NewCoordinator builds a Coordinator backed by store for persistence
// and the given challenge store for HTTP-01 responses.
func NewCoordinator(caURL, email string, store *Store, challenges *ChallengeStore, log *zap.Logger) *Coordinator {
	return &Coordinator{
		CAURL:  caURL,
		Email:  email,
		store:  store,
		log:    log,
		solver: &http01Solver{store: challenges},
	}
}

// ValidateDomain checks domain name format: non-empty, <=253 chars,
// >=2 labels, each label 1-63 chars of alphanumerics/hyphens starting
// alphanumeric and not ending in a hyphen, and a TLD that is not
// all-digits.
func ValidateDomain(domain string) error {
	if domain == "" {
		return fmt.Errorf("acme: domain name cannot be empty")
	}
	if len(domain) > 253 {
		return fmt.Errorf("acme: domain name too long: %s", domain)
	}

	labels := strings.Split(domain, ".")
	if len(labels) < 2 {
		return fmt.Errorf("acme: domain must have at least two labels: %s", domain)
	}

	for _, label := range labels {
		if len(label) == 0 || len(label) > 63 {
			return fmt.Errorf("acme: invalid label length in domain: %s", domain)
		}
		if !isAlphanumeric(label[0]) {
			return fmt.Errorf("acme: domain label must start with alphanumeric: %s", domain)
		}
		for i := 0; i < len(label); i++ {
			c := label[i]
			if !isAlphanumeric(c) && c != '-' {
				return fmt.Errorf("acme: invalid characters in domain: %s", domain)
			}
		}
		if label[len(label)-1] == '-' {
			return fmt.Errorf("acme: domain label cannot end with hyphen: %s", domain)
		}
	}

	tld := labels[len(labels)-1]
	allDigits := true
	for i := 0; i < len(tld); i++ {
		if tld[i] < '0' || tld[i] > '9' {
			allDigits = false
			break
		}
	}
	if allDigits {
		return fmt.Errorf("acme: tld cannot be all numeric: %s", domain)
	}

	return nil
}

func isAlphanumeric(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// ObtainCertificate validates domain and then drives the full ACME
// HTTP-01 flow, bounded by TotalTimeout.
func (c *Coordinator) ObtainCertificate(ctx context.Context, domain string) (CertBundle, error) {
	if err := ValidateDomain(domain); err != nil {
		return CertBundle{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, TotalTimeout)
	defer cancel()

	type result struct {
		bundle CertBundle
		err    error
	}
	ch := make(chan result, 1)
	go func() {
		b, err := c.obtainCertificateInner(ctx, domain)
		ch <- result{b, err}
	}()

	select {
	case r := <-ch:
		return r.bundle, r.err
	case <-ctx.Done():
		return CertBundle{}, fmt.Errorf("acme: certificate acquisition timed out after %s", TotalTimeout)
	}
}

func (c *Coordinator) obtainCertificateInner(ctx context.Context, domain string) (CertBundle, error) {
	if c.log != nil {
		c.log.Info("obtaining certificate via acme", zap.String("domain", domain))
	}

	accountKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return CertBundle{}, fmt.Errorf("acme: generating account key: %w", err)
	}

	client := acmez.Client{
		Client: &acme.Client{
			Directory: c.CAURL,
		},
		ChallengeSolvers: map[string]acmez.Solver{
			acme.ChallengeTypeHTTP01: c.solver,
		},
	}

	account := acme.Account{
		Contact:              []string{"mailto:" + c.Email},
		TermsOfServiceAgreed: true,
		PrivateKey:           accountKey,
	}
	account, err = client.Client.NewAccount(ctx, account)
	if err != nil {
		return CertBundle{}, fmt.Errorf("acme: creating account: %w", err)
	}

	certKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return CertBundle{}, fmt.Errorf("acme: generating certificate key: %w", err)
	}

	certs, err := client.ObtainCertificateForSANs(ctx, account, certKey, []string{domain})
	if err != nil {
		return CertBundle{}, fmt.Errorf("acme: obtaining certificate: %w", err)
	}
	if len(certs) == 0 {
		return CertBundle{}, fmt.Errorf("acme: no certificate returned for %s", domain)
	}

	keyPEM, err := encodeECKeyPEM(certKey)
	if err != nil {
		return CertBundle{}, err
	}

	now := time.Now()
	bundle := CertBundle{
		Domain:         domain,
		CertificatePEM: string(certs[0].ChainPEM),
		PrivateKeyPEM:  keyPEM,
		ExpiresAt:      now.Add(CertLifetime),
		CreatedAt:      now,
	}

	if err := c.store.StoreCert(bundle); err != nil {
		return CertBundle{}, err
	}
	if err := c.store.WritePEMFiles(bundle); err != nil {
		return CertBundle{}, err
	}

	if c.log != nil {
		c.log.Info("certificate obtained", zap.String("domain", domain))
	}
	return bundle, nil
}

func encodeECKeyPEM(key *ecdsa.PrivateKey) (string, error) {
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return "", fmt.Errorf("acme: marshaling private key: %w", err)
	}
	block := &pem.Block{Type: "EC PRIVATE KEY", Bytes: der}
	return string(pem.EncodeToMemory(block)), nil
}

// LoadStoredCert returns the persisted certificate bundle for domain,
// for use by a tls.Config's GetCertificate callback.
func (c *Coordinator) LoadStoredCert(domain string) (CertBundle, bool, error) {
	return c.store.LoadCert(domain)
}

// CheckRenewals obtains a fresh certificate for every domain whose
// stored bundle expires within daysBefore days.
func (c *Coordinator) CheckRenewals(ctx context.Context, domains []string, daysBefore int) error {
	for _, domain := range domains {
		bundle, ok, err := c.store.LoadCert(domain)
		if err != nil {
			return err
		}
		if !ok || !bundle.ExpiresWithinDays(daysBefore) {
			continue
		}
		if c.log != nil {
			c.log.Info("certificate expiring soon, renewing", zap.String("domain", domain))
		}
		if _, err := c.ObtainCertificate(ctx, domain); err != nil {
			if c.log != nil {
				c.log.Warn("failed to renew certificate", zap.String("domain", domain), zap.Error(err))
			}
		}
	}
	return nil
}
