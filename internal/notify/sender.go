package notify

import (
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/spigell/cv-intake/internal/domain"
)

const DefaultFallbackFrom = "noreply@cv-intake.local"

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// ResolveSender picks the From address for candidate-facing mail: the company
// contact address, then noreply at the company domain, then noreply at the
// sanitized company name, then fallback.
func ResolveSender(company *domain.Company, fallback string) string {
	if fallback = strings.TrimSpace(fallback); fallback == "" {
		fallback = DefaultFallbackFrom
	}
	if company == nil {
		return fallback
	}

	if contact := strings.TrimSpace(company.ContactEmail); contact != "" {
		return contact
	}
	if host := normalizeDomain(company.Domain); host != "" {
		return "noreply@" + host
	}
	if name := nonAlnum.ReplaceAllString(strings.ToLower(company.Name), ""); name != "" {
		return "noreply@" + name + ".com"
	}
	return fallback
}

// HRRecipient returns the HR address, the hiring manager, or the company contact.
func HRRecipient(company *domain.Company) string {
	if company == nil {
		return ""
	}
	for _, addr := range []string{company.HREmail, company.HiringManagerEmail, company.ContactEmail} {
		if addr = strings.TrimSpace(addr); addr != "" {
			return addr
		}
	}
	return ""
}

// normalizeDomain reduces values like "https://www.Careers.Acme.co.uk/jobs"
// to the registrable domain "acme.co.uk".
func normalizeDomain(raw string) string {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	host := strings.TrimSuffix(strings.TrimPrefix(parsed.Hostname(), "www."), ".")
	if host == "" || !strings.Contains(host, ".") {
		return ""
	}

	if etld, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return etld
	}
	return host
}
