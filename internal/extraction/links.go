package extraction

import (
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/spigell/cv-intake/internal/domain"
)

var linkRe = regexp.MustCompile(`(?i)(?:https?://|www\.)[^\s<>"'()\[\]]+|(?:[a-z0-9-]+\.)*(?:linkedin\.com|github\.com)/[^\s<>"'()\[\]]+`)

// DetectLinks finds URLs in text and sorts them into profile categories.
// Each link is reported once, in order of first appearance.
func DetectLinks(text string) domain.ResumeLinks {
	var links domain.ResumeLinks
	seen := make(map[string]struct{})

	for _, raw := range linkRe.FindAllString(text, -1) {
		link := strings.TrimRight(raw, ".,;:!?")
		if !strings.HasPrefix(strings.ToLower(link), "http") {
			link = "https://" + link
		}

		parsed, err := url.Parse(link)
		if err != nil || parsed.Hostname() == "" {
			continue
		}

		key := strings.ToLower(link)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}

		switch registeredDomain(parsed.Hostname()) {
		case "linkedin.com":
			links.LinkedIn = append(links.LinkedIn, link)
		case "github.com":
			links.GitHub = append(links.GitHub, link)
		default:
			links.Other = append(links.Other, link)
		}
	}

	return links
}

func registeredDomain(host string) string {
	host = strings.ToLower(strings.TrimPrefix(strings.ToLower(host), "www."))
	if etld, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return etld
	}
	return host
}
