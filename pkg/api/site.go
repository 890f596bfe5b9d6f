package api

import (
	"fmt"
	"net/url"
	"strings"
)

// hostedTeamsHost is the shared API host for hosted (Basic/Business)
// Teams sites. Enterprise sites live on their own domains.
const hostedTeamsHost = "api.stackoverflowteams.com"

// Site resolves endpoint URLs for one Teams or Enterprise deployment. The
// two products route the same API differently: hosted Teams scopes the
// primary API under a team slug and needs the slug as a query parameter
// on legacy calls, Enterprise mounts both APIs under /api on its own
// host.
type Site struct {
	v3Base     string
	legacyBase string
	team       string
}

// NewSite derives the endpoint bases from a base URL. For the hosted
// Teams host a team slug is required; for Enterprise it must be empty.
func NewSite(baseURL, teamSlug string) (Site, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return Site{}, fmt.Errorf("parse base url %q: %w", baseURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return Site{}, fmt.Errorf("base url %q must include scheme and host", baseURL)
	}

	root := u.Scheme + "://" + u.Host

	if strings.EqualFold(u.Host, hostedTeamsHost) {
		if teamSlug == "" {
			return Site{}, fmt.Errorf("team slug is required for %s", hostedTeamsHost)
		}
		return Site{
			v3Base:     root + "/v3/teams/" + teamSlug,
			legacyBase: root + "/2.3",
			team:       teamSlug,
		}, nil
	}

	return Site{
		v3Base:     root + "/api/v3",
		legacyBase: root + "/api/2.3",
	}, nil
}

// V3 returns the full primary API URL for path.
func (s Site) V3(path string) string {
	return s.v3Base + path
}

// Legacy returns the full legacy API URL for path.
func (s Site) Legacy(path string) string {
	return s.legacyBase + path
}

// Team returns the team slug, empty for Enterprise.
func (s Site) Team() string {
	return s.team
}
