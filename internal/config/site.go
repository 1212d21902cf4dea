package config

import (
	"maps"
	"strings"

	"github.com/nao1215/jscryptoscan/internal/transport"
)

// SiteConfig holds request customisation for one host, typically an
// authenticated session needed to reach the page that loads the scripts.
type SiteConfig struct {
	// Cookie is an HTTP cookie to send to this host.
	// Format: "name=value" or "name1=value1; name2=value2"
	Cookie string `yaml:"cookie,omitempty"`

	// Headers are custom HTTP headers to include in requests to this host.
	Headers map[string]string `yaml:"headers,omitempty"`
}

// GetSiteConfig returns the configuration for a specific host.
// It merges the site-specific configuration over the defaults.
func (cf *File) GetSiteConfig(host string) SiteConfig {
	result := SiteConfig{
		Cookie:  cf.Defaults.Cookie,
		Headers: maps.Clone(cf.Defaults.Headers),
	}

	siteConfig, ok := cf.Sites[strings.ToLower(host)]
	if !ok {
		return result
	}
	if siteConfig.Cookie != "" {
		result.Cookie = siteConfig.Cookie
	}
	if len(siteConfig.Headers) > 0 {
		if result.Headers == nil {
			result.Headers = make(map[string]string, len(siteConfig.Headers))
		}
		maps.Copy(result.Headers, siteConfig.Headers)
	}
	return result
}

// TransportSites converts the file's site section into the per-host map the
// transport layer injects. Each listed host gets its merged configuration;
// non-empty defaults are registered under transport.AnySite.
func (cf *File) TransportSites() map[string]transport.Site {
	if cf == nil {
		return nil
	}
	sites := make(map[string]transport.Site, len(cf.Sites)+1)
	for host := range cf.Sites {
		sc := cf.GetSiteConfig(host)
		sites[strings.ToLower(host)] = transport.Site{Cookie: sc.Cookie, Headers: sc.Headers}
	}
	if cf.Defaults.Cookie != "" || len(cf.Defaults.Headers) > 0 {
		sites[transport.AnySite] = transport.Site{
			Cookie:  cf.Defaults.Cookie,
			Headers: maps.Clone(cf.Defaults.Headers),
		}
	}
	return sites
}
