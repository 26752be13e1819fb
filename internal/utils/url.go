package utils

import (
	"net/url"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/net/idna"
)

var urlRegex = regexp.MustCompile(`https?://[^\s<>]+`)

// LinkHosts returns the distinct lower-cased ASCII hosts of the links in content.
func LinkHosts(content string) []string {
	seen := make(map[string]struct{})
	var hosts []string
	for _, raw := range urlRegex.FindAllString(content, -1) {
		host := NormalizeHost(raw)
		if host == "" {
			continue
		}
		if _, ok := seen[host]; ok {
			continue
		}
		seen[host] = struct{}{}
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)
	return hosts
}

// NormalizeHost extracts the host of raw and converts it to its IDNA ASCII form.
func NormalizeHost(raw string) string {
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	host := strings.ToLower(parsed.Hostname())
	if ascii, err := idna.ToASCII(host); err == nil {
		host = ascii
	}
	return host
}

// Preview truncates content to limit runes and neutralizes code fences so the
// text can be embedded inside a markdown block.
func Preview(content string, limit int) string {
	content = strings.ReplaceAll(content, "`", "ˋ")
	runes := []rune(content)
	if limit > 0 && len(runes) > limit {
		return string(runes[:limit]) + "…"
	}
	return content
}
