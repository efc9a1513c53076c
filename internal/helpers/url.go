package helpers

import (
	"errors"
	"net/url"
	"path"
	"strings"
)

// binaryExtensions lists file extensions that never contain crawlable text.
// Links to these are dropped before they reach the frontier.
var binaryExtensions = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".svg": {}, ".webp": {},
	".ico": {}, ".bmp": {}, ".tiff": {},
	".pdf": {}, ".doc": {}, ".docx": {}, ".xls": {}, ".xlsx": {}, ".ppt": {}, ".pptx": {},
	".zip": {}, ".tar": {}, ".gz": {}, ".rar": {}, ".7z": {},
	".mp3": {}, ".mp4": {}, ".avi": {}, ".mov": {}, ".wmv": {}, ".webm": {}, ".wav": {}, ".ogg": {},
	".exe": {}, ".dmg": {}, ".apk": {}, ".iso": {},
	".css": {}, ".js": {}, ".woff": {}, ".woff2": {}, ".ttf": {}, ".eot": {},
}

// CanonicalPageURL normalises a URL into the canonical form used as the
// (agent, source_url) key: lowercased scheme and host, no fragment, no
// trailing slash, and the www. prefix stripped so both host variants map to
// one entry. The query string is preserved.
func CanonicalPageURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("empty url")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if parsed.Scheme == "" {
		parsed.Scheme = "https"
	}
	parsed.Scheme = strings.ToLower(parsed.Scheme)
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", errors.New("unsupported scheme: " + parsed.Scheme)
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return "", errors.New("url missing host")
	}
	host = strings.TrimPrefix(host, "www.")
	if port := parsed.Port(); port != "" {
		if (parsed.Scheme == "http" && port != "80") || (parsed.Scheme == "https" && port != "443") {
			host = host + ":" + port
		}
	}
	parsed.Host = host

	parsed.Fragment = ""
	if parsed.Path != "" && parsed.Path != "/" {
		cleaned := path.Clean(parsed.Path)
		if cleaned == "." {
			cleaned = ""
		}
		parsed.Path = strings.TrimSuffix(cleaned, "/")
	}
	if parsed.Path == "/" {
		parsed.Path = ""
	}

	return parsed.String(), nil
}

// SameCanonicalHost reports whether two URLs point at the same site once
// www. prefixes and case are ignored.
func SameCanonicalHost(a, b *url.URL) bool {
	return canonicalHost(a) == canonicalHost(b)
}

func canonicalHost(u *url.URL) string {
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// FilterInternalLinks canonicalises every candidate link against the source
// page's origin and returns, in first-seen order, the deduplicated set of
// same-domain, non-binary, publicly routable URLs. Cross-domain links, hash
// fragments, binary/media files, and private addresses are dropped silently;
// rejection here is a filter decision, not an error.
func FilterInternalLinks(pageURL string, links []string) []string {
	base, err := url.Parse(strings.TrimSpace(pageURL))
	if err != nil || base.Hostname() == "" {
		return nil
	}

	seen := make(map[string]struct{}, len(links))
	out := make([]string, 0, len(links))
	for _, raw := range links {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		candidate, err := url.Parse(raw)
		if err != nil {
			continue
		}
		resolved := base.ResolveReference(candidate)
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			continue
		}
		if !SameCanonicalHost(base, resolved) {
			continue
		}
		if hasBinaryExtension(resolved.Path) {
			continue
		}
		canonical, err := CanonicalPageURL(resolved.String())
		if err != nil {
			continue
		}
		if !IsPublicURL(canonical) {
			continue
		}
		if _, dup := seen[canonical]; dup {
			continue
		}
		seen[canonical] = struct{}{}
		out = append(out, canonical)
	}
	return out
}

func hasBinaryExtension(p string) bool {
	ext := strings.ToLower(path.Ext(p))
	if ext == "" {
		return false
	}
	_, ok := binaryExtensions[ext]
	return ok
}
