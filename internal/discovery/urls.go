package discovery

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

var binaryExtensions = map[string]struct{}{
	".7z": {}, ".avi": {}, ".bmp": {}, ".css": {}, ".csv": {}, ".dmg": {}, ".doc": {},
	".docx": {}, ".eot": {}, ".exe": {}, ".gif": {}, ".gz": {}, ".ico": {}, ".jpeg": {},
	".jpg": {}, ".js": {}, ".json": {}, ".mov": {}, ".mp3": {}, ".mp4": {}, ".ogg": {},
	".pdf": {}, ".png": {}, ".ppt": {}, ".pptx": {}, ".rar": {}, ".rss": {}, ".svg": {},
	".tar": {}, ".tgz": {}, ".tif": {}, ".tiff": {}, ".ttf": {}, ".wav": {}, ".webm": {},
	".webp": {}, ".woff": {}, ".woff2": {}, ".xls": {}, ".xlsx": {}, ".xml": {}, ".zip": {},
}

// normalizeURL lowercases scheme and host, strips default ports and the
// fragment, and sorts the query.
func normalizeURL(u *url.URL) string {
	out := *u
	out.Scheme = strings.ToLower(out.Scheme)
	out.Host = strings.ToLower(out.Host)
	if out.Scheme == "http" {
		out.Host = strings.TrimSuffix(out.Host, ":80")
	}
	if out.Scheme == "https" {
		out.Host = strings.TrimSuffix(out.Host, ":443")
	}
	out.Fragment = ""
	out.RawFragment = ""
	out.User = nil
	if out.Path == "" {
		out.Path = "/"
	}
	if out.RawQuery != "" {
		out.RawQuery = out.Query().Encode()
	}
	return out.String()
}

// NormalizeURL parses and normalises raw.
func NormalizeURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	return normalizeURL(u), nil
}

// sameSite reports whether host belongs to domain, treating www. as equivalent.
func sameSite(host, domain string) bool {
	h := strings.TrimPrefix(strings.ToLower(host), "www.")
	d := strings.TrimPrefix(strings.ToLower(domain), "www.")
	return h == d
}

func isBinary(p string) bool {
	_, ok := binaryExtensions[strings.ToLower(path.Ext(p))]
	return ok
}

// resolveLink turns an href into a crawlable absolute URL, or "" when the link
// leaves the site or points at a non-page asset.
func resolveLink(base *url.URL, href, domain string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return ""
	}
	if !sameSite(abs.Hostname(), domain) || isBinary(abs.Path) {
		return ""
	}
	return normalizeURL(abs)
}
