// rewrite.go — HLS manifest rewriting.
//
// Every reference a manifest carries — segment lines, nested sub-manifest
// lines, and quoted URI attributes on tag lines (#EXT-X-KEY, #EXT-X-MAP) —
// is resolved to an absolute URL and wrapped back through the relay
// endpoint. The rewrite is transitive: whatever the player requests next is
// itself forced through the relay and the URL guard, so manifest-internal
// links cannot bypass the destination policy.
package relay

import (
	"net/url"
	"regexp"
	"strings"
)

// ProxyPath is the relay endpoint manifests are rewritten against.
const ProxyPath = "/api/proxy"

// uriAttrRE matches quoted URI attributes on tag lines.
var uriAttrRE = regexp.MustCompile(`URI="([^"]+)"`)

// RewriteManifest rewrites the full decoded body of a manifest fetched
// from srcURL. Lines that carry no reference pass through unchanged; CRLF
// input is normalized to LF throughout.
func RewriteManifest(body []byte, srcURL string) []byte {
	origin, baseDir := splitSource(srcURL)

	lines := strings.Split(strings.ReplaceAll(string(body), "\r\n", "\n"), "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)

		if strings.Contains(trimmed, `URI="`) {
			lines[i] = uriAttrRE.ReplaceAllStringFunc(trimmed, func(attr string) string {
				uri := uriAttrRE.FindStringSubmatch(attr)[1]
				return `URI="` + wrap(resolveURI(uri, origin, baseDir)) + `"`
			})
			continue
		}

		if trimmed != "" && !strings.HasPrefix(trimmed, "#") {
			lines[i] = wrap(resolveURI(trimmed, origin, baseDir))
		}
	}
	return []byte(strings.Join(lines, "\n"))
}

// wrap turns an absolute target into a relay-endpoint URL.
func wrap(absolute string) string {
	return ProxyPath + "?url=" + url.QueryEscape(absolute)
}

// resolveURI applies the reference resolution policy: absolute URLs pass
// through, root-relative paths resolve against the manifest's origin, and
// anything else resolves against the manifest's containing directory.
func resolveURI(uri, origin, baseDir string) string {
	if strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://") {
		return uri
	}
	if strings.HasPrefix(uri, "/") {
		return origin + uri
	}
	return baseDir + uri
}

// splitSource derives the origin (scheme://host[:port]) and containing
// directory (everything through the last slash) of the manifest URL.
func splitSource(srcURL string) (origin, baseDir string) {
	if i := strings.LastIndex(srcURL, "/"); i >= 0 {
		baseDir = srcURL[:i+1]
	} else {
		baseDir = srcURL + "/"
	}
	if u, err := url.Parse(srcURL); err == nil && u.Scheme != "" {
		origin = u.Scheme + "://" + u.Host
	}
	return origin, baseDir
}
