package keys

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/cespare/xxhash/v2"
)

const prefix = "brewery:dataset"

// DatasetKey names the single cached dataset for one upstream source and page size.
func DatasetKey(baseURL string, perPage int) string {
	norm := normalizeURL(baseURL)
	return fmt.Sprintf("%s:pp=%d:src=%016x", prefix, perPage, xxhash.Sum64String(norm))
}

// IsDatasetKey reports whether k has the dataset key shape.
func IsDatasetKey(k string) bool {
	return strings.HasPrefix(k, prefix+":pp=")
}

// scheme and host are case-insensitive; trailing slashes do not matter
func normalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.TrimRight(raw, "/")
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	u.Fragment = ""
	return u.String()
}
