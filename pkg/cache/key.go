package cache

import (
	"net/url"
	"sort"
	"strings"
)

// keyNamespace prefixes every cache key.
const keyNamespace = "sheets"

// Key identifies a cached read of the remote API.
type Key struct {
	// Resource is the spreadsheet ID.
	Resource string

	// Range is the requested range, treated as an opaque string.
	Range string

	// Options are rendering options that change the response
	// (e.g. {"valueRenderOption": "FORMATTED_VALUE"}).
	Options map[string]string
}

// String generates a deterministic cache key string.
// Format: sheets:resource:range:opt1=val1:opt2=val2
//
// Every component is query-escaped, so ':' and '=' inside a resource, range or
// option can never produce the key of a different request.
//
// Example:
//
//	sheets:abc123:Sheet1%21A1%3AC10:valueRenderOption=FORMATTED_VALUE
func (k Key) String() string {
	var b strings.Builder
	b.WriteString(ResourcePrefix(k.Resource))
	b.WriteString(url.QueryEscape(k.Range))

	if len(k.Options) > 0 {
		names := make([]string, 0, len(k.Options))
		for name := range k.Options {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			b.WriteByte(':')
			b.WriteString(url.QueryEscape(name))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(k.Options[name]))
		}
	}

	return b.String()
}

// ResourcePrefix returns the prefix shared by every key of resource.
func ResourcePrefix(resource string) string {
	return keyNamespace + ":" + url.QueryEscape(resource) + ":"
}
