package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// CacheKey identifies a cached page by request content.
type CacheKey struct {
	// Vendor namespaces keys per loader (e.g. "redmine", "metrika")
	Vendor string

	// Method is the HTTP method
	Method string

	// Endpoint is the absolute request URL without query
	Endpoint string

	// QueryParams are the query parameters (e.g. {"date1": "2023-01-01"})
	QueryParams url.Values

	// Body is the request body, folded into a digest
	Body []byte
}

// keyPrefix namespaces page entries apart from quota and window state.
const keyPrefix = "bulkfetch:page:"

// prefix is the part of the key shared by every page of the vendor.
func (k CacheKey) prefix() string {
	if k.Vendor == "" {
		return keyPrefix
	}
	return keyPrefix + k.Vendor + ":"
}

// String generates a deterministic cache key string.
// Format: bulkfetch:page:vendor:METHOD:endpoint:query1=val1:query2=val2:body=digest
//
// Example:
//
//	bulkfetch:page:metrika:GET:https://api-metrika.yandex.net/stat/v1/data:date1=2023-01-01:ids=42
func (k CacheKey) String() string {
	var b strings.Builder
	b.WriteString(k.prefix())

	method := strings.ToUpper(k.Method)
	if method == "" {
		method = "GET"
	}
	b.WriteString(method)

	if endpoint := strings.TrimRight(k.Endpoint, "/"); endpoint != "" {
		b.WriteString(":" + endpoint)
	}

	names := make([]string, 0, len(k.QueryParams))
	for name := range k.QueryParams {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, ":%s=%s", name, strings.Join(k.QueryParams[name], ","))
	}

	if len(k.Body) > 0 {
		sum := sha256.Sum256(k.Body)
		b.WriteString(":body=" + hex.EncodeToString(sum[:8]))
	}

	return b.String()
}
