package relay

import (
	"net/http"
	"net/url"
	"strings"
)

const (
	AdapterIDParam = "adxAdapterID"
	asyncParam     = "async"
)

// forwardQuery copies the inbound query, strips the adapter ID and forces
// async=true when the upstream should import asynchronously. The adapter ID
// is returned exactly as the caller sent it.
func forwardQuery(inbound url.Values, upstreamAsync bool) (url.Values, string) {
	query := make(url.Values, len(inbound)+1)
	for key, values := range inbound {
		query[key] = append([]string(nil), values...)
	}

	adapterID := query.Get(AdapterIDParam)
	query.Del(AdapterIDParam)

	if upstreamAsync {
		query.Set(asyncParam, "true")
	}
	return query, adapterID
}

// forwardHeaders copies inbound headers minus Host, hop-by-hop headers and
// the ones the outbound client manages itself.
func forwardHeaders(inbound http.Header) http.Header {
	headers := make(http.Header, len(inbound))
	for key, values := range inbound {
		if len(values) == 0 || skipHeader(key) {
			continue
		}
		for _, v := range values {
			headers.Add(key, v)
		}
	}
	return headers
}

func skipHeader(name string) bool {
	switch strings.ToLower(name) {
	case "host", "content-length", "accept-encoding",
		"connection", "keep-alive", "proxy-authenticate", "proxy-authorization",
		"te", "trailer", "transfer-encoding", "upgrade", "proxy-connection":
		return true
	default:
		return false
	}
}
