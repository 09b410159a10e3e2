// Package auth provides bearer credential extraction, token verification,
// and application user provisioning for the connection gateway.
package auth

import (
	"net/http"
	"strings"
)

// Token extraction channels, in precedence order. First match wins.
const (
	queryParamAuthorization = "authorization"
	queryParamToken         = "token" // legacy fallback
	subprotocolBearer       = "bearer"
)

// ExtractToken pulls a bearer token out of an upgrade request using an
// ordered set of fallbacks:
//
//  1. Authorization: Bearer <token> header
//  2. WebSocket subprotocol list of the form ["bearer", "<token>"]
//  3. URL query parameter "authorization" formatted as "Bearer <token>"
//  4. URL query parameter "token" (legacy)
//
// Query-carried tokens are stripped from the request URL before any channel
// is resolved so they never reach access logs, even when a higher-priority
// channel wins.
// Returns the empty string when no channel carries a token.
func ExtractToken(r *http.Request) string {
	query := r.URL.Query()
	rawAuth := query.Get(queryParamAuthorization)
	rawLegacy := query.Get(queryParamToken)
	if rawAuth != "" || rawLegacy != "" {
		stripQueryParams(r, queryParamAuthorization, queryParamToken)
	}

	// 1. Authorization header
	authHeader := r.Header.Get("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return authHeader[7:]
	}

	// 2. Subprotocol list: ["bearer", "<token>"]
	if token := subprotocolToken(r); token != "" {
		return token
	}

	// 3. "authorization" query parameter, "Bearer <token>" form
	if rawAuth != "" {
		if len(rawAuth) > 7 && strings.EqualFold(rawAuth[:7], "Bearer ") {
			return rawAuth[7:]
		}
		// Malformed value: the channel was used but carries no valid token
		return ""
	}

	// 4. Legacy "token" query parameter
	if rawLegacy != "" {
		return rawLegacy
	}

	return ""
}

// subprotocolToken extracts a token from the Sec-WebSocket-Protocol header.
// The client convention is a two-element subprotocol list where the first
// element is literally "bearer" (case-insensitive) and the second is the token.
func subprotocolToken(r *http.Request) string {
	protocols := parseSubprotocols(r)
	if len(protocols) < 2 {
		return ""
	}
	if !strings.EqualFold(protocols[0], subprotocolBearer) {
		return ""
	}
	return protocols[1]
}

// HasBearerSubprotocol reports whether the client requested the bearer
// subprotocol convention. The server must echo back "bearer" for the
// handshake to complete per the subprotocol negotiation rule.
func HasBearerSubprotocol(r *http.Request) bool {
	protocols := parseSubprotocols(r)
	return len(protocols) > 0 && strings.EqualFold(protocols[0], subprotocolBearer)
}

// parseSubprotocols returns the requested subprotocols in order.
// The header may be sent as a single comma-separated value or repeated.
func parseSubprotocols(r *http.Request) []string {
	var protocols []string
	for _, header := range r.Header.Values("Sec-Websocket-Protocol") {
		for _, part := range strings.Split(header, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				protocols = append(protocols, part)
			}
		}
	}
	return protocols
}

// stripQueryParams removes query parameters from the request URL in place.
// Credentials carried in the query string must not survive past extraction.
func stripQueryParams(r *http.Request, names ...string) {
	query := r.URL.Query()
	for _, name := range names {
		query.Del(name)
	}
	r.URL.RawQuery = query.Encode()
}
