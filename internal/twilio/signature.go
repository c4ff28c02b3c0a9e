// Package twilio implements Twilio's webhook request signing scheme.
//
// A request is signed by concatenating the full webhook URL with every POST
// parameter (keys sorted, each key immediately followed by its value), then
// computing an HMAC-SHA1 over the result with the account auth token and
// base64-encoding the digest. The signature travels in the
// X-Twilio-Signature header.
package twilio

import (
	"crypto/hmac"
	"crypto/sha1" // #nosec G505 -- mandated by Twilio's signing scheme
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"net"
	"net/url"
	"sort"
	"strings"
)

// SignatureHeader is the header carrying the request signature.
const SignatureHeader = "X-Twilio-Signature"

// bodyHashParam is the query parameter Twilio adds to JSON webhook URLs.
const bodyHashParam = "bodySHA256"

// ExpectedSignature computes the signature Twilio would send for a request to
// fullURL carrying params.
func ExpectedSignature(secret, fullURL string, params map[string][]string) string {
	var b strings.Builder
	b.WriteString(fullURL)

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		values := append([]string(nil), params[k]...)
		sort.Strings(values)
		for _, v := range values {
			b.WriteString(k)
			b.WriteString(v)
		}
	}

	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Validate reports whether signature authenticates a request to fullURL with
// the given decoded parameters. Twilio may sign the URL with or without the
// default port, so both forms are accepted.
func Validate(secret, signature, fullURL string, params map[string][]string) bool {
	if secret == "" || signature == "" || fullURL == "" {
		return false
	}
	for _, candidate := range urlVariants(fullURL) {
		if equal(ExpectedSignature(secret, candidate, params), signature) {
			return true
		}
	}
	return false
}

// ValidateBody validates a JSON webhook. The URL must carry a bodySHA256
// parameter matching the hex SHA-256 of body, and the signature is computed
// over the URL alone.
func ValidateBody(secret, signature, fullURL string, body []byte) bool {
	u, err := url.Parse(fullURL)
	if err != nil {
		return false
	}
	want := u.Query().Get(bodyHashParam)
	if want == "" {
		return false
	}
	sum := sha256.Sum256(body)
	if !equal(hex.EncodeToString(sum[:]), strings.ToLower(want)) {
		return false
	}
	return Validate(secret, signature, fullURL, nil)
}

// HasBodyHash reports whether fullURL carries a bodySHA256 parameter, which
// marks a JSON webhook signed with ValidateBody semantics.
func HasBodyHash(fullURL string) bool {
	u, err := url.Parse(fullURL)
	if err != nil {
		return false
	}
	return u.Query().Get(bodyHashParam) != ""
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func urlVariants(fullURL string) []string {
	variants := []string{fullURL}
	u, err := url.Parse(fullURL)
	if err != nil || u.Host == "" {
		return variants
	}

	defaultPort := ""
	switch strings.ToLower(u.Scheme) {
	case "https":
		defaultPort = "443"
	case "http":
		defaultPort = "80"
	default:
		return variants
	}

	host, port, err := net.SplitHostPort(u.Host)
	if err != nil {
		// no port present
		withPort := *u
		withPort.Host = net.JoinHostPort(u.Host, defaultPort)
		return append(variants, withPort.String())
	}
	if port == defaultPort {
		withoutPort := *u
		withoutPort.Host = host
		if strings.Contains(host, ":") {
			withoutPort.Host = "[" + host + "]"
		}
		return append(variants, withoutPort.String())
	}
	return variants
}
