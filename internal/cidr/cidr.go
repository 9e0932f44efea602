// Package cidr implements the CIDR-mask matching used by the channel
// access engine's self-UNBAN path (spec §4.2 UNBAN: "or, if available,
// CIDR-match their IP mask") and by kline/xline host matching.
package cidr

import (
	"net"
	"strings"
)

// Match reports whether ip falls inside the network described by cidr
// (e.g. "10.0.0.0/8" or a bare IP meaning an exact match). A malformed
// cidr or ip never matches.
func Match(ip, cidrStr string) bool {
	if !strings.Contains(cidrStr, "/") {
		return strings.EqualFold(ip, cidrStr)
	}
	_, network, err := net.ParseCIDR(cidrStr)
	if err != nil {
		return false
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	return network.Contains(parsed)
}

// WildcardMatch implements classic IRC glob matching (`*` and `?`)
// case-insensitively, as used for nick!user@host mask comparisons
// against bans, klines, and resvs throughout the access and kline
// engines.
func WildcardMatch(pattern, s string) bool {
	return wildcardMatch([]byte(foldLower(pattern)), []byte(foldLower(s)))
}

func foldLower(s string) string {
	b := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		b[i] = c
	}
	return string(b)
}

// wildcardMatch is a standard greedy/backtracking glob matcher over
// '*' and '?' metacharacters, iterative to avoid recursion blowups on
// long hostile masks.
func wildcardMatch(pattern, s []byte) bool {
	var pi, si int
	var starIdx = -1
	var matchIdx int

	for si < len(s) {
		if pi < len(pattern) && (pattern[pi] == '?' || pattern[pi] == s[si]) {
			pi++
			si++
		} else if pi < len(pattern) && pattern[pi] == '*' {
			starIdx = pi
			matchIdx = si
			pi++
		} else if starIdx != -1 {
			pi = starIdx + 1
			matchIdx++
			si = matchIdx
		} else {
			return false
		}
	}
	for pi < len(pattern) && pattern[pi] == '*' {
		pi++
	}
	return pi == len(pattern)
}
