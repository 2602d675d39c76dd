package middleware

import (
	"crypto/subtle"
	"net/http"
	"net/netip"
	"slices"
	"strings"
	"unicode"

	"github.com/gorilla/mux"

	"github.com/nzwater/compliance-core/pkg/configuration"
)

const opsTokenHeader = "X-Ops-Token"

// OpsGuard hides the given operational paths in production unless the caller is inside
// OPS_GUARD_CIDRS or presents OPS_GUARD_TOKEN. Denied callers get a plain 404.
func OpsGuard(conf *configuration.Configuration, paths ...string) mux.MiddlewareFunc {
	active := conf.GoAppEnvironment == configuration.Production && conf.OpsGuardEnabled
	networks := parseNetworks(conf.OpsGuardCIDRs)
	token := []byte(strings.TrimSpace(conf.OpsGuardToken))

	allowed := func(r *http.Request) bool {
		if addr, ok := clientAddr(r, conf.RealIPHeader); ok {
			if slices.ContainsFunc(networks, func(p netip.Prefix) bool { return p.Contains(addr) }) {
				return true
			}
		}
		return len(token) > 0 && subtle.ConstantTimeCompare([]byte(opsToken(r)), token) == 1
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if active && slices.Contains(paths, r.URL.Path) && !allowed(r) {
				http.NotFound(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// parseNetworks accepts prefixes separated by commas, semicolons or whitespace and skips invalid ones.
func parseNetworks(raw string) []netip.Prefix {
	fields := strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ';' || unicode.IsSpace(r) })
	out := make([]netip.Prefix, 0, len(fields))
	for _, f := range fields {
		if p, err := netip.ParsePrefix(f); err == nil {
			out = append(out, p.Masked())
		}
	}
	return out
}

func opsToken(r *http.Request) string {
	if t := strings.TrimSpace(r.Header.Get(opsTokenHeader)); t != "" {
		return t
	}
	scheme, value, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if ok && strings.EqualFold(scheme, "bearer") {
		return strings.TrimSpace(value)
	}
	return ""
}

// clientAddr prefers the first hop of the real-IP header and falls back to RemoteAddr.
func clientAddr(r *http.Request, header string) (netip.Addr, bool) {
	raw := r.RemoteAddr
	if header != "" {
		if v := r.Header.Get(header); strings.TrimSpace(v) != "" {
			raw, _, _ = strings.Cut(v, ",")
		}
	}
	raw = strings.TrimSpace(raw)
	if ap, err := netip.ParseAddrPort(raw); err == nil {
		return ap.Addr().Unmap(), true
	}
	addr, err := netip.ParseAddr(strings.Trim(raw, "[]"))
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}
