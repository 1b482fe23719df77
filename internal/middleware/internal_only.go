package middleware

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"
)

// LocalOnly пропускает запрос с loopback/приватного адреса или с заголовком
// X-Inspect-Token == token. Снимок кеша содержит переписку, наружу его не отдаём.
func LocalOnly(token string) func(http.Handler) http.Handler {
	token = strings.TrimSpace(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get("X-Inspect-Token")), []byte(token)) == 1 {
				next.ServeHTTP(w, r)
				return
			}
			if isPrivateIP(clientIP(r)) {
				next.ServeHTTP(w, r)
				return
			}
			http.Error(w, "forbidden", http.StatusForbidden)
		})
	}
}

// clientIP — адрес клиента без порта. Заголовки прокси не учитываются: сервер слушает напрямую.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func isPrivateIP(s string) bool {
	ip := net.ParseIP(s)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate()
}
