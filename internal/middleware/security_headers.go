package middleware

import "net/http"

// contentSecurityPolicy はページで読み込むリソースの許可リスト。
// Google One Tapのスクリプト・iframe・スタイルとストレージ上のアバター画像を許可する。
const contentSecurityPolicy = "default-src 'self'; " +
	"script-src 'self' https://accounts.google.com/gsi/client; " +
	"frame-src https://accounts.google.com/gsi/; " +
	"connect-src 'self' https://accounts.google.com/gsi/; " +
	"style-src 'self' https://accounts.google.com/gsi/style; " +
	"img-src 'self' https: data:; " +
	"form-action 'self' https://accounts.google.com; " +
	"frame-ancestors 'none'"

// NewSecurityHeadersMiddleware はセキュリティ関連のHTTPレスポンスヘッダーを付与するミドルウェアを返す。
func NewSecurityHeadersMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			w.Header().Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			w.Header().Set("Content-Security-Policy", contentSecurityPolicy)
			next.ServeHTTP(w, r)
		})
	}
}
