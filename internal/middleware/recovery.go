package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
)

// NewRecoveryMiddleware はpanicを回復して500を返すミドルウェアを生成する。
// renderが指定されていればブラウザにはエラーページを、fetchやJSONクライアントには統一エラー形式を返す。
func NewRecoveryMiddleware(logger *slog.Logger, render ErrorRenderer) func(next http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.Error("panic recovered",
					slog.Any("panic", rec),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("stack", string(debug.Stack())),
				)
				if render != nil && !wantsJSON(r) {
					render(w, r, http.StatusInternalServerError, fmt.Errorf("panic: %v", rec))
					return
				}
				WriteInternalServerError(w, r)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
