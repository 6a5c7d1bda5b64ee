// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/smarbl/internal/auth"
	"github.com/hitoshi/smarbl/internal/metrics"
	"github.com/hitoshi/smarbl/internal/model"
	"github.com/hitoshi/smarbl/internal/token"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// userContextKey はリクエストコンテキストに認証済みユーザーを格納するためのキー。
var userContextKey = contextKey("user")

// Authenticator はベアラートークンをユーザーに解決するインターフェース。
// auth.Serviceが実装する。
type Authenticator interface {
	Authenticate(ctx context.Context, tokenString string) (*model.User, error)
}

// NewAuthenticatorMiddleware はAuthorizationヘッダーのベアラートークンを検証し、
// 認証済みユーザーをリクエストコンテキストに注入するミドルウェアを返す。
//
// トークンが提示されていないリクエストは未認証のまま通過させる。
// 提示されたトークンが無効な場合は理由を区別せず401 UNAUTHORIZEDを返す。
// 既にユーザーが注入されているリクエストは再認証しない。
func NewAuthenticatorMiddleware(authenticator Authenticator, collector metrics.MetricsCollector) func(next http.Handler) http.Handler {
	if collector == nil {
		collector = metrics.NopCollector{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := UserFromContext(r.Context()); ok {
				next.ServeHTTP(w, r)
				return
			}

			// 1. ベアラートークンの取得
			tokenString, ok := bearerToken(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			// 2. トークンの検証とユーザーの解決
			user, err := authenticator.Authenticate(r.Context(), tokenString)
			if err != nil {
				reason, known := rejectionReason(err)
				if !known {
					slog.Error("failed to authenticate request",
						slog.String("error", err.Error()),
						slog.String("path", r.URL.Path),
					)
					WriteInternalServerError(w)
					return
				}

				collector.RecordTokenRejected(reason)
				slog.Warn("bearer token rejected",
					slog.String("reason", reason),
					slog.String("path", r.URL.Path),
				)
				w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			// 3. 認証済みユーザーをコンテキストに注入
			next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
		})
	}
}

// RequireAuthentication は認証済みユーザーのいないリクエストに
// 401 AUTH_REQUIRED を返すミドルウェアを返す。
// NewAuthenticatorMiddlewareの内側で使用する。
func RequireAuthentication() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := UserFromContext(r.Context()); !ok {
				w.Header().Set("WWW-Authenticate", "Bearer")
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewAuthRequiredError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// bearerToken はAuthorizationヘッダーからベアラートークンを取り出す。
// Bearer以外のスキームはトークンなしとして扱う。
func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", false
	}

	scheme, rest, _ := strings.Cut(header, " ")
	if !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	return strings.TrimSpace(rest), true
}

// rejectionReason はトークン拒否の理由をメトリクスラベルに変換する。
// 既知の拒否理由でない場合はfalseを返す。
func rejectionReason(err error) (string, bool) {
	switch {
	case errors.Is(err, token.ErrExpired):
		return metrics.TokenExpired, true
	case errors.Is(err, token.ErrInvalidSignature):
		return metrics.TokenInvalidSignature, true
	case errors.Is(err, token.ErrMalformedToken):
		return metrics.TokenMalformed, true
	case errors.Is(err, auth.ErrUnknownSubject):
		return metrics.TokenUnknownSubject, true
	default:
		return "", false
	}
}

// ContextWithUser はコンテキストに認証済みユーザーを注入する。
// テストやミドルウェア以外のコンテキスト生成でも使用する。
// ロギングミドルウェアの内側であればアクセスログにもユーザーIDが載る。
func ContextWithUser(ctx context.Context, user *model.User) context.Context {
	if user != nil {
		recordLoggedUser(ctx, user.ID)
	}
	return context.WithValue(ctx, userContextKey, user)
}

// UserFromContext はリクエストコンテキストから認証済みユーザーを取得する。
func UserFromContext(ctx context.Context) (*model.User, bool) {
	user, ok := ctx.Value(userContextKey).(*model.User)
	if !ok || user == nil {
		return nil, false
	}
	return user, true
}

// UserIDFromContext はリクエストコンテキストから認証済みユーザーのIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	user, ok := UserFromContext(ctx)
	if !ok || user.ID == "" {
		return "", fmt.Errorf("user not found in context")
	}
	return user.ID, nil
}

var _ Authenticator = (*auth.Service)(nil)
