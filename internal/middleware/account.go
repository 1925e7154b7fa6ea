// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/mediapost/internal/model"
)

// AccountHeader はリクエスト元アカウントの公開鍵を指定するヘッダー。
const AccountHeader = "X-Account-Pubkey"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// accountContextKey はリクエストコンテキストにアカウントを格納するためのキー。
var accountContextKey = contextKey("account")

// AccountFinder はアカウントの検索に必要なインターフェース。
// repository.AccountRepositoryの部分集合として定義する。
type AccountFinder interface {
	FindByPubKey(ctx context.Context, pubKey string) (*model.Account, error)
}

// NewAccountMiddleware はX-Account-Pubkeyヘッダーからアカウントを解決するミドルウェアを返す。
// 未登録の公開鍵やヘッダーなしのリクエストには401を返す。
func NewAccountMiddleware(finder AccountFinder, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. ヘッダーから公開鍵を取得
			pubKey := strings.ToLower(strings.TrimSpace(r.Header.Get(AccountHeader)))
			if pubKey == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewAccountNotFoundError())
				return
			}

			// 2. アカウントを検索
			account, err := finder.FindByPubKey(r.Context(), pubKey)
			if err != nil {
				logger.Error("アカウントの検索に失敗しました",
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}
			if account == nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewAccountNotFoundError())
				return
			}

			// 3. アカウントをコンテキストに注入
			next.ServeHTTP(w, r.WithContext(ContextWithAccount(r.Context(), account)))
		})
	}
}

// AccountFromContext はリクエストコンテキストからアカウントを取得する。
// アカウントミドルウェアを通過したリクエストでのみ有効。
func AccountFromContext(ctx context.Context) (*model.Account, error) {
	account, ok := ctx.Value(accountContextKey).(*model.Account)
	if !ok || account == nil {
		return nil, fmt.Errorf("account not found in context")
	}
	return account, nil
}

// ContextWithAccount はコンテキストにアカウントを注入する。
func ContextWithAccount(ctx context.Context, account *model.Account) context.Context {
	return context.WithValue(ctx, accountContextKey, account)
}
