package handler

import "net/http"

// canonicalGroups は/api配下のルートグループのコントラクト表。
// プレフィックスと認証モードはパイプラインが所有する契約であり、
// ハンドラー実装は各ビジネスモジュールが提供する。
// 順序は404レスポンスのavailableRoutesの順序を決める。
var canonicalGroups = []struct {
	prefix   string
	auth     AuthMode
	unlisted bool
}{
	{"/api/auth", AuthNone, false},
	{"/api/users", AuthMandatory, false},
	{"/api/estabelecimentos", AuthOptional, false},
	{"/api/osm-estabelecimentos", AuthNone, false},
	{"/api/google-places", AuthNone, false},
	{"/api/ai-restaurant-search", AuthNone, false},
	{"/api/admin", AuthMandatory, false},
	{"/api/restaurant-owner", AuthMandatory, false},
	{"/api/restaurants", AuthOptional, false},
	{"/api/restaurant-photos", AuthNone, false},
	{"/api/restaurant-features", AuthNone, false},
	// notificationsは内部向けのためavailableRoutesに載せない
	{"/api/notifications", AuthMandatory, true},
	{"/api/pending-restaurants", AuthMandatory, false},
	{"/api/posts", AuthOptional, false},
	{"/api/comments", AuthOptional, false},
	{"/api/likes", AuthMandatory, false},
	{"/api/favorites", AuthMandatory, false},
	{"/api/follows", AuthMandatory, false},
	{"/api/search", AuthOptional, false},
}

// CanonicalRoutes はコントラクト表からルートグループ列を構築する。
// handlersにはプレフィックスをキーとするビジネスハンドラーを渡す。
// ハンドラー未提供のグループはマウントされないが、
// availableRoutesの契約には引き続き含まれる。
func CanonicalRoutes(handlers map[string]http.Handler) []RouteGroup {
	groups := make([]RouteGroup, 0, len(canonicalGroups))
	for _, g := range canonicalGroups {
		groups = append(groups, RouteGroup{
			Prefix:   g.prefix,
			Auth:     g.auth,
			Handler:  handlers[g.prefix],
			Unlisted: g.unlisted,
		})
	}
	return groups
}
