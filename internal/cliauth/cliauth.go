// Package cliauth builds a graph.TokenSource from a token already saved on
// disk. Interactive login (device code / browser PKCE) is out of scope —
// this package only ever reads and silently refreshes an existing token,
// trimmed from the teacher's full auth flow down to what a read-only
// duplicate-report tool needs.
package cliauth

import (
	"context"
	"log/slog"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"

	"github.com/tonimelisma/msod-stat/internal/graph"
	"github.com/tonimelisma/msod-stat/internal/tokenfile"
)

// Azure AD application registered for msod-stat (public client, multi-tenant + personal).
const defaultClientID = "8efac532-bbe7-4bc5-919c-1443ccab860a"

var defaultScopes = []string{
	"offline_access",
	"Files.Read.All",
	"User.Read",
}

// FromTokenFile loads a saved token from tokenPath and returns a
// graph.TokenSource that silently refreshes it and persists the refreshed
// token back to disk via OnTokenChange.
//
// The returned TokenSource binds ctx to the underlying oauth2 token source —
// ctx must outlive the TokenSource, so callers should pass a long-lived
// context such as the command's root context rather than a per-request one.
func FromTokenFile(ctx context.Context, tokenPath string, logger *slog.Logger) (graph.TokenSource, error) {
	tok, meta, err := tokenfile.Load(tokenPath)
	if err != nil {
		return nil, err
	}

	if tok == nil {
		return nil, graph.ErrNotLoggedIn
	}

	cfg := &oauth2.Config{
		ClientID: defaultClientID,
		Scopes:   defaultScopes,
		Endpoint: microsoft.AzureADEndpoint("common"),
		// Called by ReuseTokenSource after each silent refresh, outside its mutex.
		OnTokenChange: func(refreshed *oauth2.Token) {
			logger.Info("token refreshed, persisting to disk", slog.String("path", tokenPath))

			if err := tokenfile.Save(tokenPath, refreshed, meta); err != nil {
				logger.Warn("failed to persist refreshed token",
					slog.String("path", tokenPath),
					slog.String("error", err.Error()),
				)
			}
		},
	}

	return &tokenBridge{src: cfg.TokenSource(ctx, tok), logger: logger}, nil
}

// tokenBridge adapts oauth2.TokenSource to graph.TokenSource.
type tokenBridge struct {
	src    oauth2.TokenSource
	logger *slog.Logger
}

func (b *tokenBridge) Token() (string, error) {
	t, err := b.src.Token()
	if err != nil {
		b.logger.Warn("token acquisition failed", slog.String("error", err.Error()))
		return "", err
	}

	b.logger.Debug("token acquired", slog.Time("expiry", t.Expiry), slog.Bool("valid", t.Valid()))

	return t.AccessToken, nil
}
