package upstream

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/deidlabs/linkd/internal/config"
	"github.com/deidlabs/linkd/internal/identity"
)

const (
	googleAuthBase  = "https://accounts.google.com"
	googleTokenBase = "https://oauth2.googleapis.com"
	googleAPIBase   = "https://www.googleapis.com"
)

type Google struct {
	app       config.OAuthApp
	client    *http.Client
	authBase  string
	tokenBase string
	apiBase   string
}

func NewGoogle(app config.OAuthApp) *Google {
	return &Google{
		app:       app,
		client:    newHTTPClient(),
		authBase:  googleAuthBase,
		tokenBase: googleTokenBase,
		apiBase:   googleAPIBase,
	}
}

func (g *Google) Platform() identity.Platform { return identity.PlatformGoogle }

func (g *Google) AuthorizeURL(state, _ string) string {
	q := url.Values{
		"client_id":     {g.app.ClientID},
		"redirect_uri":  {g.app.RedirectURI},
		"response_type": {"code"},
		"scope":         {"openid email profile"},
		"state":         {state},
	}
	return g.authBase + "/o/oauth2/v2/auth?" + q.Encode()
}

func (g *Google) ExchangeCode(ctx context.Context, code, _ string) (string, error) {
	form := url.Values{
		"client_id":     {g.app.ClientID},
		"client_secret": {g.app.ClientSecret},
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {g.app.RedirectURI},
	}
	return exchangeToken(ctx, g.client, g.Platform(), g.tokenBase+"/token", form, nil)
}

func (g *Google) FetchIdentity(ctx context.Context, accessToken string) (*Identity, error) {
	var user struct {
		ID      string `json:"id"`
		Email   string `json:"email"`
		Name    string `json:"name"`
		Picture string `json:"picture"`
	}
	if err := fetchJSON(ctx, g.client, g.Platform(), g.apiBase+"/oauth2/v2/userinfo", accessToken, &user); err != nil {
		return nil, err
	}
	if user.ID == "" {
		return nil, &FetchError{Platform: g.Platform(), Err: fmt.Errorf("identity response carried no id")}
	}
	return &Identity{
		ExternalID: user.ID,
		Profile: identity.Profile{
			Username:    user.Email,
			Email:       optional(user.Email),
			DisplayName: optional(user.Name),
			AvatarURL:   optional(user.Picture),
		},
	}, nil
}
