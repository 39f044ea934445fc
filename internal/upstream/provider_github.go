package upstream

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/deidlabs/linkd/internal/config"
	"github.com/deidlabs/linkd/internal/identity"
)

const (
	githubAuthBase = "https://github.com"
	githubAPIBase  = "https://api.github.com"
)

type GitHub struct {
	app      config.OAuthApp
	client   *http.Client
	authBase string
	apiBase  string
}

func NewGitHub(app config.OAuthApp) *GitHub {
	return &GitHub{
		app:      app,
		client:   newHTTPClient(),
		authBase: githubAuthBase,
		apiBase:  githubAPIBase,
	}
}

func (g *GitHub) Platform() identity.Platform { return identity.PlatformGitHub }

func (g *GitHub) AuthorizeURL(state, _ string) string {
	q := url.Values{
		"client_id":    {g.app.ClientID},
		"redirect_uri": {g.app.RedirectURI},
		"scope":        {"read:user user:email"},
		"state":        {state},
	}
	return g.authBase + "/login/oauth/authorize?" + q.Encode()
}

func (g *GitHub) ExchangeCode(ctx context.Context, code, _ string) (string, error) {
	form := url.Values{
		"client_id":     {g.app.ClientID},
		"client_secret": {g.app.ClientSecret},
		"code":          {code},
		"redirect_uri":  {g.app.RedirectURI},
	}
	return exchangeToken(ctx, g.client, g.Platform(), g.authBase+"/login/oauth/access_token", form, nil)
}

func (g *GitHub) FetchIdentity(ctx context.Context, accessToken string) (*Identity, error) {
	var user struct {
		ID        int64  `json:"id"`
		Login     string `json:"login"`
		Name      string `json:"name"`
		Email     string `json:"email"`
		AvatarURL string `json:"avatar_url"`
	}
	if err := fetchJSON(ctx, g.client, g.Platform(), g.apiBase+"/user", accessToken, &user); err != nil {
		return nil, err
	}
	if user.ID == 0 {
		return nil, &FetchError{Platform: g.Platform(), Err: fmt.Errorf("identity response carried no id")}
	}
	return &Identity{
		ExternalID: strconv.FormatInt(user.ID, 10),
		Profile: identity.Profile{
			Username:    user.Login,
			Email:       optional(user.Email),
			DisplayName: optional(user.Name),
			AvatarURL:   optional(user.AvatarURL),
		},
	}, nil
}
