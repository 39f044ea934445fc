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
	discordAuthBase = "https://discord.com"
	discordAPIBase  = "https://discord.com/api"
)

type Discord struct {
	app      config.OAuthApp
	client   *http.Client
	authBase string
	apiBase  string
}

func NewDiscord(app config.OAuthApp) *Discord {
	return &Discord{
		app:      app,
		client:   newHTTPClient(),
		authBase: discordAuthBase,
		apiBase:  discordAPIBase,
	}
}

func (d *Discord) Platform() identity.Platform { return identity.PlatformDiscord }

func (d *Discord) AuthorizeURL(state, _ string) string {
	q := url.Values{
		"client_id":     {d.app.ClientID},
		"redirect_uri":  {d.app.RedirectURI},
		"response_type": {"code"},
		"scope":         {"identify email"},
		"state":         {state},
	}
	return d.authBase + "/oauth2/authorize?" + q.Encode()
}

func (d *Discord) ExchangeCode(ctx context.Context, code, _ string) (string, error) {
	form := url.Values{
		"client_id":     {d.app.ClientID},
		"client_secret": {d.app.ClientSecret},
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {d.app.RedirectURI},
	}
	return exchangeToken(ctx, d.client, d.Platform(), d.apiBase+"/oauth2/token", form, nil)
}

func (d *Discord) FetchIdentity(ctx context.Context, accessToken string) (*Identity, error) {
	var user struct {
		ID         string `json:"id"`
		Username   string `json:"username"`
		GlobalName string `json:"global_name"`
		Email      string `json:"email"`
		Avatar     string `json:"avatar"`
	}
	if err := fetchJSON(ctx, d.client, d.Platform(), d.apiBase+"/users/@me", accessToken, &user); err != nil {
		return nil, err
	}
	if user.ID == "" {
		return nil, &FetchError{Platform: d.Platform(), Err: fmt.Errorf("identity response carried no id")}
	}

	var avatarURL string
	if user.Avatar != "" {
		avatarURL = fmt.Sprintf("https://cdn.discordapp.com/avatars/%s/%s.png", user.ID, user.Avatar)
	}
	return &Identity{
		ExternalID: user.ID,
		Profile: identity.Profile{
			Username:    user.Username,
			Email:       optional(user.Email),
			DisplayName: optional(user.GlobalName),
			AvatarURL:   optional(avatarURL),
		},
	}, nil
}
