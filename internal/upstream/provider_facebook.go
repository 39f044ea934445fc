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
	facebookAuthBase  = "https://www.facebook.com/v19.0"
	facebookGraphBase = "https://graph.facebook.com/v19.0"
)

type Facebook struct {
	app       config.OAuthApp
	client    *http.Client
	authBase  string
	graphBase string
}

func NewFacebook(app config.OAuthApp) *Facebook {
	return &Facebook{
		app:       app,
		client:    newHTTPClient(),
		authBase:  facebookAuthBase,
		graphBase: facebookGraphBase,
	}
}

func (f *Facebook) Platform() identity.Platform { return identity.PlatformFacebook }

func (f *Facebook) AuthorizeURL(state, _ string) string {
	q := url.Values{
		"client_id":     {f.app.ClientID},
		"redirect_uri":  {f.app.RedirectURI},
		"response_type": {"code"},
		"scope":         {"public_profile email"},
		"state":         {state},
	}
	return f.authBase + "/dialog/oauth?" + q.Encode()
}

func (f *Facebook) ExchangeCode(ctx context.Context, code, _ string) (string, error) {
	form := url.Values{
		"client_id":     {f.app.ClientID},
		"client_secret": {f.app.ClientSecret},
		"code":          {code},
		"redirect_uri":  {f.app.RedirectURI},
	}
	return exchangeToken(ctx, f.client, f.Platform(), f.graphBase+"/oauth/access_token", form, nil)
}

func (f *Facebook) FetchIdentity(ctx context.Context, accessToken string) (*Identity, error) {
	var user struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Email   string `json:"email"`
		Picture struct {
			Data struct {
				URL string `json:"url"`
			} `json:"data"`
		} `json:"picture"`
	}
	endpoint := f.graphBase + "/me?fields=" + url.QueryEscape("id,name,email,picture")
	if err := fetchJSON(ctx, f.client, f.Platform(), endpoint, accessToken, &user); err != nil {
		return nil, err
	}
	if user.ID == "" {
		return nil, &FetchError{Platform: f.Platform(), Err: fmt.Errorf("identity response carried no id")}
	}
	return &Identity{
		ExternalID: user.ID,
		Profile: identity.Profile{
			Username:    user.Name,
			Email:       optional(user.Email),
			DisplayName: optional(user.Name),
			AvatarURL:   optional(user.Picture.Data.URL),
		},
	}, nil
}
