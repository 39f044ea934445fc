package upstream

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"

	"github.com/deidlabs/linkd/internal/config"
	"github.com/deidlabs/linkd/internal/identity"
)

const (
	xAuthBase = "https://x.com"
	xAPIBase  = "https://api.x.com/2"
)

// X is the twitter/X provider. It is the one platform here that mandates
// PKCE, so its authorize URL carries the S256 challenge and its code
// exchange carries the matching verifier.
type X struct {
	app      config.OAuthApp
	client   *http.Client
	authBase string
	apiBase  string
}

func NewX(app config.OAuthApp) *X {
	return &X{
		app:      app,
		client:   newHTTPClient(),
		authBase: xAuthBase,
		apiBase:  xAPIBase,
	}
}

func (x *X) Platform() identity.Platform { return identity.PlatformTwitter }

func (x *X) AuthorizeURL(state, challenge string) string {
	q := url.Values{
		"client_id":             {x.app.ClientID},
		"redirect_uri":          {x.app.RedirectURI},
		"response_type":         {"code"},
		"scope":                 {"tweet.read users.read"},
		"state":                 {state},
		"code_challenge":        {challenge},
		"code_challenge_method": {"S256"},
	}
	return x.authBase + "/i/oauth2/authorize?" + q.Encode()
}

func (x *X) ExchangeCode(ctx context.Context, code, verifier string) (string, error) {
	if verifier == "" {
		return "", &AuthError{Platform: x.Platform(), Reason: "missing PKCE verifier"}
	}
	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {x.app.RedirectURI},
		"code_verifier": {verifier},
		"client_id":     {x.app.ClientID},
	}
	basic := base64.StdEncoding.EncodeToString([]byte(x.app.ClientID + ":" + x.app.ClientSecret))
	header := http.Header{"Authorization": {"Basic " + basic}}
	return exchangeToken(ctx, x.client, x.Platform(), x.apiBase+"/oauth2/token", form, header)
}

func (x *X) FetchIdentity(ctx context.Context, accessToken string) (*Identity, error) {
	var payload struct {
		Data struct {
			ID              string `json:"id"`
			Username        string `json:"username"`
			Name            string `json:"name"`
			ProfileImageURL string `json:"profile_image_url"`
		} `json:"data"`
	}
	endpoint := x.apiBase + "/users/me?user.fields=profile_image_url"
	if err := fetchJSON(ctx, x.client, x.Platform(), endpoint, accessToken, &payload); err != nil {
		return nil, err
	}
	if payload.Data.ID == "" {
		return nil, &FetchError{Platform: x.Platform(), Err: fmt.Errorf("identity response carried no id")}
	}
	return &Identity{
		ExternalID: payload.Data.ID,
		Profile: identity.Profile{
			Username:    payload.Data.Username,
			DisplayName: optional(payload.Data.Name),
			AvatarURL:   optional(payload.Data.ProfileImageURL),
		},
	}, nil
}
