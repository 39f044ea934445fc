package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/deidlabs/linkd/internal/identity"
)

// exchangeToken posts an authorization-code grant to tokenURL and returns
// the access token. A 4xx response means the code itself was rejected; any
// other failure is an upstream fault.
func exchangeToken(ctx context.Context, client *http.Client, platform identity.Platform, tokenURL string, form url.Values, header http.Header) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", &FetchError{Platform: platform, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", &FetchError{Platform: platform, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &FetchError{Platform: platform, Err: err}
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return "", &AuthError{Platform: platform, Reason: fmt.Sprintf("token endpoint returned %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &FetchError{Platform: platform, Err: fmt.Errorf("token endpoint returned %d", resp.StatusCode)}
	}

	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", &FetchError{Platform: platform, Err: fmt.Errorf("decode token response: %w", err)}
	}
	if payload.AccessToken == "" {
		return "", &AuthError{Platform: platform, Reason: "token response carried no access token"}
	}
	return payload.AccessToken, nil
}

// fetchJSON gets apiURL with a bearer token and decodes the response into
// out. A 401/403 means the token was rejected.
func fetchJSON(ctx context.Context, client *http.Client, platform identity.Platform, apiURL, accessToken string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return &FetchError{Platform: platform, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return &FetchError{Platform: platform, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &AuthError{Platform: platform, Reason: fmt.Sprintf("identity endpoint returned %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return &FetchError{Platform: platform, Err: fmt.Errorf("identity endpoint returned %d", resp.StatusCode)}
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out); err != nil {
		return &FetchError{Platform: platform, Err: fmt.Errorf("decode identity response: %w", err)}
	}
	return nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
