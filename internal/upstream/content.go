package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/deidlabs/linkd/internal/config"
)

// ContentStore publishes metadata documents through an IPFS HTTP API and
// resolves references against a public gateway.
type ContentStore struct {
	apiURL     string
	gatewayURL string
	token      string
	client     *http.Client
}

func NewContentStore(cfg config.ContentStoreConfig) *ContentStore {
	return &ContentStore{
		apiURL:     strings.TrimRight(cfg.APIURL, "/"),
		gatewayURL: cfg.GatewayURL,
		token:      cfg.Token,
		client:     newHTTPClient(),
	}
}

// PublishMetadata adds doc as a JSON file and returns its CID. The document
// is marshaled here so callers hand over plain structs.
func (c *ContentStore) PublishMetadata(ctx context.Context, doc any) (string, error) {
	payload, err := json.Marshal(doc)
	if err != nil {
		return "", &PublishError{Err: fmt.Errorf("marshal document: %w", err)}
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "metadata.json")
	if err != nil {
		return "", &PublishError{Err: err}
	}
	if _, err := part.Write(payload); err != nil {
		return "", &PublishError{Err: err}
	}
	if err := writer.Close(); err != nil {
		return "", &PublishError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/api/v0/add?cid-version=1", &body)
	if err != nil {
		return "", &PublishError{Err: err}
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", &PublishError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &PublishError{Err: fmt.Errorf("content store returned %d", resp.StatusCode)}
	}

	var added struct {
		Hash string `json:"Hash"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&added); err != nil {
		return "", &PublishError{Err: fmt.Errorf("decode add response: %w", err)}
	}
	if added.Hash == "" {
		return "", &PublishError{Err: fmt.Errorf("content store returned no hash")}
	}
	return added.Hash, nil
}

// GatewayURL resolves a content reference to a public fetch URL. ipfs://
// references are rewritten onto the configured gateway.
func (c *ContentStore) GatewayURL(ref string) string {
	ref = strings.TrimPrefix(ref, "ipfs://")
	return strings.TrimRight(c.gatewayURL, "/") + "/" + ref
}
