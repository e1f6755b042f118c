package gcs

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/cardvault/marketplace-backend/pkg/config"
	"github.com/cardvault/marketplace-backend/pkg/logger"
)

const (
	tokenEndpoint = "https://oauth2.googleapis.com/token"
	metadataToken = "http://metadata.google.internal/computeMetadata/v1/instance/service-accounts/default/token"
	scope         = "https://www.googleapis.com/auth/devstorage.read_write"
	apiBase       = "https://storage.googleapis.com/storage/v1"
	signedBase    = "https://storage.googleapis.com"
	pingTimeout   = 5 * time.Second
)

// Client talks to the GCS JSON API and signs V2 URLs with the service account key.
type Client struct {
	httpClient     *http.Client
	defaultBucket  string
	tokenSource    *tokenSource
	serviceAccount *serviceAccountInfo
	logg           *logger.Logger
}

type serviceAccountInfo struct {
	clientEmail string
	privateKey  *rsa.PrivateKey
	tokenURI    string
}

type Pinger interface {
	Ping(ctx context.Context) error
}

func NewClient(ctx context.Context, cfg config.GCSConfig, gcp config.GCPConfig, logg *logger.Logger) (*Client, error) {
	if cfg.BucketName == "" {
		return nil, errors.New("gcs bucket name is required")
	}

	client := &Client{
		httpClient:    &http.Client{Timeout: 10 * time.Second},
		defaultBucket: cfg.BucketName,
		logg:          logg,
	}

	credsJSON := gcp.CredentialsJSON
	if credsJSON == "" && gcp.ApplicationCredentials != "" {
		raw, err := os.ReadFile(gcp.ApplicationCredentials)
		if err != nil {
			return nil, fmt.Errorf("reading credentials file: %w", err)
		}
		credsJSON = string(raw)
	}

	if credsJSON != "" {
		sa, err := parseServiceAccount(credsJSON)
		if err != nil {
			return nil, err
		}
		client.serviceAccount = sa
		client.tokenSource = &tokenSource{fetch: client.fetchServiceAccountToken}
	} else {
		// Metadata credentials can read and write objects but cannot sign URLs.
		client.tokenSource = &tokenSource{fetch: client.fetchMetadataToken}
	}

	if err := client.Ping(ctx); err != nil {
		return nil, fmt.Errorf("gcs health check failed: %w", err)
	}
	if logg != nil {
		logg.Info(logg.WithField(ctx, "bucket", cfg.BucketName), "gcs client initialized")
	}
	return client, nil
}

func (c *Client) DefaultBucket() string {
	if c == nil {
		return ""
	}
	return c.defaultBucket
}

func (c *Client) Close() error {
	return nil
}

// Ping lists at most one object, which needs storage.objects.list on the bucket.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.tokenSource == nil {
		return errors.New("gcs client not initialized")
	}
	if c.defaultBucket == "" {
		return errors.New("gcs bucket not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	resp, err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s/b/%s/o?maxResults=1", apiBase, url.PathEscape(c.defaultBucket)))
	if err != nil {
		return err
	}
	defer c.closeBody(ctx, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return statusError("gcs object check failed", resp)
	}
	return nil
}

// ObjectExists reports whether object is present in bucket.
func (c *Client) ObjectExists(ctx context.Context, bucket, object string) (bool, error) {
	bucket, err := c.resolveBucket(bucket)
	if err != nil {
		return false, err
	}
	if object == "" {
		return false, errors.New("object name is required")
	}

	resp, err := c.do(ctx, http.MethodGet, objectURL(bucket, object))
	if err != nil {
		return false, err
	}
	defer c.closeBody(ctx, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, statusError("gcs object lookup failed", resp)
	}
}

// DeleteObject removes object; a missing object is not an error.
func (c *Client) DeleteObject(ctx context.Context, bucket, object string) error {
	bucket, err := c.resolveBucket(bucket)
	if err != nil {
		return err
	}
	if object == "" {
		return errors.New("object name is required")
	}

	resp, err := c.do(ctx, http.MethodDelete, objectURL(bucket, object))
	if err != nil {
		return err
	}
	defer c.closeBody(ctx, resp.Body)

	if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNotFound {
		return nil
	}
	return statusError("gcs delete failed", resp)
}

// SignedURL returns a V2 signed PUT URL restricted to contentType.
func (c *Client) SignedURL(bucket, object, contentType string, expires time.Duration) (string, error) {
	if contentType == "" {
		return "", errors.New("content type is required")
	}
	return c.signV2(http.MethodPut, bucket, object, contentType, expires)
}

func (c *Client) signV2(method, bucket, object, contentType string, expires time.Duration) (string, error) {
	if c == nil || c.serviceAccount == nil || c.serviceAccount.privateKey == nil {
		return "", errors.New("url signing requires service account credentials")
	}
	bucket, err := c.resolveBucket(bucket)
	if err != nil {
		return "", err
	}
	if object == "" {
		return "", errors.New("object name is required")
	}
	if expires <= 0 {
		return "", errors.New("expiry must be positive")
	}

	expiresAt := strconv.FormatInt(time.Now().Add(expires).Unix(), 10)
	resource := "/" + bucket + "/" + object
	stringToSign := strings.Join([]string{method, "", contentType, expiresAt, resource}, "\n")

	sig, err := jwt.SigningMethodRS256.Sign(stringToSign, c.serviceAccount.privateKey)
	if err != nil {
		return "", fmt.Errorf("sign url: %w", err)
	}

	q := url.Values{}
	q.Set("GoogleAccessId", c.serviceAccount.clientEmail)
	q.Set("Expires", expiresAt)
	q.Set("Signature", base64.StdEncoding.EncodeToString(sig))

	u := url.URL{Scheme: "https", Host: "storage.googleapis.com", Path: resource, RawQuery: q.Encode()}
	return u.String(), nil
}

// PublicURL is the unsigned object URL, readable when the bucket grants public access.
func (c *Client) PublicURL(bucket, object string) string {
	if bucket == "" {
		bucket = c.DefaultBucket()
	}
	return signedBase + "/" + bucket + "/" + object
}

func (c *Client) resolveBucket(bucket string) (string, error) {
	if bucket == "" && c != nil {
		bucket = c.defaultBucket
	}
	if bucket == "" {
		return "", errors.New("bucket name is required")
	}
	return bucket, nil
}

func (c *Client) do(ctx context.Context, method, target string) (*http.Response, error) {
	if c.tokenSource == nil || c.httpClient == nil {
		return nil, errors.New("gcs client not initialized")
	}
	token, err := c.tokenSource.Token(ctx)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	return c.httpClient.Do(req)
}

func (c *Client) closeBody(ctx context.Context, body io.Closer) {
	if body == nil {
		return
	}
	if err := body.Close(); err != nil && c.logg != nil {
		c.logg.Warn(ctx, "gcs: closing response body failed")
	}
}

func objectURL(bucket, object string) string {
	return fmt.Sprintf("%s/b/%s/o/%s", apiBase, url.PathEscape(bucket), url.PathEscape(object))
}

func statusError(prefix string, resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	if msg := strings.TrimSpace(string(b)); msg != "" {
		return fmt.Errorf("%s: %s: %s", prefix, resp.Status, msg)
	}
	return fmt.Errorf("%s: %s", prefix, resp.Status)
}

type tokenSource struct {
	mu     sync.Mutex
	token  string
	expiry time.Time
	fetch  func(context.Context) (string, time.Time, error)
}

// Token returns the cached access token, refreshing it within a minute of expiry.
func (t *tokenSource) Token(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.token != "" && time.Until(t.expiry) > time.Minute {
		return t.token, nil
	}
	token, expiry, err := t.fetch(ctx)
	if err != nil {
		return "", err
	}
	t.token, t.expiry = token, expiry
	return token, nil
}

func parseServiceAccount(jsonCreds string) (*serviceAccountInfo, error) {
	var creds struct {
		ClientEmail string `json:"client_email"`
		PrivateKey  string `json:"private_key"`
		TokenURI    string `json:"token_uri"`
	}
	if err := json.Unmarshal([]byte(jsonCreds), &creds); err != nil {
		return nil, fmt.Errorf("parsing service account credentials: %w", err)
	}
	if creds.ClientEmail == "" || creds.PrivateKey == "" {
		return nil, errors.New("invalid service account credentials")
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(creds.PrivateKey))
	if err != nil {
		return nil, fmt.Errorf("parsing service account key: %w", err)
	}
	tokenURI := creds.TokenURI
	if tokenURI == "" {
		tokenURI = tokenEndpoint
	}
	return &serviceAccountInfo{clientEmail: creds.ClientEmail, privateKey: key, tokenURI: tokenURI}, nil
}

// fetchServiceAccountToken trades a self-signed RS256 assertion for an access token.
func (c *Client) fetchServiceAccountToken(ctx context.Context) (string, time.Time, error) {
	sa := c.serviceAccount
	now := time.Now()
	assertion, err := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss":   sa.clientEmail,
		"scope": scope,
		"aud":   sa.tokenURI,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}).SignedString(sa.privateKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token assertion: %w", err)
	}

	form := url.Values{}
	form.Set("grant_type", "urn:ietf:params:oauth:grant-type:jwt-bearer")
	form.Set("assertion", assertion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sa.tokenURI, strings.NewReader(form.Encode()))
	if err != nil {
		return "", time.Time{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.exchangeToken(ctx, req)
}

func (c *Client) fetchMetadataToken(ctx context.Context) (string, time.Time, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, metadataToken, nil)
	if err != nil {
		return "", time.Time{}, err
	}
	req.Header.Set("Metadata-Flavor", "Google")
	return c.exchangeToken(ctx, req)
}

func (c *Client) exchangeToken(ctx context.Context, req *http.Request) (string, time.Time, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", time.Time{}, err
	}
	defer c.closeBody(ctx, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return "", time.Time{}, fmt.Errorf("token request returned %s", resp.Status)
	}
	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", time.Time{}, err
	}
	return tokenResp.AccessToken, time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second), nil
}
