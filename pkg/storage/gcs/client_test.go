package gcs

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustGenerateKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func signingClient(t *testing.T) (*Client, *rsa.PrivateKey) {
	t.Helper()
	key := mustGenerateKey(t)
	return &Client{
		defaultBucket:  "bucket",
		serviceAccount: &serviceAccountInfo{clientEmail: "signer@example.com", privateKey: key},
	}, key
}

func verifyV2(t *testing.T, rawURL string, key *rsa.PrivateKey, method, contentType, object string) {
	t.Helper()
	parsed, err := url.Parse(rawURL)
	require.NoError(t, err)
	assert.Equal(t, "storage.googleapis.com", parsed.Host)
	assert.Equal(t, "/bucket/"+object, parsed.Path)

	values := parsed.Query()
	assert.Equal(t, "signer@example.com", values.Get("GoogleAccessId"))
	expires := values.Get("Expires")
	require.NotEmpty(t, expires)

	rawSig, err := base64.StdEncoding.DecodeString(values.Get("Signature"))
	require.NoError(t, err)

	data := method + "\n\n" + contentType + "\n" + expires + "\n/bucket/" + object
	hash := sha256.Sum256([]byte(data))
	require.NoError(t, rsa.VerifyPKCS1v15(&key.PublicKey, crypto.SHA256, hash[:], rawSig))
}

func TestSignedURLSuccess(t *testing.T) {
	t.Parallel()
	client, key := signingClient(t)

	object := "uploads/user/abc/card.png"
	rawURL, err := client.SignedURL("bucket", object, "image/png", 5*time.Minute)
	require.NoError(t, err)
	verifyV2(t, rawURL, key, http.MethodPut, "image/png", object)
}

func TestSignedURLErrors(t *testing.T) {
	t.Parallel()
	client, _ := signingClient(t)
	noDefault := &Client{serviceAccount: client.serviceAccount}

	cases := []struct {
		name        string
		client      *Client
		bucket      string
		object      string
		contentType string
		expires     time.Duration
	}{
		{"missing bucket", noDefault, "", "object", "image/png", time.Minute},
		{"missing object", client, "bucket", "", "image/png", time.Minute},
		{"missing content type", client, "bucket", "object", "", time.Minute},
		{"negative ttl", client, "bucket", "object", "image/png", -time.Minute},
		{"no service account", &Client{defaultBucket: "bucket"}, "", "object", "image/png", time.Minute},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.client.SignedURL(tc.bucket, tc.object, tc.contentType, tc.expires)
			assert.Error(t, err)
		})
	}
}

type roundTripFunc func(*http.Request) *http.Response

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req), nil
}

func stubClient(handler func(*http.Request) *http.Response) *Client {
	return &Client{
		defaultBucket: "bucket",
		tokenSource: &tokenSource{fetch: func(context.Context) (string, time.Time, error) {
			return "token", time.Now().Add(time.Hour), nil
		}},
		httpClient: &http.Client{Transport: roundTripFunc(handler)},
	}
}

func response(status int) *http.Response {
	return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader("")), Header: http.Header{}}
}

func TestDeleteObject(t *testing.T) {
	t.Parallel()
	for _, status := range []int{http.StatusNoContent, http.StatusNotFound} {
		client := stubClient(func(req *http.Request) *http.Response {
			assert.Equal(t, http.MethodDelete, req.Method)
			assert.Equal(t, "Bearer token", req.Header.Get("Authorization"))
			return response(status)
		})
		assert.NoError(t, client.DeleteObject(context.Background(), "", "uploads/file.png"))
	}

	failing := stubClient(func(*http.Request) *http.Response { return response(http.StatusForbidden) })
	assert.Error(t, failing.DeleteObject(context.Background(), "", "uploads/file.png"))
}

func TestObjectExists(t *testing.T) {
	t.Parallel()
	var requested string
	client := stubClient(func(req *http.Request) *http.Response {
		requested = req.URL.EscapedPath()
		if strings.HasSuffix(requested, "missing.png") {
			return response(http.StatusNotFound)
		}
		return response(http.StatusOK)
	})

	ok, err := client.ObjectExists(context.Background(), "", "uploads/u/present.png")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, requested, "uploads%2Fu%2Fpresent.png")

	ok, err = client.ObjectExists(context.Background(), "", "uploads/u/missing.png")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTokenSourceCaches(t *testing.T) {
	t.Parallel()
	calls := 0
	ts := &tokenSource{fetch: func(context.Context) (string, time.Time, error) {
		calls++
		return "tok", time.Now().Add(time.Hour), nil
	}}
	for i := 0; i < 3; i++ {
		tok, err := ts.Token(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "tok", tok)
	}
	assert.Equal(t, 1, calls)
}
