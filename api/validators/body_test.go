package validators

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/cardvault/marketplace-backend/pkg/errors"
)

type checkoutBody struct {
	USD   int64  `json:"usd" validate:"required,gt=0"`
	Title string `json:"title" validate:"omitempty,max=5"`
}

func TestDecodeJSONBodyReportsFieldsByJSONName(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"usd":0,"title":"charizard"}`))
	var body checkoutBody
	err := DecodeJSONBody(req, &body)

	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
	details, ok := typed.Details().(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "is required", details["usd"])
	assert.Equal(t, "must be at most 5", details["title"])
}

func TestDecodeJSONBodyRejectsUnknownFieldsAndEmptyBody(t *testing.T) {
	var body checkoutBody
	err := DecodeJSONBody(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"usd":5,"extra":1}`)), &body)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	err = DecodeJSONBody(httptest.NewRequest(http.MethodPost, "/", strings.NewReader("")), &body)
	require.Error(t, err)
	assert.Equal(t, "request body required", pkgerrors.As(err).Message())
}

func TestParseOptionalQueryValues(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?min_price=100&seller_id=not-a-uuid", nil)

	min, err := ParseOptionalQueryInt64(req, "min_price", 0)
	require.NoError(t, err)
	require.NotNil(t, min)
	assert.Equal(t, int64(100), *min)

	max, err := ParseOptionalQueryInt64(req, "max_price", 0)
	require.NoError(t, err)
	assert.Nil(t, max)

	_, err = ParseOptionalQueryUUID(req, "seller_id")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}
