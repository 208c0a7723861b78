package verifier

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "kycgate/pkg/domain-errors"
)

func TestParseVerifyResponse(t *testing.T) {
	t.Run("parses successful response", func(t *testing.T) {
		body := []byte(`{
			"success": true,
			"data": {"full_name": "Alice Johnson", "date_of_birth": "1990-05-15"},
			"reference": "ref-123"
		}`)

		result, err := parseVerifyResponse("datapro", http.StatusOK, body)
		require.NoError(t, err)
		require.NotNil(t, result)

		assert.True(t, result.Valid)
		assert.Equal(t, "Alice Johnson", result.Data["full_name"])
		assert.Equal(t, "ref-123", result.ProviderRef)
	})

	t.Run("non-200 status is a provider failure", func(t *testing.T) {
		result, err := parseVerifyResponse("datapro", http.StatusBadGateway, []byte(`{}`))
		require.Error(t, err)
		assert.Nil(t, result)
		assert.Equal(t, dErrors.CodeProviderFailure, dErrors.CodeOf(err))
	})

	t.Run("provider-reported failure keeps the error code", func(t *testing.T) {
		body := []byte(`{"success": false, "error_code": "NIN_NOT_FOUND"}`)

		result, err := parseVerifyResponse("datapro", http.StatusOK, body)
		require.Error(t, err)
		assert.Nil(t, result)
		assert.Equal(t, dErrors.CodeProviderFailure, dErrors.CodeOf(err))
		assert.Contains(t, err.Error(), "NIN_NOT_FOUND")
	})

	t.Run("malformed body is a provider failure", func(t *testing.T) {
		_, err := parseVerifyResponse("datapro", http.StatusOK, []byte("not json"))
		require.Error(t, err)
		assert.Equal(t, dErrors.CodeProviderFailure, dErrors.CodeOf(err))
	})
}

func TestHTTPVerifier(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/verify/nin", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-API-Key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success": true, "data": {"valid": true}, "reference": "r1"}`))
	}))
	defer srv.Close()

	v := NewHTTPVerifier("datapro", srv.URL, "test-key", 5*time.Second)
	assert.Equal(t, "datapro", v.Name())

	result, err := v.Verify(context.Background(), "12345678901", TypeNIN)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, "r1", result.ProviderRef)
}

func TestParseIdentityType(t *testing.T) {
	for _, tc := range []struct {
		in      string
		want    IdentityType
		wantErr bool
	}{
		{"nin", TypeNIN, false},
		{"NIN", TypeNIN, false},
		{" bvn ", TypeBVN, false},
		{"cac", TypeCAC, false},
		{"passport", "", true},
		{"", "", true},
	} {
		got, err := ParseIdentityType(tc.in)
		if tc.wantErr {
			assert.Error(t, err, "input %q", tc.in)
			continue
		}
		require.NoError(t, err, "input %q", tc.in)
		assert.Equal(t, tc.want, got)
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "12345678901", Normalize(" 123 456-789.01 "))
	assert.Equal(t, "RC123456", Normalize("rc 123456"))
	assert.Equal(t, "BN98765", Normalize("bn-98765"))
}

func TestValidateNumber(t *testing.T) {
	assert.NoError(t, ValidateNumber("12345678901", TypeNIN))
	assert.Error(t, ValidateNumber("1234567890", TypeNIN), "ten digits")
	assert.Error(t, ValidateNumber("1234567890a", TypeNIN), "letter")
	assert.NoError(t, ValidateNumber("12345678901", TypeBVN))
	assert.NoError(t, ValidateNumber("RC123456", TypeCAC))
	assert.NoError(t, ValidateNumber("123456", TypeCAC))
	assert.Error(t, ValidateNumber("XX123", TypeCAC))
}

func TestMask(t *testing.T) {
	assert.Equal(t, "1234*******", Mask("12345678901"))
	assert.Equal(t, "***", Mask("123"))
}
