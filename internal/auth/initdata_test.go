package auth

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBotToken = "123456:TEST-token"

func signedInitData(t *testing.T, fields map[string]string, token string) string {
	t.Helper()
	values := url.Values{}
	for k, v := range fields {
		values.Set(k, v)
	}
	values.Set("hash", Sign(fields, token))
	return values.Encode()
}

func sampleFields() map[string]string {
	return map[string]string{
		"auth_date": "1700000000",
		"query_id":  "AAHdF6IQAAAAAN0XohDhrOrc",
		"user":      `{"id":279058397,"first_name":"Vlad","username":"vdkfrost"}`,
		"empty":     "",
	}
}

func TestDataCheckStringSortedByKey(t *testing.T) {
	got := DataCheckString(map[string]string{"b": "2", "a": "1", "c": ""})
	assert.Equal(t, "a=1\nb=2\nc=", got)
}

func TestSignKnownVector(t *testing.T) {
	// secret = HMAC_SHA256(key="WebAppData", msg=token); hash = HMAC_SHA256(key=secret, msg=строка проверки)
	got := Sign(map[string]string{"auth_date": "1", "user": `{"id":1}`}, "token")
	assert.Len(t, got, 64)
	assert.Equal(t, got, Sign(map[string]string{"user": `{"id":1}`, "auth_date": "1"}, "token"))
}

func TestVerifyInitDataRecoversFields(t *testing.T) {
	fields := sampleFields()
	got, err := VerifyInitData(signedInitData(t, fields, testBotToken), testBotToken)
	require.NoError(t, err)
	assert.Equal(t, fields, got)
	_, hasHash := got["hash"]
	assert.False(t, hasHash)
}

func TestVerifyInitDataFailures(t *testing.T) {
	valid := signedInitData(t, sampleFields(), testBotToken)
	parsed, err := url.ParseQuery(valid)
	require.NoError(t, err)
	hash := parsed.Get("hash")

	flippedHash := []byte(hash)
	if flippedHash[0] == 'a' {
		flippedHash[0] = 'b'
	} else {
		flippedHash[0] = 'a'
	}
	tamperedHash := url.Values{}
	for k, v := range parsed {
		tamperedHash[k] = v
	}
	tamperedHash.Set("hash", string(flippedHash))

	tamperedValue := url.Values{}
	for k, v := range parsed {
		tamperedValue[k] = v
	}
	tamperedValue.Set("auth_date", "1700000001")

	noHash := url.Values{}
	for k, v := range parsed {
		if k != "hash" {
			noHash[k] = v
		}
	}

	tests := []struct {
		desc     string
		initData string
		token    string
		reason   string
	}{
		{"missing hash", noHash.Encode(), testBotToken, ReasonMissingHash},
		{"empty input", "", testBotToken, ReasonMissingHash},
		{"flipped hash character", tamperedHash.Encode(), testBotToken, ReasonBadSignature},
		{"flipped payload character", tamperedValue.Encode(), testBotToken, ReasonBadSignature},
		{"wrong bot token", valid, "other-token", ReasonBadSignature},
		{"malformed escape", "user=%zz&hash=abc", testBotToken, ReasonMalformed},
	}
	for _, tt := range tests {
		_, err := VerifyInitData(tt.initData, tt.token)
		var authErr *AuthError
		if assert.ErrorAs(t, err, &authErr, tt.desc) {
			assert.Equal(t, tt.reason, authErr.Reason, tt.desc)
		}
	}
}

func TestVerifyInitDataEveryFieldCharacterMatters(t *testing.T) {
	fields := sampleFields()
	for key, value := range fields {
		if value == "" {
			continue
		}
		for i := range value {
			mutated := []byte(value)
			mutated[i] ^= 0x01
			tampered := map[string]string{}
			for k, v := range fields {
				tampered[k] = v
			}
			tampered[key] = string(mutated)

			values := url.Values{}
			for k, v := range tampered {
				values.Set(k, v)
			}
			values.Set("hash", Sign(fields, testBotToken))
			_, err := VerifyInitData(values.Encode(), testBotToken)
			assert.Error(t, err, "%s[%d]", key, i)
		}
	}
}

func TestExtractTgID(t *testing.T) {
	tests := []struct {
		desc   string
		fields map[string]string
		want   int64
		reason string
	}{
		{"numeric id", map[string]string{"user": `{"id":42}`}, 42, ""},
		{"string id", map[string]string{"user": `{"id":"43"}`}, 43, ""},
		{"no user", map[string]string{}, 0, ReasonMissingUser},
		{"bad json", map[string]string{"user": `{id:`}, 0, ReasonMalformedUser},
		{"no id", map[string]string{"user": `{"first_name":"x"}`}, 0, ReasonMissingID},
		{"fractional id", map[string]string{"user": `{"id":4.5}`}, 0, ReasonMissingID},
	}
	for _, tt := range tests {
		got, err := ExtractTgID(tt.fields)
		if tt.reason == "" {
			require.NoError(t, err, tt.desc)
			assert.Equal(t, tt.want, got, tt.desc)
			continue
		}
		var authErr *AuthError
		if assert.ErrorAs(t, err, &authErr, tt.desc) {
			assert.Equal(t, tt.reason, authErr.Reason, tt.desc)
		}
	}
}
