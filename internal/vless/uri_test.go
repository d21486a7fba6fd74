package vless

import (
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vpn-subscription-backend/internal/db"
)

const clientID = "0b7c7d3e-3a51-4d0e-9d1f-2f6a1c6b9e11"

func strPtr(s string) *string { return &s }

func validServer() db.Server {
	return db.Server{
		ID:          1,
		CountryCode: "de",
		Host:        "de1.example.com",
		Port:        443,
		Protocol:    "vless",
		Network:     "tcp",
		PublicKey:   "Zx+9/pk=",
		SNI:         strPtr("www.microsoft.com"),
		ShortID:     "6ba85179e30d4fc2",
		Enabled:     true,
	}
}

func TestBuildURITCP(t *testing.T) {
	got, err := BuildURI(validServer(), clientID)
	require.NoError(t, err)
	want := "vless://" + clientID + "@de1.example.com:443" +
		"?encryption=none&security=reality&pbk=Zx%2B9%2Fpk%3D&sid=6ba85179e30d4fc2" +
		"&sni=www.microsoft.com&fp=chrome&type=tcp#DE"
	assert.Equal(t, want, got)

	u, err := url.Parse(got)
	require.NoError(t, err)
	assert.Equal(t, "vless", u.Scheme)
	assert.Equal(t, clientID, u.User.Username())
	assert.Equal(t, "443", u.Port())
	assert.Equal(t, "Zx+9/pk=", u.Query().Get("pbk"))
	assert.Equal(t, "DE", u.Fragment)
}

func TestBuildURIParameterOrder(t *testing.T) {
	for _, tt := range []struct {
		network string
		keys    []string
	}{
		{"tcp", []string{"encryption", "security", "pbk", "sid", "sni", "fp", "type"}},
		{"ws", []string{"encryption", "security", "pbk", "sid", "sni", "fp", "type", "host", "path"}},
		{"xhttp", []string{"encryption", "security", "pbk", "sid", "sni", "fp", "type", "host", "path"}},
	} {
		s := validServer()
		s.Network = tt.network
		got, err := BuildURI(s, clientID)
		require.NoError(t, err, tt.network)

		rawQuery := got[strings.Index(got, "?")+1 : strings.Index(got, "#")]
		var keys []string
		for _, pair := range strings.Split(rawQuery, "&") {
			keys = append(keys, strings.SplitN(pair, "=", 2)[0])
		}
		assert.Equal(t, tt.keys, keys, tt.network)
		if tt.network != "tcp" {
			assert.Contains(t, got, "&host=www.microsoft.com&path=%2F#DE")
		}
	}
}

func TestBuildURILabelFallsBackToHost(t *testing.T) {
	s := validServer()
	s.CountryCode = ""
	got, err := BuildURI(s, clientID)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(got, "#DE1.EXAMPLE.COM"))
}

func TestBuildURIUnsupportedProtocolChecksNothingElse(t *testing.T) {
	s := db.Server{Protocol: "vmess"}
	_, err := BuildURI(s, clientID)
	assert.ErrorIs(t, err, ErrUnsupportedProtocol)
	var missing *MissingFieldError
	assert.False(t, errors.As(err, &missing))

	s.Protocol = ""
	_, err = BuildURI(s, clientID)
	assert.ErrorIs(t, err, ErrUnsupportedProtocol)
}

func TestBuildURIMissingFields(t *testing.T) {
	tests := []struct {
		desc   string
		mutate func(*db.Server)
		want   []string
	}{
		{"host", func(s *db.Server) { s.Host = "" }, []string{"host"}},
		{"port", func(s *db.Server) { s.Port = 0 }, []string{"port"}},
		{"nil sni", func(s *db.Server) { s.SNI = nil }, []string{"sni"}},
		{"empty sni", func(s *db.Server) { s.SNI = strPtr("") }, []string{"sni"}},
		{"reality trio", func(s *db.Server) { s.PublicKey = ""; s.SNI = nil; s.ShortID = "" }, []string{"public_key", "sni", "short_id"}},
		{"all", func(s *db.Server) {
			*s = db.Server{Protocol: "vless"}
		}, []string{"host", "port", "network", "public_key", "sni", "short_id"}},
	}
	for _, tt := range tests {
		s := validServer()
		tt.mutate(&s)
		_, err := BuildURI(s, clientID)
		var missing *MissingFieldError
		if assert.ErrorAs(t, err, &missing, tt.desc) {
			assert.Equal(t, tt.want, missing.Fields, tt.desc)
		}
		assert.True(t, IsConfigError(err), tt.desc)
	}
}

func TestBuildURIUnsupportedNetwork(t *testing.T) {
	s := validServer()
	s.Network = "grpc"
	_, err := BuildURI(s, clientID)
	assert.ErrorIs(t, err, ErrUnsupportedNetwork)
	assert.True(t, IsConfigError(err))
}

func TestBuildURIPortRange(t *testing.T) {
	s := validServer()
	s.Port = 70000
	_, err := BuildURI(s, clientID)
	assert.ErrorIs(t, err, ErrInvalidPort)
}

func TestBuildURIIPv6Host(t *testing.T) {
	s := validServer()
	s.Host = "2001:db8::1"
	got, err := BuildURI(s, clientID)
	require.NoError(t, err)
	assert.Contains(t, got, "@[2001:db8::1]:443?")
}

func TestBuildURIDeterministic(t *testing.T) {
	a, err := BuildURI(validServer(), clientID)
	require.NoError(t, err)
	b, err := BuildURI(validServer(), clientID)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestIsConfigErrorOther(t *testing.T) {
	assert.False(t, IsConfigError(errors.New("x")))
}
