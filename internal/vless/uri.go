// Package vless собирает ссылки VLESS/Reality для клиентских приложений.
package vless

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"vpn-subscription-backend/internal/db"
)

var (
	ErrUnsupportedProtocol = errors.New("unsupported protocol")
	ErrUnsupportedNetwork  = errors.New("unsupported network")
	ErrInvalidPort         = errors.New("port out of range")
)

// MissingFieldError перечисляет все незаполненные обязательные поля сервера.
type MissingFieldError struct {
	ServerID uint
	Fields   []string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("server %d: missing required fields: %s", e.ServerID, strings.Join(e.Fields, ", "))
}

var networks = map[string]bool{"tcp": true, "ws": true, "xhttp": true}

// IsConfigError проверяет, вызвана ли err некорректными данными сервера.
func IsConfigError(err error) bool {
	var missing *MissingFieldError
	return errors.Is(err, ErrUnsupportedProtocol) ||
		errors.Is(err, ErrUnsupportedNetwork) ||
		errors.Is(err, ErrInvalidPort) ||
		errors.As(err, &missing)
}

// BuildURI собирает ссылку vless:// для сервера с clientUUID в качестве id.
func BuildURI(server db.Server, clientUUID string) (string, error) {
	if server.Protocol != db.ProtocolVLESS {
		return "", fmt.Errorf("server %d: %w: %q", server.ID, ErrUnsupportedProtocol, server.Protocol)
	}
	sni := ""
	if server.SNI != nil {
		sni = *server.SNI
	}

	var missing []string
	for _, f := range []struct {
		name  string
		empty bool
	}{
		{"host", server.Host == ""},
		{"port", server.Port == 0},
		{"network", server.Network == ""},
		{"public_key", server.PublicKey == ""},
		{"sni", sni == ""},
		{"short_id", server.ShortID == ""},
	} {
		if f.empty {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return "", &MissingFieldError{ServerID: server.ID, Fields: missing}
	}
	if !networks[server.Network] {
		return "", fmt.Errorf("server %d: %w: %q", server.ID, ErrUnsupportedNetwork, server.Network)
	}
	if server.Port < 1 || server.Port > 65535 {
		return "", fmt.Errorf("server %d: %w: %d", server.ID, ErrInvalidPort, server.Port)
	}

	q := query{
		{"encryption", "none"},
		{"security", "reality"},
		{"pbk", server.PublicKey},
		{"sid", server.ShortID},
		{"sni", sni},
		{"fp", "chrome"},
		{"type", server.Network},
	}
	if server.Network == "ws" || server.Network == "xhttp" {
		q = append(q, param{"host", sni}, param{"path", "/"})
	}

	label := server.CountryCode
	if label == "" {
		label = server.Host
	}

	var b strings.Builder
	b.WriteString("vless://")
	b.WriteString(clientUUID)
	b.WriteByte('@')
	b.WriteString(hostPort(server.Host, server.Port))
	b.WriteByte('?')
	b.WriteString(q.encode())
	b.WriteByte('#')
	b.WriteString(strings.ToUpper(label))
	return b.String(), nil
}

type param struct {
	key, value string
}

// query сохраняет порядок параметров, url.Values их сортирует.
type query []param

func (q query) encode() string {
	parts := make([]string, 0, len(q))
	for _, p := range q {
		parts = append(parts, url.QueryEscape(p.key)+"="+url.QueryEscape(p.value))
	}
	return strings.Join(parts, "&")
}

func hostPort(host string, port int) string {
	if strings.Contains(host, ":") && !strings.HasPrefix(host, "[") {
		host = "[" + host + "]"
	}
	return host + ":" + strconv.Itoa(port)
}
