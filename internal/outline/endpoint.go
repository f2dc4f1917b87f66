package outline

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/magabrotheeeer/vpn-provisioner/internal/errs"
)

// Endpoint — базовый адрес API сервера ключей и bearer-токен.
type Endpoint struct {
	Base  *url.URL
	Token string
}

// ParseEndpoint разбирает адрес управления сервером.
//
// Адрес вида https://host:port/secret?token=T даёт базу https://host:port/secret
// и токен T. Явно заданный token имеет приоритет над параметром запроса.
func ParseEndpoint(accessURL, token string) (Endpoint, error) {
	const op = "outline.ParseEndpoint"
	u, err := url.Parse(accessURL)
	if err != nil {
		return Endpoint{}, fmt.Errorf("%s: %w: %v", op, errs.ErrConfiguration, err)
	}
	if u.Scheme != "https" || u.Hostname() == "" {
		return Endpoint{}, fmt.Errorf("%s: %w: access url must be https with a host", op, errs.ErrConfiguration)
	}
	if token == "" {
		token = u.Query().Get("token")
	}
	base := &url.URL{
		Scheme: u.Scheme,
		Host:   u.Host,
		Path:   strings.TrimSuffix(u.Path, "/"),
	}
	return Endpoint{Base: base, Token: token}, nil
}

func (e Endpoint) keysURL(parts ...string) string {
	return e.Base.JoinPath(append([]string{"access-keys"}, parts...)...).String()
}
