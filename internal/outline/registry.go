package outline

import (
	"fmt"
	"sort"

	"github.com/magabrotheeeer/vpn-provisioner/internal/config"
	"github.com/magabrotheeeer/vpn-provisioner/internal/errs"
)

// Registry хранит по клиенту на каждый сконфигурированный сервер.
type Registry struct {
	clients map[string]KeyManager
	ids     []string
}

// NewRegistry строит клиентов для всех серверов из конфига.
// Ошибка любого сервера (адрес, сертификат) возвращается как errs.ErrConfiguration.
func NewRegistry(servers map[string]config.Server, upstream config.Upstream, observer Observer) (*Registry, error) {
	const op = "outline.NewRegistry"
	clients := make(map[string]KeyManager, len(servers))
	for id, s := range servers {
		endpoint, err := ParseEndpoint(s.AccessURL, s.Token)
		if err != nil {
			return nil, fmt.Errorf("%s: server %s: %w", op, id, err)
		}
		pin, err := LoadPin(s)
		if err != nil {
			return nil, fmt.Errorf("%s: server %s: %w", op, id, err)
		}
		httpClient, err := NewPinnedHTTPClient(pin, upstream.Timeout)
		if err != nil {
			return nil, fmt.Errorf("%s: server %s: %w", op, id, err)
		}
		clients[id] = NewClient(id, endpoint, httpClient, upstream.Timeout, observer)
	}
	return NewStaticRegistry(clients), nil
}

// NewStaticRegistry собирает реестр из готовых клиентов.
func NewStaticRegistry(clients map[string]KeyManager) *Registry {
	ids := make([]string, 0, len(clients))
	for id := range clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return &Registry{clients: clients, ids: ids}
}

// Client возвращает клиент сервера. Неизвестный id — ошибка конфигурации.
func (r *Registry) Client(serverID string) (KeyManager, error) {
	c, ok := r.clients[serverID]
	if !ok {
		return nil, fmt.Errorf("outline.Registry.Client: unknown server %q: %w", serverID, errs.ErrConfiguration)
	}
	return c, nil
}

// ServerIDs возвращает идентификаторы серверов по возрастанию.
func (r *Registry) ServerIDs() []string {
	out := make([]string, len(r.ids))
	copy(out, r.ids)
	return out
}
