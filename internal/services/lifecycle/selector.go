package lifecycle

import (
	"fmt"
	"sort"

	"github.com/magabrotheeeer/vpn-provisioner/internal/errs"
)

// ServerSelector выбирает сервер для новой подписки.
type ServerSelector func(serverIDs []string) (string, error)

// FirstServer выбирает лексикографически первый сервер.
// Временное правило до появления балансировки по нагрузке.
func FirstServer(serverIDs []string) (string, error) {
	if len(serverIDs) == 0 {
		return "", fmt.Errorf("lifecycle.FirstServer: no servers configured: %w", errs.ErrConfiguration)
	}
	ids := make([]string, len(serverIDs))
	copy(ids, serverIDs)
	sort.Strings(ids)
	return ids[0], nil
}
