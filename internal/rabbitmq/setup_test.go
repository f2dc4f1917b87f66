package rabbitmq

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/vpn-provisioner/internal/models"
)

func TestNotificationQueues(t *testing.T) {
	queues := NotificationQueues()
	require.Len(t, queues, 1)
	assert.Equal(t, NotifyQueue, queues[0].QueueName)
	assert.ElementsMatch(t, []string{
		string(models.EventProvisioned),
		string(models.EventUpgraded),
		string(models.EventRenewed),
		string(models.EventRepaired),
		string(models.EventDegraded),
		string(models.EventPurged),
	}, queues[0].RoutingKeys)
}
