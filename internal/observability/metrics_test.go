package observability

import (
	"testing"
	"time"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("POST", "/v1/execute", 200, 12*time.Millisecond)
	RecordExecution("ssh", "ok", 24*time.Millisecond)
	RecordRetryAttempt("docker")

	PoolConnectionOpened()
	PoolConnectionClosed()
	PoolWaiterQueued()
	PoolWaiterReleased()
	TunnelOpened()
	TunnelClosed()
}
