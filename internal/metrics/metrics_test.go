package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func gatherFamilies(t *testing.T) map[string]bool {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	return names
}

func TestRegisterExposesCollectors(t *testing.T) {
	Register()
	Register() // second call must not panic on duplicate registration

	IncSyncAttempt("user", "success")
	SetQueueDepth(3)
	SetOnline(true)
	IncProbe("ok")
	IncReconcileFetch("ok")

	names := gatherFamilies(t)
	for _, want := range []string{
		"chatsync_sync_attempts_total",
		"chatsync_sync_queue_depth",
		"chatsync_remote_online",
		"chatsync_health_probes_total",
		"chatsync_reconcile_fetches_total",
	} {
		if !names[want] {
			t.Fatalf("metric family %s not gatherable from default registry", want)
		}
	}
}
