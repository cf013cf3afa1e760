package metrics

import (
	"errors"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
)

func TestHelpersAreSafeBeforeAndAfterInit(t *testing.T) {
	IncLedgerMutation("create", nil)
	ObserveBalance(nil, time.Millisecond)

	Init()
	Init()

	IncLedgerMutation("create", nil)
	IncLedgerMutation("create", errors.New("boom"))
	IncBalanceCache(true)
	IncEntitlementTransition("PREMIUM")
	IncPurchaseOutcome("succeeded")
	IncAMQPMessage(DirectionPublish, nil)
	IncHTTPRequest("GET", 200)
	IncRateLimited()

	var m dto.Metric
	if err := ledgerMutations.WithLabelValues("create", ResultError).Write(&m); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := m.GetCounter().GetValue(); got != 1 {
		t.Fatalf("error counter = %v, want 1", got)
	}
}
