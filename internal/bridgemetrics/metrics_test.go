package bridgemetrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSetBackendReady(t *testing.T) {
	SetBackendReady("github", true)
	if got := testutil.ToFloat64(BackendStatus.WithLabelValues("github")); got != 1 {
		t.Errorf("BackendStatus[github] = %v, want 1", got)
	}

	SetBackendReady("github", false)
	if got := testutil.ToFloat64(BackendStatus.WithLabelValues("github")); got != 0 {
		t.Errorf("BackendStatus[github] = %v, want 0", got)
	}
}

func TestCatalogRebuildsTotal(t *testing.T) {
	before := testutil.ToFloat64(CatalogRebuildsTotal)
	CatalogRebuildsTotal.Inc()
	after := testutil.ToFloat64(CatalogRebuildsTotal)
	if after != before+1 {
		t.Errorf("CatalogRebuildsTotal did not increment: before=%v after=%v", before, after)
	}
}
