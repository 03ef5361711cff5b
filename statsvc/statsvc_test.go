package statsvc

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/chratos-network/core/wire"
)

func TestIncIncrementsMessageCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.Inc(wire.KindPublish, "ok")
	r.Inc(wire.KindPublish, "ok")
	r.Inc(wire.KindConfirmAck, "bad_signature")

	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	var found bool
	for _, mf := range metrics {
		if mf.GetName() != "chratos_messages_total" {
			continue
		}
		for _, m := range mf.Metric {
			labels := map[string]string{}
			for _, l := range m.Label {
				labels[l.GetName()] = l.GetValue()
			}
			if labels["kind"] == "publish" && labels["outcome"] == "ok" {
				found = true
				if got := m.Counter.GetValue(); got != 2 {
					t.Fatalf("publish/ok counter = %v, want 2", got)
				}
			}
		}
	}
	if !found {
		t.Fatalf("expected a publish/ok counter series")
	}
}

func TestIncVoteAndIncElection(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)
	r.IncVote("replay")
	r.IncElection("confirmed")

	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	names := map[string]bool{}
	for _, mf := range metrics {
		names[mf.GetName()] = true
	}
	if !names["chratos_votes_total"] || !names["chratos_elections_total"] {
		t.Fatalf("expected vote and election counter families to be registered, got %v", names)
	}
}

func TestServerExposesMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)
	r.Inc(wire.KindKeepalive, "ok")

	mux := NewServer("127.0.0.1:0", reg, nil).mux
	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "chratos_messages_total") {
		t.Fatalf("expected metrics body to mention chratos_messages_total")
	}
}
