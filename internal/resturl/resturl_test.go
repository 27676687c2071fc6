package resturl

import "testing"

func TestDashboard(t *testing.T) {
	origin := Origin{Scheme: "https", Host: "app.relaykit.example"}
	got, err := Dashboard(origin, "send-invoice", "txn_123")
	if err != nil {
		t.Fatalf("Dashboard: %v", err)
	}
	want := "https://app.relaykit.example/dashboard/actions/send-invoice/transactions/txn_123"
	if got != want {
		t.Fatalf("Dashboard = %q, want %q", got, want)
	}
}

func TestCallback(t *testing.T) {
	origin := Origin{Scheme: "https", Host: "api.relaykit.example"}
	got, err := Callback(origin, "host-abc", "send-invoice")
	if err != nil {
		t.Fatalf("Callback: %v", err)
	}
	want := "https://api.relaykit.example/api/hosts/host-abc/actions/send-invoice/complete"
	if got != want {
		t.Fatalf("Callback = %q, want %q", got, want)
	}
}
