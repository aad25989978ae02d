package domain

import (
	"strings"
	"testing"
)

func TestStatusTerminal(t *testing.T) {
	tests := []struct {
		status   Status
		terminal bool
	}{
		{Pending, false},
		{Running, false},
		{Completed, true},
		{Failed, true},
	}
	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.terminal {
			t.Errorf("%s.Terminal() = %v, want %v", tt.status, got, tt.terminal)
		}
	}
}

func TestStatusValid(t *testing.T) {
	if !Running.Valid() {
		t.Error("running reported invalid")
	}
	if Status("leased").Valid() {
		t.Error("unknown status reported valid")
	}
}

func TestAdmissionRejectedErrorCarriesLimit(t *testing.T) {
	err := &AdmissionRejectedError{TenantID: "acme", Limit: 5}
	if !strings.Contains(err.Error(), "5") {
		t.Errorf("error %q does not carry the limit", err.Error())
	}
	if !strings.Contains(err.Error(), "acme") {
		t.Errorf("error %q does not name the tenant", err.Error())
	}
}
