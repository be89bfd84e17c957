package backend

import (
	"testing"

	"github.com/sop-txmanager/dynatx"
)

func TestNewClientRejectsUnknownBackend(t *testing.T) {
	_, err := NewClient(dynatx.Config{Backend: "filesystem"}.WithDefaults())
	if err == nil {
		t.Fatal("expected an error for an unrecognized backend")
	}
}

func TestNewClientDefaultsToDynamoDB(t *testing.T) {
	c, err := NewClient(dynatx.Config{}.WithDefaults())
	if err != nil {
		t.Fatalf("unexpected error constructing the default backend: %v", err)
	}
	if c == nil {
		t.Fatal("expected a non-nil client")
	}
}
