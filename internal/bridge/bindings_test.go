package bridge

import (
	"context"
	"errors"
	"testing"

	"github.com/haasonsaas/agentbridge/internal/sessions"
	"github.com/haasonsaas/agentbridge/pkg/models"
)

type failingBindingStore struct {
	sessions.BindingStore
}

func (failingBindingStore) SaveBinding(context.Context, *models.ChannelBinding) error {
	return errors.New("disk full")
}

func TestBindingRegistry_PersistAndRebuild(t *testing.T) {
	ctx := context.Background()
	store := sessions.NewMemoryStore()

	reg := NewBindingRegistry(models.ChannelTelegram, store)
	if err := reg.Bind(ctx, "42", "s1"); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	if err := reg.Bind(ctx, "42", "s2"); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	if err := reg.Bind(ctx, "43", "s3"); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	if id, _ := reg.Lookup("42"); id != "s2" {
		t.Fatalf("Lookup(42) = %q, want s2", id)
	}

	restarted := NewBindingRegistry(models.ChannelTelegram, store)
	if _, ok := restarted.Lookup("42"); ok {
		t.Fatal("registry should start empty before Rebuild")
	}
	n, err := restarted.Rebuild(ctx)
	if err != nil || n != 2 {
		t.Fatalf("Rebuild() = %d, %v", n, err)
	}
	if id, _ := restarted.Lookup("42"); id != "s2" {
		t.Fatalf("rebuilt Lookup(42) = %q", id)
	}

	other := NewBindingRegistry(models.ChannelDiscord, store)
	if n, _ := other.Rebuild(ctx); n != 0 {
		t.Fatalf("other channel rebuilt %d bindings", n)
	}

	if err := restarted.Unbind(ctx, "43"); err != nil {
		t.Fatalf("Unbind() error = %v", err)
	}
	if err := restarted.Unbind(ctx, "43"); err != nil {
		t.Fatalf("second Unbind() error = %v", err)
	}
	if restarted.Len() != 1 {
		t.Fatalf("Len() = %d", restarted.Len())
	}
}

func TestBindingRegistry_WithoutStore(t *testing.T) {
	ctx := context.Background()
	reg := NewBindingRegistry(models.ChannelConsole, nil)
	if err := reg.Bind(ctx, "console", "s1"); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	if n, err := reg.Rebuild(ctx); n != 0 || err != nil {
		t.Fatalf("Rebuild() = %d, %v", n, err)
	}
	if id, ok := reg.Lookup("console"); !ok || id != "s1" {
		t.Fatalf("Lookup() = %q, %v", id, ok)
	}
}

func TestBindingRegistry_SaveFailureLeavesMapUnchanged(t *testing.T) {
	reg := NewBindingRegistry(models.ChannelSlack, failingBindingStore{})
	if err := reg.Bind(context.Background(), "C1", "s1"); err == nil {
		t.Fatal("expected save error")
	}
	if _, ok := reg.Lookup("C1"); ok {
		t.Fatal("binding recorded despite save failure")
	}
}
