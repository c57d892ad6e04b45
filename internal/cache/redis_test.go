package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func TestConnectAcceptsURLAndAddress(t *testing.T) {
	mr := miniredis.RunT(t)

	for _, target := range []string{mr.Addr(), "redis://" + mr.Addr() + "/0"} {
		client, err := Connect(context.Background(), target)
		if err != nil {
			t.Fatalf("connect %q: %v", target, err)
		}
		if errSet := client.Set(context.Background(), "k", "v", 0).Err(); errSet != nil {
			t.Fatalf("set via %q: %v", target, errSet)
		}
		_ = client.Close()
	}
}

func TestConnectRejectsEmptyAndUnreachable(t *testing.T) {
	if _, err := Connect(context.Background(), " "); err == nil {
		t.Fatalf("expected error for empty url")
	}
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	if _, err := Connect(context.Background(), addr); err == nil {
		t.Fatalf("expected ping failure for closed server")
	}
}
