package redis

import (
	"strings"
	"testing"

	"github.com/redis/go-redis/v9"
)

func TestKeyPrefix(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer rdb.Close()

	tests := []struct {
		prefix string
		want   string
	}{
		{prefix: "", want: "spredd:lock:commit:c1"},
		{prefix: "staging:", want: "staging:lock:commit:c1"},
	}
	for _, tt := range tests {
		c := NewFromClient(rdb, tt.prefix)
		if got := c.key("lock", "commit:c1"); got != tt.want {
			t.Errorf("key() with prefix %q = %q, want %q", tt.prefix, got, tt.want)
		}
	}
}

func TestSlidingWindowScriptEmbedded(t *testing.T) {
	if !strings.Contains(slidingWindowLua, "ZREMRANGEBYSCORE") {
		t.Fatal("sliding window script not embedded")
	}
}
