package nats

import "testing"

func TestStaticVersionCurrent(t *testing.T) {
	if got := StaticVersion("2025-08-01").Current(); got != "2025-08-01" {
		t.Fatalf("expected pinned tag, got %q", got)
	}
	if got := StaticVersion("").Current(); got != "" {
		t.Fatalf("expected empty tag, got %q", got)
	}
}

func TestVersionFeedCurrentBeforeWatch(t *testing.T) {
	feed := &VersionFeed{}
	feed.current.Store("v0")
	if got := feed.Current(); got != "v0" {
		t.Fatalf("expected initial tag v0, got %q", got)
	}
}
