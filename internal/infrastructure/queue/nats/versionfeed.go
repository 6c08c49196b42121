package nats

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
)

// VersionFeed tracks the active index/model generation tag. The indexing
// pipeline announces a new generation on a NATS subject after a reindex;
// swapping the tag changes every cache key, so stale cached rankings age out
// without an explicit flush.
type VersionFeed struct {
	conn    *nats.Conn
	subject string
	current atomic.Value
}

type Options struct {
	ConnectTimeout time.Duration
	ReconnectWait  time.Duration
	MaxReconnects  int
}

func NewVersionFeed(url, subject, initial string, options Options) (*VersionFeed, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}

	conn, err := nats.Connect(
		url,
		nats.Name("medkg-retrieval"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	feed := &VersionFeed{conn: conn, subject: subject}
	feed.current.Store(initial)
	return feed, nil
}

// Current returns the active generation tag.
func (f *VersionFeed) Current() string {
	tag, _ := f.current.Load().(string)
	return tag
}

// Watch subscribes to generation announcements and blocks until ctx is done.
func (f *VersionFeed) Watch(ctx context.Context) error {
	sub, err := f.conn.Subscribe(f.subject, func(msg *nats.Msg) {
		tag := strings.TrimSpace(string(msg.Data))
		if tag == "" {
			return
		}
		previous := f.Current()
		if tag == previous {
			return
		}
		f.current.Store(tag)
		slog.Info("index_generation_changed", "from", previous, "to", tag)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := f.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	return nil
}

func (f *VersionFeed) Close() {
	if f.conn != nil {
		f.conn.Close()
	}
}

// StaticVersion satisfies the version source contract without a feed, for
// deployments where generations are pinned through configuration.
type StaticVersion string

func (v StaticVersion) Current() string { return string(v) }
