package tiercache

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tiercache/tiercache/pkg/clock"
)

// Options configures a two-tier cache.
type Options[K comparable, V any] struct {
	// Name selects <user-cache-dir>/<Name> as the backing directory when
	// Directory is empty.
	Name string

	// Directory, when set, is used verbatim as the backing directory.
	Directory string

	// Filename projects a key to its file name. Defaults to SHA-1 hex of
	// the key's textual projection for string and fmt.Stringer keys.
	Filename func(K) string

	// CountLimit bounds the memory tier's entry count. Zero disables it.
	CountLimit int

	// CostLimit bounds the memory tier's total cost. Zero disables it.
	CostLimit int64

	// SizeLimit is the disk tier's sweeper budget. Defaults to 150 MiB.
	SizeLimit int64

	// ExpirationTimeout ages disk entries out by access date when positive.
	ExpirationTimeout time.Duration

	// Compress stores disk payloads zstd-compressed. Off by default.
	Compress bool

	// Codec converts values to and from bytes for the disk tier. Defaults
	// to JSON. Byte slice values bypass the codec entirely.
	Codec Codec[V]

	// Clock is the time source. Defaults to the system clock.
	Clock clock.Clock

	// Logger receives flush and sweep diagnostics. Defaults to
	// slog.Default().
	Logger *slog.Logger

	// Registerer, when set, registers the cache's Prometheus metrics.
	Registerer prometheus.Registerer

	// MetricsNamespace prefixes the metric names. Defaults to "tiercache".
	MetricsNamespace string
}
