package metadata

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"loft/internal/server/blob"
)

// Defaults for stored configuration fields left at zero.
const (
	DefaultUploadTTL       = 1 * time.Hour
	DefaultDownloadURLTTL  = 15 * time.Minute
	DefaultUploadURLTTL    = 15 * time.Minute
	DefaultBlobGracePeriod = 86400 * time.Second
)

// Config is the client-suppliable part of the stored configuration: the
// storage backend union plus tunables the metadata layer cannot read from
// the environment. The freeze flag is not part of this struct; it is
// settable only through the administrative channel.
type Config struct {
	Storage                blob.Config `json:"storage"`
	UploadTTLSeconds       int64       `json:"upload_ttl_seconds,omitempty"`
	DownloadURLTTLSeconds  int64       `json:"download_url_ttl_seconds,omitempty"`
	UploadURLTTLSeconds    int64       `json:"upload_url_ttl_seconds,omitempty"`
	BlobGracePeriodSeconds int64       `json:"blob_grace_period_seconds,omitempty"`
}

func (c Config) UploadTTL() time.Duration {
	return secondsOr(c.UploadTTLSeconds, DefaultUploadTTL)
}

func (c Config) DownloadURLTTL() time.Duration {
	return secondsOr(c.DownloadURLTTLSeconds, DefaultDownloadURLTTL)
}

func (c Config) UploadURLTTL() time.Duration {
	return secondsOr(c.UploadURLTTLSeconds, DefaultUploadURLTTL)
}

func (c Config) BlobGracePeriod() time.Duration {
	return secondsOr(c.BlobGracePeriodSeconds, DefaultBlobGracePeriod)
}

func secondsOr(s int64, fallback time.Duration) time.Duration {
	if s <= 0 {
		return fallback
	}
	return time.Duration(s) * time.Second
}

// Checksum returns the identity of a config payload, used to gate idempotent
// re-writes: a client re-supplying unchanged config produces no update.
func Checksum(c Config) string {
	data, err := json.Marshal(c)
	if err != nil {
		// Config contains only marshalable fields; this cannot happen.
		panic(err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// StoredConfig is the persisted configuration row.
type StoredConfig struct {
	Config    Config
	Checksum  string
	FreezeGC  bool
	UpdatedAt time.Time
}
