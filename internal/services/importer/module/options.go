package module

import (
	"msgvault/internal/platform/config"
)

// Options holds configuration options for the importer service
type Options struct {
	TenantID      string
	BatchSize     int
	Workers       int
	DiscoverLimit int
}

// FromConfig reads the importer options from config with CORE_IMPORT_ prefix
func FromConfig(cfg config.Conf) Options {
	im := cfg.Prefix("CORE_IMPORT_")
	return Options{
		TenantID:      im.MustString("TENANT"),
		BatchSize:     im.MayInt("BATCH", 200),
		Workers:       im.MayInt("WORKERS", 4),
		DiscoverLimit: im.MayInt("DISCOVER_LIMIT", 500),
	}
}
