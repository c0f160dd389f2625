package ingest

import "time"

// TelegramConfig carries the platform credentials for one cycle.
type TelegramConfig struct {
	APIID             int
	APIHash           string
	Phone             string
	SessionName       string
	TwoFactorPassword string
}

// ImageConfig controls the transcode and upload stages.
type ImageConfig struct {
	UploadDir string
	Quality   int
	Format    string
	// HostURL is the public base URL used to build returned image links.
	HostURL string
	// HostPort is the internal port of the image host API.
	HostPort string
	// HostPass is sent as the "p" cookie unless it is empty or "none".
	HostPass string
}

// CycleConfig is the typed view of runtime settings used by one cycle.
type CycleConfig struct {
	Targets       []ChannelTarget
	BlockedTags   map[string]struct{}
	RetentionDays int
	DefaultLimit  int
	ScrapeLimit   int
	Interval      time.Duration
	Image         ImageConfig
}
