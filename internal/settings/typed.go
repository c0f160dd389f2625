package settings

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/tg-ingest/internal/ingest"
)

// Telegram assembles the platform credentials. It fails fast with
// ingest.ErrConfigIncomplete naming every missing key.
func Telegram(s *Snapshot) (ingest.TelegramConfig, error) {
	cfg := ingest.TelegramConfig{
		APIHash:           s.String(KeyAPIHash, ""),
		Phone:             s.String(KeyPhone, ""),
		SessionName:       s.String(KeySessionName, DefaultSessionName),
		TwoFactorPassword: s.String(KeyTwoFactorPassword, ""),
	}
	var missing []string
	rawID := s.String(KeyAPIID, "")
	if rawID == "" {
		missing = append(missing, KeyAPIID)
	} else {
		id, err := strconv.Atoi(rawID)
		if err != nil || id <= 0 {
			return ingest.TelegramConfig{}, fmt.Errorf("%w: %s is not a positive integer", ingest.ErrConfigIncomplete, KeyAPIID)
		}
		cfg.APIID = id
	}
	if cfg.APIHash == "" {
		missing = append(missing, KeyAPIHash)
	}
	if cfg.Phone == "" {
		missing = append(missing, KeyPhone)
	}
	if len(missing) > 0 {
		return ingest.TelegramConfig{}, fmt.Errorf("%w: missing %s", ingest.ErrConfigIncomplete, strings.Join(missing, ", "))
	}
	return cfg, nil
}

// Cycle assembles the per-cycle view. Targets are left empty; the channel
// fetcher parses them from Channels so that parsing rules live with it.
func Cycle(s *Snapshot, fallbackInterval time.Duration) (ingest.CycleConfig, string) {
	blocked := make(map[string]struct{})
	for _, tag := range s.List(KeyBlockedTags, nil) {
		blocked[tag] = struct{}{}
	}
	interval := fallbackInterval
	if minutes := s.Int(KeyInterval, 0); minutes > 0 {
		interval = time.Duration(minutes) * time.Minute
	}
	retention := s.Int(KeyRetentionDays, DefaultRetentionDays)
	if retention <= 0 {
		retention = DefaultRetentionDays
	}
	quality := s.Int(KeyImageQuality, DefaultImageQuality)
	if quality < 1 || quality > 100 {
		quality = DefaultImageQuality
	}
	cfg := ingest.CycleConfig{
		BlockedTags:   blocked,
		RetentionDays: retention,
		DefaultLimit:  s.Int(KeyDefaultLimit, DefaultLimit),
		ScrapeLimit:   s.Int(KeyScrapeLimit, 0),
		Interval:      interval,
		Image: ingest.ImageConfig{
			UploadDir: s.String(KeyImageDir, DefaultImageDir),
			Quality:   quality,
			Format:    strings.ToLower(s.String(KeyImageFormat, DefaultImageFormat)),
			HostURL:   s.String(KeyHostURL, DefaultHostURL),
			HostPort:  s.String(KeyHostPort, DefaultHostPort),
			HostPass:  s.String(KeyHostPass, DefaultHostPass),
		},
	}
	channels, _ := s.Raw(KeyChannels)
	return cfg, channels
}

// GlobalLimit resolves the per-target default: scrape_limit, then default_limit, then 25.
func GlobalLimit(cfg ingest.CycleConfig) int {
	if cfg.ScrapeLimit > 0 {
		return cfg.ScrapeLimit
	}
	if cfg.DefaultLimit > 0 {
		return cfg.DefaultLimit
	}
	return DefaultLimit
}
