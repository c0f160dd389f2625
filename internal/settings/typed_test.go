package settings

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/tg-ingest/internal/ingest"
)

func TestTelegramRequiresCredentials(t *testing.T) {
	t.Parallel()

	_, err := Telegram(NewSnapshot(map[string]string{KeyAPIHash: "hash"}, time.Time{}))
	require.ErrorIs(t, err, ingest.ErrConfigIncomplete)
	require.Contains(t, err.Error(), KeyAPIID)
	require.Contains(t, err.Error(), KeyPhone)
	require.NotContains(t, err.Error(), KeyAPIHash)

	_, err = Telegram(NewSnapshot(map[string]string{
		KeyAPIID: "abc", KeyAPIHash: "hash", KeyPhone: "+1",
	}, time.Time{}))
	require.ErrorIs(t, err, ingest.ErrConfigIncomplete)

	cfg, err := Telegram(NewSnapshot(map[string]string{
		KeyAPIID: "12345", KeyAPIHash: "hash", KeyPhone: "+15550100",
	}, time.Time{}))
	require.NoError(t, err)
	require.Equal(t, 12345, cfg.APIID)
	require.Equal(t, DefaultSessionName, cfg.SessionName)
}

func TestCycleAppliesDefaults(t *testing.T) {
	t.Parallel()

	cfg, channels := Cycle(NewSnapshot(map[string]string{
		KeyChannels:     "@one\n-1001234567890",
		KeyBlockedTags:  "foo,bar",
		KeyImageQuality: "400",
		KeyInterval:     "10",
	}, time.Time{}), time.Hour)

	require.Equal(t, "@one\n-1001234567890", channels)
	require.Contains(t, cfg.BlockedTags, "foo")
	require.Contains(t, cfg.BlockedTags, "bar")
	require.Equal(t, DefaultRetentionDays, cfg.RetentionDays)
	require.Equal(t, DefaultImageQuality, cfg.Image.Quality)
	require.Equal(t, "webp", cfg.Image.Format)
	require.Equal(t, "none", cfg.Image.HostPass)
	require.Equal(t, 10*time.Minute, cfg.Interval)
	require.Equal(t, DefaultLimit, GlobalLimit(cfg))
}

func TestGlobalLimitPrefersScrapeLimit(t *testing.T) {
	t.Parallel()

	require.Equal(t, 40, GlobalLimit(ingest.CycleConfig{ScrapeLimit: 40, DefaultLimit: 10}))
	require.Equal(t, 10, GlobalLimit(ingest.CycleConfig{DefaultLimit: 10}))
	require.Equal(t, 25, GlobalLimit(ingest.CycleConfig{}))
}
