package settings

// Keys read from the system_config table.
const (
	KeyAPIID             = "telegram_api_id"
	KeyAPIHash           = "telegram_api_hash"
	KeyPhone             = "telegram_phone"
	KeySessionName       = "telegram_session_name"
	KeyTwoFactorPassword = "telegram_two_factor_password"

	KeyChannels      = "scrape_channels"
	KeyScrapeLimit   = "scrape_limit"
	KeyDefaultLimit  = "default_limit"
	KeyBlockedTags   = "blocked_tags"
	KeyRetentionDays = "retention_days"
	KeyInterval      = "interval_minutes"

	KeyImageDir     = "image_upload_dir"
	KeyImageQuality = "image_compression_quality"
	KeyImageFormat  = "image_compression_format"
	KeyHostURL      = "tgstate_url"
	KeyHostPort     = "tgstate_port"
	KeyHostPass     = "tgstate_pass"

	KeyVerificationRequired  = "telegram_verification_required"
	KeyVerificationCode      = "telegram_verification_code"
	KeyVerificationSubmitted = "telegram_verification_submitted"
	KeySessionValid          = "telegram_session_valid"

	KeyPasswordRequired  = "telegram_password_required"
	KeyPassword          = "telegram_password"
	KeyPasswordSubmitted = "telegram_password_submitted"
)

// Fallbacks applied when a key is absent or unparsable.
const (
	DefaultSessionName   = "tg2em_scraper"
	DefaultRetentionDays = 7
	DefaultLimit         = 25
	DefaultImageDir      = "./images"
	DefaultImageQuality  = 50
	DefaultImageFormat   = "webp"
	DefaultHostURL       = "http://localhost:8088"
	DefaultHostPort      = "8088"
	DefaultHostPass      = "none"

	// DefaultIntervalMinutes is used when neither the datastore nor bootstrap config sets one.
	DefaultIntervalMinutes = 30
)
