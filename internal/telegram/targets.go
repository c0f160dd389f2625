package telegram

import (
	"strconv"
	"strings"

	"github.com/JakeFAU/tg-ingest/internal/ingest"
)

// ParseTargets turns the multiline scrape_channels value into targets. Each
// non-blank line is a channel identifier optionally followed by whitespace and
// a positive per-line limit; lines without one use globalLimit.
//
//	https://t.me/name   link
//	@name               handle
//	-1001234567890      channel id
//	1234567890          channel id
//	name                handle "@name"
func ParseTargets(raw string, globalLimit int) []ingest.ChannelTarget {
	var out []ingest.ChannelTarget
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, parseTarget(line, globalLimit))
	}
	return out
}

func parseTarget(line string, globalLimit int) ingest.ChannelTarget {
	ident, limit := line, globalLimit
	if fields := strings.Fields(line); len(fields) > 1 {
		if n, err := strconv.Atoi(fields[len(fields)-1]); err == nil && n > 0 {
			ident = strings.Join(fields[:len(fields)-1], " ")
			limit = n
		}
	}

	t := ingest.ChannelTarget{Raw: line, Identifier: ident, Limit: limit}
	switch {
	case strings.HasPrefix(ident, "http"):
		t.Kind = ingest.TargetURL
	case strings.HasPrefix(ident, "@"):
		t.Kind = ingest.TargetHandle
	case strings.HasPrefix(ident, "-"):
		t.Kind = ingest.TargetHandle
		if id, err := strconv.ParseInt(ident, 10, 64); err == nil {
			t.Kind, t.NumericID = ingest.TargetNumericID, id
		}
	default:
		if id, err := strconv.ParseInt(ident, 10, 64); err == nil {
			t.Kind, t.NumericID = ingest.TargetNumericID, id
		} else {
			t.Kind, t.Identifier = ingest.TargetHandle, "@"+ident
		}
	}
	return t
}

// BareChannelID strips the "-100" marker from a full channel id, returning the
// raw channel id used by the platform API.
func BareChannelID(id int64) int64 {
	if id >= 0 {
		return id
	}
	s := strconv.FormatInt(-id, 10)
	if strings.HasPrefix(s, "100") && len(s) > 3 {
		if bare, err := strconv.ParseInt(s[3:], 10, 64); err == nil {
			return bare
		}
	}
	return -id
}
