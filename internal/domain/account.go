package domain

import (
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

type AccountID string

type Mode string

const (
	ModeFast  Mode = "fast"
	ModeRelax Mode = "relax"
	ModeTurbo Mode = "turbo"
)

func ParseMode(raw string) Mode {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case ModeRelax:
		return ModeRelax
	case ModeTurbo:
		return ModeTurbo
	case "":
		return ""
	default:
		return ModeFast
	}
}

type Account struct {
	ID        AccountID
	Name      string
	Token     string
	ServerID  string
	ChannelID string
	Mode      Mode
	Usage     Usage
	Profile   Profile
}

// Key is the stable identifier used to match declared and persisted accounts.
func (a Account) Key() string {
	return strings.TrimSpace(a.ChannelID)
}

// TokenFingerprint identifies the token in logs without exposing it.
func (a Account) TokenFingerprint() string {
	if a.Token == "" {
		return ""
	}
	return strconv.FormatUint(xxhash.Sum64String(a.Token), 16)
}

func (a Account) DisplayName() string {
	if name := strings.TrimSpace(a.Name); name != "" {
		return name
	}
	if key := a.Key(); key != "" {
		return key
	}
	return string(a.ID)
}

type Usage struct {
	LastUsedAt time.Time
	UseCount   int64
}

// Touch records one use at now.
func (u Usage) Touch(now time.Time) Usage {
	return Usage{LastUsedAt: now, UseCount: u.UseCount + 1}
}

const ProfilePaidCreditsBalance = "paid_credits_balance"

// Profile holds provider-specific fields reported by the upstream.
type Profile map[string]any

func (p Profile) PaidCreditsBalance() (float64, bool) {
	raw, ok := p[ProfilePaidCreditsBalance]
	if !ok {
		return 0, false
	}

	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

func (p Profile) Clone() Profile {
	if p == nil {
		return nil
	}
	out := make(Profile, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
