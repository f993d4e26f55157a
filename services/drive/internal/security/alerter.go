// Package security counts audited failures per client IP and flags bursts.
package security

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"filevault/internal/clock"
)

var alertCounterScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// Audit event names.
const (
	EventRegister  = "auth.register"
	EventLogin     = "auth.login"
	EventVerifyOTP = "auth.verify_otp"
	EventGoogle    = "auth.google"
	EventLogout    = "auth.logout"
	EventAuthorize = "auth.authorize"
	EventFileShare = "file.share"
	EventFileLink  = "file.public_link"
	EventFileAcc   = "file.access"
)

// Audit outcomes.
const (
	OutcomeSuccess     = "success"
	OutcomeFail        = "fail"
	OutcomeRateLimited = "rate_limited"
)

// AlertResult contains alert evaluation output.
type AlertResult struct {
	Triggered bool
	Count     int64
	Threshold int64
	Window    time.Duration
}

// AuditAlerter aggregates security events and triggers threshold alerts.
type AuditAlerter struct {
	redisClient redis.Scripter
	prefix      string
	clock       clock.Clock
}

// NewAuditAlerter creates an alerter backed by Redis counters. A nil
// client disables alerting.
func NewAuditAlerter(client redis.Scripter, prefix string, clk clock.Clock) *AuditAlerter {
	if client == nil {
		return nil
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "filevault:alerts"
	}
	return &AuditAlerter{
		redisClient: client,
		prefix:      prefix,
		clock:       clock.OrSystem(clk),
	}
}

// Observe records a security event and returns whether alert threshold is reached.
func (a *AuditAlerter) Observe(ctx context.Context, event, outcome, ip string) (AlertResult, error) {
	result := AlertResult{}
	if a == nil || a.redisClient == nil {
		return result, nil
	}
	threshold, window, ok := alertRule(event, outcome)
	if !ok {
		return result, nil
	}
	ip = strings.TrimSpace(ip)
	if ip == "" {
		ip = "unknown"
	}
	windowMs := window.Milliseconds()
	slot := a.clock.Now().UnixMilli() / windowMs
	key := fmt.Sprintf("%s:%s:%s:%s:%d", a.prefix, sanitizeSegment(event), sanitizeSegment(outcome), sanitizeSegment(ip), slot)
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	count, err := alertCounterScript.Run(ctx, a.redisClient, []string{key}, windowMs).Int64()
	if err != nil {
		return result, err
	}
	result.Count = count
	result.Threshold = threshold
	result.Window = window
	result.Triggered = count >= threshold
	return result, nil
}

func alertRule(event, outcome string) (threshold int64, window time.Duration, ok bool) {
	event = strings.TrimSpace(event)
	outcome = strings.TrimSpace(outcome)
	if outcome == OutcomeRateLimited {
		return 20, time.Minute, true
	}
	if outcome != OutcomeFail {
		return 0, 0, false
	}
	switch event {
	case EventVerifyOTP, EventGoogle:
		return 10, 5 * time.Minute, true
	case EventLogin, EventRegister:
		return 15, 5 * time.Minute, true
	case EventAuthorize, EventFileAcc:
		return 25, 5 * time.Minute, true
	default:
		return 0, 0, false
	}
}

func sanitizeSegment(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}
	replacer := strings.NewReplacer(":", "_", "|", "_", " ", "_")
	return replacer.Replace(in)
}
