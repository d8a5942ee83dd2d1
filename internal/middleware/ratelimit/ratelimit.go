package ratelimit

import (
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Limiter throttles the two write surfaces independently. Submissions fan
// out to the LLM, so each client address gets a tight budget; review
// decisions are cheap but keyed per reviewer, so one busy reviewer never
// consumes another's budget. Read and health routes pass through.
type Limiter struct {
	mu      sync.RWMutex
	buckets map[string]*bucket

	submitBudget budget
	decideBudget budget

	logger        *zap.Logger
	cleanupTicker *time.Ticker
}

type budget struct {
	max    int
	refill time.Duration
}

type bucket struct {
	mu         sync.Mutex
	tokens     int
	lastRefill time.Time
}

type Config struct {
	SubmitPerMinute int
	DecidePerMinute int
	Window          time.Duration
	Logger          *zap.Logger
}

func New(cfg Config) *Limiter {
	if cfg.SubmitPerMinute == 0 {
		cfg.SubmitPerMinute = 30
	}
	if cfg.DecidePerMinute == 0 {
		cfg.DecidePerMinute = 120
	}
	if cfg.Window == 0 {
		cfg.Window = time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	l := &Limiter{
		buckets: make(map[string]*bucket),
		submitBudget: budget{
			max:    cfg.SubmitPerMinute,
			refill: cfg.Window / time.Duration(cfg.SubmitPerMinute),
		},
		decideBudget: budget{
			max:    cfg.DecidePerMinute,
			refill: cfg.Window / time.Duration(cfg.DecidePerMinute),
		},
		logger:        cfg.Logger,
		cleanupTicker: time.NewTicker(5 * time.Minute),
	}

	go l.cleanup()

	return l
}

func (l *Limiter) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		key, b, limited := l.classify(c)
		if !limited {
			return c.Next()
		}

		if !l.allow(key, b) {
			l.logger.Warn("Rate limit exceeded",
				zap.String("key", key),
				zap.String("ip", c.IP()),
				zap.String("path", c.Path()),
			)
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Rate limit exceeded. Please try again later.",
			})
		}

		return c.Next()
	}
}

// classify picks the budget for a request. Decisions are keyed by the
// reviewer header, falling back to the client address when it is absent.
func (l *Limiter) classify(c *fiber.Ctx) (string, budget, bool) {
	path := c.Path()

	switch {
	case strings.HasSuffix(path, "/submit"):
		return "submit:" + c.IP(), l.submitBudget, true
	case strings.HasSuffix(path, "/decide"):
		key := c.Get("X-Reviewer-ID")
		if key == "" {
			key = c.IP()
		}
		return "decide:" + key, l.decideBudget, true
	}

	return "", budget{}, false
}

func (l *Limiter) allow(key string, b budget) bool {
	l.mu.RLock()
	bkt, exists := l.buckets[key]
	l.mu.RUnlock()

	if !exists {
		l.mu.Lock()
		bkt, exists = l.buckets[key]
		if !exists {
			bkt = &bucket{
				tokens:     b.max,
				lastRefill: time.Now(),
			}
			l.buckets[key] = bkt
		}
		l.mu.Unlock()
	}

	bkt.mu.Lock()
	defer bkt.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(bkt.lastRefill)
	tokensToAdd := int(elapsed / b.refill)

	if tokensToAdd > 0 {
		bkt.tokens += tokensToAdd
		if bkt.tokens > b.max {
			bkt.tokens = b.max
		}
		bkt.lastRefill = now
	}

	if bkt.tokens > 0 {
		bkt.tokens--
		return true
	}

	return false
}

func (l *Limiter) cleanup() {
	for range l.cleanupTicker.C {
		l.mu.Lock()
		now := time.Now()
		for key, bkt := range l.buckets {
			bkt.mu.Lock()
			if now.Sub(bkt.lastRefill) > 10*time.Minute {
				delete(l.buckets, key)
			}
			bkt.mu.Unlock()
		}
		l.mu.Unlock()
	}
}

func (l *Limiter) Stop() {
	l.cleanupTicker.Stop()
}
