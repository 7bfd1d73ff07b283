package dispatcher

import "time"

// Config is the provider surface. Every field comes from configuration;
// nothing about the provider's contract is assumed at build time.
type Config struct {
	BaseURL       string   // explicit base override, tried first
	APIBase       string   // alternate API base
	DefaultBase   string   // deployment default
	FallbackBases []string // well-known public hosts, tried last
	CustomURL     string   // full send URL; disables base/path negotiation
	SendPath      string   // path override, tried before the catalog

	InstanceID   string
	Token        string
	BearerToken  string
	SenderNumber string

	ChatIDMode bool
	DryRun     bool

	AttemptTimeout time.Duration // per request
	Budget         time.Duration // whole negotiation
	MaxAttempts    int           // 0 = no cap

	BreakerThreshold int           // consecutive exhausted sends before opening
	BreakerOpenFor   time.Duration // cool-down while open
}

// DefaultBudget is the negotiation budget used when Config.Budget is unset.
const DefaultBudget = 45 * time.Second

func (c Config) withDefaults() Config {
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 8 * time.Second
	}
	if c.Budget <= 0 {
		c.Budget = DefaultBudget
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = 5
	}
	if c.BreakerOpenFor <= 0 {
		c.BreakerOpenFor = time.Minute
	}
	return c
}
