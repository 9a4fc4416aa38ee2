package config

// RateLimitConfig contains rate limiting settings for the public endpoints.
type RateLimitConfig struct {
	// Per-IP rate limiting across every route
	PerIPEnabled    bool    `env:"RATELIMIT_PER_IP_ENABLED" env-default:"true"`
	PerIPCapacity   int     `env:"RATELIMIT_PER_IP_CAPACITY" env-default:"100"`
	PerIPRefillRate float64 `env:"RATELIMIT_PER_IP_REFILL_RATE" env-default:"1.67"` // ~100 per minute

	// Signup endpoints: 5 per 5 minutes
	SignupEnabled    bool    `env:"RATELIMIT_SIGNUP_ENABLED" env-default:"true"`
	SignupCapacity   int     `env:"RATELIMIT_SIGNUP_CAPACITY" env-default:"5"`
	SignupRefillRate float64 `env:"RATELIMIT_SIGNUP_REFILL_RATE" env-default:"0.017"`

	// Token and code verification endpoints: 10 per minute, limits code guessing
	VerifyEnabled    bool    `env:"RATELIMIT_VERIFY_ENABLED" env-default:"true"`
	VerifyCapacity   int     `env:"RATELIMIT_VERIFY_CAPACITY" env-default:"10"`
	VerifyRefillRate float64 `env:"RATELIMIT_VERIFY_REFILL_RATE" env-default:"0.167"`

	IncludeHeaders bool `env:"RATELIMIT_INCLUDE_HEADERS" env-default:"true"`
}

func (r RateLimitConfig) validate() ValidationErrors {
	var errs ValidationErrors
	check := func(enabled bool, prefix string, capacity int, rate float64) {
		if !enabled {
			return
		}
		if e := RequirePositive(prefix+"_CAPACITY", capacity); e != nil {
			errs = append(errs, *e)
		}
		if rate <= 0 {
			errs = append(errs, ValidationError{Field: prefix + "_REFILL_RATE", Message: "must be positive"})
		}
	}
	check(r.PerIPEnabled, "RATELIMIT_PER_IP", r.PerIPCapacity, r.PerIPRefillRate)
	check(r.SignupEnabled, "RATELIMIT_SIGNUP", r.SignupCapacity, r.SignupRefillRate)
	check(r.VerifyEnabled, "RATELIMIT_VERIFY", r.VerifyCapacity, r.VerifyRefillRate)
	return errs
}
