package config

// RedactedConfig returns a shallow copy of cfg with sensitive fields replaced
// by the redaction placeholder "***". Use this when logging or printing the
// active configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	// Wallet
	redact(&out.Wallet.PrivateKey)
	redact(&out.Wallet.KeyPassword)

	// Polymarket L2 credentials
	redact(&out.Polymarket.ApiKey)
	redact(&out.Polymarket.ApiSecret)
	redact(&out.Polymarket.ApiPassphrase)

	redact(&out.Supabase.DSN)
	redact(&out.Supabase.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Server.APIKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices so callers cannot mutate the original through the redacted
	// copy.
	out.Notify.Events = cloneStrings(cfg.Notify.Events)
	out.Server.CORSOrigins = cloneStrings(cfg.Server.CORSOrigins)
	out.Scanner.IncludeKeywords = cloneStrings(cfg.Scanner.IncludeKeywords)
	out.Scanner.ExcludeKeywords = cloneStrings(cfg.Scanner.ExcludeKeywords)
	out.Orchestrator.Priority = cloneStrings(cfg.Orchestrator.Priority)
	out.Strategies.LatencyArb.MarketKeywords = cloneStrings(cfg.Strategies.LatencyArb.MarketKeywords)

	if cfg.Orchestrator.Allocation != nil {
		out.Orchestrator.Allocation = make(map[string]float64, len(cfg.Orchestrator.Allocation))
		for k, v := range cfg.Orchestrator.Allocation {
			out.Orchestrator.Allocation[k] = v
		}
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
