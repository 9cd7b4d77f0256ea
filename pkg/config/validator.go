package config

import "fmt"

// validate performs structural validation on a loaded configuration,
// mirroring the teacher's "comprehensive validation after merge" step
// but scoped to this system's substrate knobs rather than agent/chain
// registries.
func validate(cfg *Config) error {
	if cfg.Pipeline.MaxFixAttempts <= 0 {
		return fmt.Errorf("pipeline.max_fix_attempts must be positive, got %d", cfg.Pipeline.MaxFixAttempts)
	}
	if cfg.Pipeline.CriticPolicy != "log_and_continue" && cfg.Pipeline.CriticPolicy != "block" {
		return fmt.Errorf("pipeline.critic_policy must be log_and_continue or block, got %q", cfg.Pipeline.CriticPolicy)
	}
	if cfg.Generator.SimilarityThreshold < 0 || cfg.Generator.SimilarityThreshold > 1 {
		return fmt.Errorf("generator.similarity_threshold must be in [0,1], got %f", cfg.Generator.SimilarityThreshold)
	}
	if cfg.Generator.MaxRetries < 0 {
		return fmt.Errorf("generator.max_retries must be >= 0, got %d", cfg.Generator.MaxRetries)
	}
	if cfg.Budget.SessionCapUSD <= 0 {
		return fmt.Errorf("budget.session_cap_usd must be positive, got %f", cfg.Budget.SessionCapUSD)
	}
	if cfg.Budget.WarningFraction <= 0 || cfg.Budget.WarningFraction >= 1 {
		return fmt.Errorf("budget.warning_fraction must be in (0,1), got %f", cfg.Budget.WarningFraction)
	}
	if cfg.Validator.MaxImagesPerRequest <= 0 {
		return fmt.Errorf("validator.max_images_per_request must be positive, got %d", cfg.Validator.MaxImagesPerRequest)
	}
	if len(cfg.Repair.RegressionScope) == 0 {
		return fmt.Errorf("repair.regression_scope must not be empty")
	}
	return nil
}
