package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateDefaultsPass(t *testing.T) {
	cfg := defaults()
	require.NoError(t, validate(cfg))
}

func TestValidateRejectsBadCriticPolicy(t *testing.T) {
	cfg := defaults()
	cfg.Pipeline.CriticPolicy = "sometimes"
	assert.Error(t, validate(cfg))
}

func TestValidateRejectsZeroMaxFixAttempts(t *testing.T) {
	cfg := defaults()
	cfg.Pipeline.MaxFixAttempts = 0
	assert.Error(t, validate(cfg))
}

func TestValidateRejectsOutOfRangeSimilarityThreshold(t *testing.T) {
	cfg := defaults()
	cfg.Generator.SimilarityThreshold = 1.5
	assert.Error(t, validate(cfg))
}

func TestValidateRejectsNonPositiveBudget(t *testing.T) {
	cfg := defaults()
	cfg.Budget.SessionCapUSD = 0
	assert.Error(t, validate(cfg))
}

func TestValidateRejectsEmptyRegressionScope(t *testing.T) {
	cfg := defaults()
	cfg.Repair.RegressionScope = nil
	assert.Error(t, validate(cfg))
}
