package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/the-books-must-balance/internal/model"
)

func TestPatternDetectorPriority(t *testing.T) {
	pd, err := NewPatternDetector([]Pattern{
		{Name: "low", Regex: `invoice`, Priority: 10, Confidence: 0.9, Intent: model.IntentCreatePurchaseInvoice},
		{Name: "high", Regex: `sales\s+invoice`, Priority: 20, Confidence: 0.9, Intent: model.IntentCreateSalesInvoice},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, pd.PatternCount())

	match, _ := pd.Detect("sales invoice for acme", 0.85)
	require.NotNil(t, match)
	assert.Equal(t, "high", match.PatternName)
}

func TestPatternDetectorThreshold(t *testing.T) {
	pd, err := NewPatternDetector([]Pattern{
		{Name: "weak", Regex: `paid`, Priority: 10, Confidence: 0.7, Intent: model.IntentCreatePayment},
	})
	require.NoError(t, err)

	match, weak := pd.Detect("paid", 0.85)
	assert.Nil(t, match)
	require.NotNil(t, weak)
	assert.Equal(t, "weak", weak.PatternName)

	match, _ = pd.Detect("paid", 0.5)
	assert.NotNil(t, match)

	match, weak = pd.Detect("nothing here", 0.5)
	assert.Nil(t, match)
	assert.Nil(t, weak)
}

func TestPatternDetectorInvalidRegex(t *testing.T) {
	_, err := NewPatternDetector([]Pattern{{Name: "bad", Regex: `(`}})
	assert.ErrorContains(t, err, "bad")
}

func TestDefaultPatternsCompileAndCoverVoucherIntents(t *testing.T) {
	pd, err := NewPatternDetector(DefaultPatterns())
	require.NoError(t, err)

	covered := map[model.Intent]bool{}
	for _, p := range DefaultPatterns() {
		covered[p.Intent] = true
	}
	for _, intent := range model.AllIntents() {
		if intent == model.IntentClarify {
			continue
		}
		assert.True(t, covered[intent], "no pattern for %s", intent)
	}
	assert.Equal(t, len(DefaultPatterns()), pd.PatternCount())
}
