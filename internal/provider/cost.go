package provider

// modelRates is the static per-1K-token USD rate table. The router only needs
// cost estimates for budget accounting, so blended input/output rates are
// good enough here.
var modelRates = map[string]float64{
	"gpt-4o":                  0.0075,
	"gpt-4o-mini":             0.000375,
	"gpt-4-turbo":             0.02,
	"gpt-3.5-turbo":           0.001,
	"claude-3-5-sonnet":       0.009,
	"claude-3-5-haiku":        0.0024,
	"claude-3-opus":           0.045,
	"gemini-1.5-pro":          0.00625,
	"gemini-1.5-flash":        0.000375,
	"mistral-large-latest":    0.006,
	"mistral-small-latest":    0.0006,
	"llama-3.1-70b-versatile": 0.00069,
	"llama-3.1-8b-instant":    0.00006,
	"sonar-pro":               0.009,
	"sonar":                   0.001,
}

// defaultRate is a conservative fallback for unlisted models.
const defaultRate = 0.01

// CostUSD estimates the USD cost of an attempt: (totalTokens/1000) x rate.
// Local provider types always cost zero.
func CostUSD(ptype Type, model string, totalTokens int) float64 {
	if ptype.IsLocal() {
		return 0
	}
	rate, ok := modelRates[model]
	if !ok {
		rate = defaultRate
	}
	return float64(totalTokens) / 1000.0 * rate
}
