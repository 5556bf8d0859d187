package provider

import "testing"

func TestCostUSD_KnownModel(t *testing.T) {
	got := CostUSD(TypeOpenAI, "gpt-4o", 2000)
	want := 2.0 * 0.0075
	if got != want {
		t.Fatalf("CostUSD(gpt-4o, 2000) = %f, want %f", got, want)
	}
}

func TestCostUSD_UnknownModelUsesDefault(t *testing.T) {
	got := CostUSD(TypeOpenAI, "some-new-model", 1000)
	if got != defaultRate {
		t.Fatalf("CostUSD(unknown, 1000) = %f, want %f", got, defaultRate)
	}
}

func TestCostUSD_LocalIsFree(t *testing.T) {
	if got := CostUSD(TypeOllama, "llama3.2", 50000); got != 0 {
		t.Fatalf("local provider cost = %f, want 0", got)
	}
}

func TestCostUSD_ZeroTokens(t *testing.T) {
	if got := CostUSD(TypeAnthropic, "claude-3-5-sonnet", 0); got != 0 {
		t.Fatalf("zero tokens cost = %f, want 0", got)
	}
}
