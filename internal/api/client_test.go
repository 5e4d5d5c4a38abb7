package api

import (
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
)

func TestTokenTracker(t *testing.T) {
	tr := NewTokenTracker()

	tr.Add(100, 50)
	tr.Add(200, 75)

	in, out := tr.Total()
	if in != 300 || out != 125 {
		t.Errorf("unexpected totals: in=%d out=%d", in, out)
	}
	if tr.Calls() != 2 {
		t.Errorf("unexpected call count %d", tr.Calls())
	}
}

func TestTranslateModelForBedrock(t *testing.T) {
	got := translateModelForBedrock(anthropic.ModelClaude3_5Haiku20241022)
	if got != "us.anthropic.claude-3-5-haiku-20241022-v1:0" {
		t.Errorf("unexpected translation %q", got)
	}

	// Unknown models pass through untouched.
	custom := anthropic.Model("us.anthropic.custom-model-v1:0")
	if translateModelForBedrock(custom) != custom {
		t.Error("custom model must pass through")
	}
}

func TestNewClientRequiresCredentials(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	if _, err := NewClient(ClientConfig{}); err == nil {
		t.Fatal("expected error without an API key")
	}
}

func TestNewClientDefaultsModel(t *testing.T) {
	c, err := NewClient(ClientConfig{APIKey: "sk-test"})
	if err != nil {
		t.Fatal(err)
	}
	if c.Model() != anthropic.ModelClaude3_5Haiku20241022 {
		t.Errorf("unexpected default model %q", c.Model())
	}
}
