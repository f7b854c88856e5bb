package config

import "testing"

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Budget.DailyBudgetCents != 500 {
		t.Errorf("DailyBudgetCents = %d, want 500", cfg.Budget.DailyBudgetCents)
	}
	if cfg.Cache.RedisHost != "localhost" {
		t.Errorf("RedisHost = %q, want localhost", cfg.Cache.RedisHost)
	}
	if cfg.Cache.RedisPort != 6379 {
		t.Errorf("RedisPort = %d, want 6379", cfg.Cache.RedisPort)
	}
	if cfg.Region.RadiusKM != 40 {
		t.Errorf("RadiusKM = %v, want 40", cfg.Region.RadiusKM)
	}
}

func TestLoad_MissingRequiredFields(t *testing.T) {
	t.Setenv("NEO4J_URI", "")
	t.Setenv("POSTGRES_URL", "")
	t.Setenv("REGION_NAME", "")
	t.Setenv("ANTHROPIC_API_KEY", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when required fields are missing")
	}
}

func TestLoad_AllRequiredFieldsPresent(t *testing.T) {
	t.Setenv("NEO4J_URI", "bolt://localhost:7687")
	t.Setenv("POSTGRES_URL", "postgres://localhost/rootsignal")
	t.Setenv("REGION_NAME", "riverbend")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test-key")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Neo4j.URI != "bolt://localhost:7687" {
		t.Errorf("Neo4j.URI = %q, want bolt://localhost:7687", cfg.Neo4j.URI)
	}
	if cfg.Region.Name != "riverbend" {
		t.Errorf("Region.Name = %q, want riverbend", cfg.Region.Name)
	}
}

func TestBrowserConfig_UseRemote(t *testing.T) {
	withURL := BrowserConfig{BrowserlessURL: "https://chrome.browserless.io", BrowserlessToken: "tok"}
	if !withURL.UseRemote() {
		t.Error("UseRemote() = false, want true when a browserless URL is set")
	}

	empty := BrowserConfig{}
	if empty.UseRemote() {
		t.Error("UseRemote() = true, want false for zero value")
	}
}
