package config

import "testing"

func baseEnv() map[string]string {
	return map[string]string{
		"DATABASE_URL":        "postgres://localhost:5432/testkart",
		"REDIS_URL":           "redis://localhost:6379/0",
		"JWT_SECRET":          "secret",
		"RAZORPAY_KEY_ID":     "rzp_test_key",
		"RAZORPAY_KEY_SECRET": "rzp_secret",
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadForTests(baseEnv())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Currency != "INR" {
		t.Fatalf("expected INR default currency, got %q", cfg.Currency)
	}
	if cfg.HTTPAddr() != ":8080" {
		t.Fatalf("expected default addr :8080, got %q", cfg.HTTPAddr())
	}
	if cfg.RazorpayBaseURL == "" {
		t.Fatal("expected gateway base url default")
	}
}

func TestLoadRequiresGatewayCredentials(t *testing.T) {
	env := baseEnv()
	env["RAZORPAY_KEY_SECRET"] = ""
	if _, err := LoadForTests(env); err == nil {
		t.Fatal("expected error when gateway credentials are missing")
	}
}

func TestLoadRequiresDatabase(t *testing.T) {
	env := baseEnv()
	env["DATABASE_URL"] = ""
	if _, err := LoadForTests(env); err == nil {
		t.Fatal("expected error when DATABASE_URL is missing")
	}
}
