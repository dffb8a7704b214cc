package app

import (
	"strings"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("HTTP_ADDR", "")
	t.Setenv("JWKS_CACHE_TTL", "")
	t.Setenv("STORAGE_DRIVER", "")
	t.Setenv("EMAIL_MAX_ATTEMPTS", "")

	cfg := LoadConfig()
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("unexpected addr %q", cfg.HTTPAddr)
	}
	if cfg.JWKSCacheTTL != time.Hour {
		t.Fatalf("unexpected jwks ttl %s", cfg.JWKSCacheTTL)
	}
	if cfg.StorageDriver != "s3" {
		t.Fatalf("unexpected storage driver %q", cfg.StorageDriver)
	}
	if cfg.EmailMaxAttempts != 3 {
		t.Fatalf("unexpected email attempts %d", cfg.EmailMaxAttempts)
	}
}

func TestCognitoIssuer(t *testing.T) {
	cfg := Config{AWSRegion: "us-east-2", CognitoUserPoolID: "us-east-2_abc"}
	want := "https://cognito-idp.us-east-2.amazonaws.com/us-east-2_abc"
	if cfg.CognitoIssuer() != want {
		t.Fatalf("got %q", cfg.CognitoIssuer())
	}
	if cfg.CognitoJWKSURL() != want+"/.well-known/jwks.json" {
		t.Fatalf("got %q", cfg.CognitoJWKSURL())
	}
}

func TestValidate(t *testing.T) {
	valid := Config{
		DBDSN:             "postgres://x",
		CognitoUserPoolID: "pool",
		CognitoClientID:   "client",
		StorageDriver:     "s3",
		S3BucketName:      "bucket",
		SMTPPort:          587,
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	bad := valid
	bad.StorageDriver = "gcs"
	bad.CognitoClientID = ""
	err := bad.Validate()
	if err == nil {
		t.Fatalf("expected error")
	}
	for _, want := range []string{"COGNITO_CLIENT_ID", "GCS_BUCKET_NAME"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}
}

func TestDurationOrDefault(t *testing.T) {
	tests := []struct {
		raw  string
		want time.Duration
	}{
		{raw: "", want: time.Minute},
		{raw: "90s", want: 90 * time.Second},
		{raw: "120", want: 2 * time.Minute},
		{raw: "garbage", want: time.Minute},
		{raw: "-5s", want: time.Minute},
	}
	for _, tc := range tests {
		t.Setenv("TEST_DURATION", tc.raw)
		if got := durationOrDefault("TEST_DURATION", time.Minute); got != tc.want {
			t.Fatalf("%q: got %s want %s", tc.raw, got, tc.want)
		}
	}
}

func TestBoolOrDefault(t *testing.T) {
	t.Setenv("TEST_BOOL", "off")
	if boolOrDefault("TEST_BOOL", true) {
		t.Fatalf("expected false")
	}
	t.Setenv("TEST_BOOL", "maybe")
	if !boolOrDefault("TEST_BOOL", true) {
		t.Fatalf("expected fallback true")
	}
}
