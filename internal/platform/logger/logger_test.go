package logger

import "testing"

func TestSanitizeKVsRedactsCredentials(t *testing.T) {
	jwtLike := "eyJhbGciOiJSUzI1NiJ9.eyJzdWIiOiIxMjM0NTY3ODkwIn0.sig"
	got := sanitizeKVs([]interface{}{
		"access_token", "abc",
		"Authorization", "Bearer x",
		"note", jwtLike,
		"email", "ana@example.com",
		"course_id", "c1",
		"dangling",
	})

	want := map[string]interface{}{
		"access_token":  "[REDACTED]",
		"Authorization": "[REDACTED]",
		"note":          "[REDACTED]",
		"course_id":     "c1",
	}
	for i := 0; i+1 < len(got); i += 2 {
		k := got[i].(string)
		if exp, ok := want[k]; ok && got[i+1] != exp {
			t.Fatalf("key %s: got %v want %v", k, got[i+1], exp)
		}
		if k == "email" {
			s, _ := got[i+1].(string)
			if len(s) != len("hash:")+12 {
				t.Fatalf("email not hashed: %q", s)
			}
		}
	}
	if got[len(got)-1] != "dangling" {
		t.Fatalf("expected dangling key preserved, got %v", got[len(got)-1])
	}
}
