package oauth

import (
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"golang.org/x/oauth2"
)

func TestCreateChallenge_KnownVector(t *testing.T) {
	// RFC 7636 appendix B
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	want := "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"

	if got := CreateChallenge(verifier); got != want {
		t.Errorf("CreateChallenge() = %q, want %q", got, want)
	}
}

func TestGeneratePKCE(t *testing.T) {
	pkce, err := GeneratePKCE()
	if err != nil {
		t.Fatalf("GeneratePKCE() error = %v", err)
	}

	if len(pkce.CodeVerifier) != 43 {
		t.Errorf("CodeVerifier length = %d, want 43", len(pkce.CodeVerifier))
	}

	if pkce.CodeChallengeMethod != "S256" {
		t.Errorf("CodeChallengeMethod = %q, want %q", pkce.CodeChallengeMethod, "S256")
	}

	hash := sha256.Sum256([]byte(pkce.CodeVerifier))
	expectedChallenge := base64.RawURLEncoding.EncodeToString(hash[:])
	if pkce.CodeChallenge != expectedChallenge {
		t.Errorf("CodeChallenge = %q, want %q", pkce.CodeChallenge, expectedChallenge)
	}

	// Must agree with golang.org/x/oauth2
	if lib := oauth2.S256ChallengeFromVerifier(pkce.CodeVerifier); pkce.CodeChallenge != lib {
		t.Errorf("CodeChallenge = %q, want oauth2 result %q", pkce.CodeChallenge, lib)
	}
}

func TestCreateVerifier_Uniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		v, err := CreateVerifier()
		if err != nil {
			t.Fatalf("CreateVerifier() error = %v", err)
		}
		if seen[v] {
			t.Fatalf("duplicate verifier generated: %s", v)
		}
		seen[v] = true
	}
}

func TestGenerateState(t *testing.T) {
	a, err := GenerateState()
	if err != nil {
		t.Fatalf("GenerateState() error = %v", err)
	}
	b, err := GenerateState()
	if err != nil {
		t.Fatalf("GenerateState() error = %v", err)
	}
	if len(a) != 43 {
		t.Errorf("state length = %d, want 43", len(a))
	}
	if a == b {
		t.Error("expected distinct states")
	}
}
