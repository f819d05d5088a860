package auth_test

import (
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/pharmatrust/pharmaledger/internal/auth"
)

func TestIssueVerify_roundTrip(t *testing.T) {
	issuer := auth.NewTokenIssuer([]byte("test-secret"), "http://localhost:8080", time.Hour)

	tok, err := issuer.Issue("jdoe", "pharmacist")
	if err != nil {
		t.Fatal(err)
	}

	claims, err := issuer.Verify(tok)
	if err != nil {
		t.Fatal(err)
	}
	if claims.Subject != "jdoe" {
		t.Errorf("subject: got %q", claims.Subject)
	}
	if claims.Role != "pharmacist" {
		t.Errorf("role: got %q", claims.Role)
	}
}

func TestVerify_wrongSecret(t *testing.T) {
	a := auth.NewTokenIssuer([]byte("secret-a"), "http://localhost:8080", time.Hour)
	b := auth.NewTokenIssuer([]byte("secret-b"), "http://localhost:8080", time.Hour)

	tok, err := a.Issue("jdoe", "pharmacist")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.Verify(tok); err == nil {
		t.Error("token signed with a different secret must not verify")
	}
}

func TestVerify_wrongIssuer(t *testing.T) {
	a := auth.NewTokenIssuer([]byte("secret"), "http://a.example", time.Hour)
	b := auth.NewTokenIssuer([]byte("secret"), "http://b.example", time.Hour)

	tok, _ := a.Issue("jdoe", "pharmacist")
	if _, err := b.Verify(tok); err == nil {
		t.Error("token with a different issuer must not verify")
	}
}

func TestVerifySecret(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}

	if !auth.VerifySecret(string(hash), "hunter2") {
		t.Error("bcrypt hash of correct secret rejected")
	}
	if auth.VerifySecret(string(hash), "wrong") {
		t.Error("bcrypt hash of wrong secret accepted")
	}
	if !auth.VerifySecret("plain-dev-secret", "plain-dev-secret") {
		t.Error("matching plaintext secret rejected")
	}
	if auth.VerifySecret("plain-dev-secret", "nope") {
		t.Error("mismatched plaintext secret accepted")
	}
	if auth.VerifySecret("", "") {
		t.Error("empty configured secret must reject everything")
	}
}
