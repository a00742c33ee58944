package auth

import (
	"testing"

	"github.com/ZJUSCT/CSJudge/internal/config"
	"golang.org/x/crypto/bcrypt"
)

func TestJWTRoundTrip(t *testing.T) {
	token, err := GenerateJWT("jh1", RoleJudgehost, "secret", 1)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	claims, err := ValidateJWT(token, "secret")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.Subject != "jh1" || claims.Role != RoleJudgehost {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if _, err := ValidateJWT(token, "other"); err == nil {
		t.Fatal("token accepted with wrong secret")
	}
}

func TestExpiredJWT(t *testing.T) {
	token, err := GenerateJWT("jury", RoleJury, "secret", -1)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := ValidateJWT(token, "secret"); err == nil {
		t.Fatal("expired token accepted")
	}
}

func TestAuthenticate(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("pw"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	accounts := []config.Account{{Name: "jh1", PasswordHash: string(hash)}, {Name: "nohash"}}

	if acc, ok := Authenticate(accounts, "jh1", "pw"); !ok || acc.Name != "jh1" {
		t.Fatalf("valid login rejected")
	}
	if _, ok := Authenticate(accounts, "jh1", "wrong"); ok {
		t.Fatal("wrong password accepted")
	}
	if _, ok := Authenticate(accounts, "nohash", ""); ok {
		t.Fatal("account without hash accepted")
	}
	if _, ok := Authenticate(accounts, "ghost", "pw"); ok {
		t.Fatal("unknown account accepted")
	}
}
