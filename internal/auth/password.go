package auth

import (
	"github.com/ZJUSCT/CSJudge/internal/config"
	"golang.org/x/crypto/bcrypt"
)

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// Authenticate finds the account by name and checks its password.
func Authenticate(accounts []config.Account, name, password string) (*config.Account, bool) {
	for i := range accounts {
		if accounts[i].Name != name {
			continue
		}
		if accounts[i].PasswordHash == "" || !CheckPasswordHash(password, accounts[i].PasswordHash) {
			return nil, false
		}
		return &accounts[i], true
	}
	return nil, false
}
