package admin

import "golang.org/x/crypto/bcrypt"

// BcryptCost is the work factor for admin password hashes. Passwords are
// low-entropy secrets and get a slow salted hash, unlike API key secrets.
const BcryptCost = 12

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
