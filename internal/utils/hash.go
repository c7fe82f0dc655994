package utils

import "golang.org/x/crypto/bcrypt"

// bcrypt only reads the first 72 bytes of its input.
const maxBcryptInput = 72

// HashPassword returns a bcrypt hash of the provided password at the given cost.
// Input beyond 72 bytes is ignored rather than rejected.
func HashPassword(password string, cost int) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword(bcryptInput(password), cost)
	return string(bytes), err
}

// CheckPassword compares a bcrypt hashed password with its possible plaintext equivalent.
func CheckPassword(hashedPassword, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), bcryptInput(password)) == nil
}

func bcryptInput(password string) []byte {
	b := []byte(password)
	if len(b) > maxBcryptInput {
		b = b[:maxBcryptInput]
	}
	return b
}
