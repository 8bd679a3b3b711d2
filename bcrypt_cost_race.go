//go:build race

package auth

import "golang.org/x/crypto/bcrypt"

// under -race bcrypt is several times slower, signup tests use the library default
func passwordHashCost() int {
	return bcrypt.DefaultCost
}
