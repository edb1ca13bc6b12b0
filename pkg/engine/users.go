package engine

import (
	"golang.org/x/crypto/bcrypt"

	"github.com/dsarman/2016-wood-challenge/pkg/book"
)

// User holds credentials plus a non-owning index of the user's live
// orders by ID, so a cancel never needs a book scan. The book owns the
// order's lifetime; entries here are purged atomically with removal
// from the book.
type User struct {
	Name         string
	PasswordHash []byte
	Orders       map[uint64]*book.Order
}

type LoginResult string

const (
	LoginRegistered LoginResult = "registered"
	LoginAccepted   LoginResult = "logged_in"
	LoginDenied     LoginResult = "denied"
)

func newUser(name string, passwordHash []byte) *User {
	return &User{
		Name:         name,
		PasswordHash: passwordHash,
		Orders:       make(map[uint64]*book.Order),
	}
}

func (u *User) checkPassword(password string) bool {
	return bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)) == nil
}

func hashPassword(password string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
}
