package forum

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// User is a forum account. Admins moderate every forum.
type User struct {
	ID      string    `json:"id"`
	Handle  string    `json:"handle"`
	Hash    []byte    `json:"-"`
	Admin   bool      `json:"admin"`
	Created time.Time `json:"created"`
}

func NewUser(handle string, admin bool) (*User, error) {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return nil, newError(CodeInvalidArgument, "handle is required")
	}
	return &User{
		ID:      uuid.New().String(),
		Handle:  handle,
		Admin:   admin,
		Created: time.Now().UTC().Truncate(time.Millisecond),
	}, nil
}

func (u *User) SetPassword(password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.Hash = hash
	return nil
}

func (u *User) PasswordMatches(input string) (bool, error) {
	err := bcrypt.CompareHashAndPassword(u.Hash, []byte(input))
	if err != nil {
		switch {
		case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
			return false, nil
		default:
			return false, err
		}
	}
	return true, nil
}

// ViewerFor builds the viewer for a session-held user id. Ids that are not
// UUIDs are treated as anonymous.
func ViewerFor(userID string) Viewer {
	if _, err := uuid.Parse(userID); err != nil {
		return Anonymous
	}
	return Viewer{UserID: userID, Authenticated: true}
}

// RegisterUser creates an account with a bcrypt-hashed password.
func RegisterUser(ctx context.Context, store Store, handle, password string, admin bool) (User, error) {
	if len(password) < 8 {
		return User{}, newError(CodeInvalidArgument, "password must be at least 8 characters")
	}
	u, err := NewUser(handle, admin)
	if err != nil {
		return User{}, err
	}
	if err := u.SetPassword(password); err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}
	err = store.InTx(ctx, func(tx Tx) error {
		if _, err := tx.GetUserByHandle(ctx, u.Handle); err == nil {
			return newError(CodeInvalidArgument, "handle already taken")
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		return tx.CreateUser(ctx, u)
	})
	if err != nil {
		return User{}, err
	}
	return *u, nil
}

// Authenticate returns the user when password matches the stored hash.
func Authenticate(ctx context.Context, store Reader, handle, password string) (User, error) {
	u, err := store.GetUserByHandle(ctx, strings.TrimSpace(handle))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return User{}, preconditionError(ReasonUnauthenticated, "invalid handle or password")
		}
		return User{}, err
	}
	ok, err := u.PasswordMatches(password)
	if err != nil {
		return User{}, err
	}
	if !ok {
		return User{}, preconditionError(ReasonUnauthenticated, "invalid handle or password")
	}
	return u, nil
}
