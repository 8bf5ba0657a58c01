package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Account is a local identity on this instance.
type Account struct {
	Id          uuid.UUID
	Username    string
	DisplayName string
	Summary     string
	AvatarURL   string
	CreatedAt   time.Time
}

func (acc *Account) ToString() string {
	return fmt.Sprintf("\n\tId: %s \n\tUsername: %s \n\tCreatedAt: %s)", acc.Id, acc.Username, acc.CreatedAt)
}

// ActorURI derives the canonical actor id from the instance domain.
func (acc *Account) ActorURI(domain string) string {
	return fmt.Sprintf("https://%s/users/%s", domain, acc.Username)
}

func (acc *Account) KeyOwner() uuid.UUID { return acc.Id }

func (acc *Account) IsLocal() bool { return true }
