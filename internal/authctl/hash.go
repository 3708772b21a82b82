package authctl

import (
	"fmt"

	"github.com/dmitrijs2005/authkeeper/internal/cryptox"
	"github.com/dmitrijs2005/authkeeper/internal/server/services"
)

// hashPassword prints a bcrypt hash at the configured cost, e.g. to seed an
// account by hand. The password policy applies.
func (a *App) hashPassword() error {
	pw, err := GetPassword(a.out)
	if err != nil {
		return err
	}
	defer wipe(pw)

	if err := services.ValidatePassword(string(pw)); err != nil {
		return err
	}
	hash, err := cryptox.NewPasswordHasher(a.config.BcryptCost).Hash(string(pw))
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, hash)
	return nil
}
