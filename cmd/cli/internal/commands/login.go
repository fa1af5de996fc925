package commands

import (
	"context"
	"fmt"
)

type LoginCmd struct {
	Email    string `help:"Account email" required:""`
	Password string `help:"Account password" required:"" env:"NUTRIPLAN_PASSWORD"`
}

func (l *LoginCmd) Run(ctx context.Context, g *Globals) error {
	a, err := newApp(g)
	if err != nil {
		return err
	}

	if err := a.session.SignIn(ctx, l.Email, l.Password); err != nil {
		return err
	}

	user := a.session.CurrentUser()
	fmt.Printf("Signed in as %s\n", user.Email)

	return nil
}
