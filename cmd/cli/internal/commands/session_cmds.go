package commands

import (
	"context"
	"fmt"
)

type LogoutCmd struct{}

func (l *LogoutCmd) Run(ctx context.Context, g *Globals) error {
	a, err := newApp(g)
	if err != nil {
		return err
	}

	a.session.RefreshAuth(ctx, true)
	a.session.SignOut(ctx)
	fmt.Println("Signed out")

	return nil
}

type WhoamiCmd struct{}

func (w *WhoamiCmd) Run(ctx context.Context, g *Globals) error {
	a, err := newApp(g)
	if err != nil {
		return err
	}

	a.session.Init(ctx)

	user := a.session.CurrentUser()
	if user == nil {
		fmt.Println("Not signed in")
		return nil
	}

	fmt.Printf("%s (%s)\n", user.Email, user.ID)
	if user.DisplayName != "" {
		fmt.Println(user.DisplayName)
	}

	return nil
}

type RefreshCmd struct {
	SkipVerification bool `help:"Restore the persisted session without calling the backend"`
}

func (r *RefreshCmd) Run(ctx context.Context, g *Globals) error {
	a, err := newApp(g)
	if err != nil {
		return err
	}

	a.session.RefreshAuth(ctx, r.SkipVerification)

	if a.session.IsAuthenticated() {
		fmt.Printf("Session valid for %s\n", a.session.CurrentUser().Email)
	} else {
		fmt.Println("No valid session")
	}

	return nil
}
