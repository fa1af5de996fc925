package commands

import (
	"context"
	"fmt"
	"os"
)

type ImageCmd struct {
	Name     string `arg:"" help:"Food name to resolve"`
	Fallback string `help:"URL returned when the lookup fails"`
	Save     string `help:"Download the resolved image to this file" type:"path"`
}

func (i *ImageCmd) Run(ctx context.Context, g *Globals) error {
	a, err := newApp(g)
	if err != nil {
		return err
	}

	url := a.images.GetImage(ctx, i.Name, i.Fallback)
	fmt.Println(url)

	if i.Save == "" {
		return nil
	}

	data, _, err := a.client.FetchImage(ctx, url)
	if err != nil {
		return fmt.Errorf("failed to download image: %w", err)
	}

	if err := os.WriteFile(i.Save, data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", i.Save, err)
	}

	return nil
}
