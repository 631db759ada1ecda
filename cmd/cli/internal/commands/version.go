package commands

import (
	"context"
	"fmt"
)

type VersionCmd struct{}

func (v *VersionCmd) Run(ctx context.Context, globals *Globals) error {
	fmt.Println(globals.Version)
	return nil
}
