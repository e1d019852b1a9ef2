package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"evalplane/internal/services"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
			if services.IsClientError(err) {
				fmt.Fprintln(os.Stderr, "hint:", services.ErrorHint(err))
			}
		}
		os.Exit(1)
	}
}
