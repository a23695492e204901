// Command fieldpartner runs the Field Partner back-office engine.
package main

import (
	"context"
	"os"

	"github.com/gmontielDeltree/fieldpartner-backoffice-sub001/internal/cli"
)

func main() {
	if err := cli.Execute(context.Background()); err != nil {
		os.Exit(1)
	}
}
