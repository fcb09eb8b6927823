package main

import (
	"errors"
	"flag"
	"log"
	"os"

	"github.com/Coding-Lml/love-space/cmd/internal/app"
)

func main() {
	err := app.Run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	if err != nil && !errors.Is(err, flag.ErrHelp) {
		log.Fatal(err)
	}
}
