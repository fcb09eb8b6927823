package main

import (
	"log"

	"github.com/Coding-Lml/love-space/cmd/internal/devserver"
)

func main() {
	if err := devserver.Main(); err != nil {
		log.Fatal(err)
	}
}
