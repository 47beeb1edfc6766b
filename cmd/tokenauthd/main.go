package main

import (
	"log"

	"github.com/tech-arch1tect/tokenauth"
)

func main() {
	app, err := tokenauth.New()
	if err != nil {
		log.Fatalf("Failed to build application: %v", err)
	}
	app.Run()
}
