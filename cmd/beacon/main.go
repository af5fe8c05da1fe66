package main

import (
	"log"

	"github.com/MrSnakeDoc/beacon/internal/app"
)

func main() {
	if err := app.New().Run(); err != nil {
		log.Fatalf("❌ beacon failed: %v", err)
	}
}
