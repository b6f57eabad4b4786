package main

import (
	"log"

	"vestvault/services/vestd"
)

func main() {
	if err := vestd.Main(); err != nil {
		log.Fatalf("vestd: %v", err)
	}
}
