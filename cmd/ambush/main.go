package main

import (
	"log"
	"os"

	"fund-burying-backend/pkg/ambushcli"
)

func main() {
	if err := ambushcli.Execute(os.Args[1:]); err != nil {
		log.Fatalf("[ERROR][CLI] %v", err)
	}
}
