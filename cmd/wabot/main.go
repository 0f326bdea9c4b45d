package main

import (
	"log"

	corecmd "github.com/jubayershuvo/wa-bot-sub000/core/cmd"
)

func main() {
	err := corecmd.Run(corecmd.Options{
		DefaultConfigPath: "config.yaml",
		LoadConfig:        loadConfig,
		Bootstrap:         buildApp,
	})
	if err != nil {
		log.Fatalf("wabot: %v", err)
	}
}
