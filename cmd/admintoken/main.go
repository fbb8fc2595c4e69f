// Command admintoken mints a bearer token for the operator API.
//
// Usage:
//
//	admintoken <subject>
package main

import (
	"fmt"
	"os"
	"time"

	"settlement-engine/config"
	"settlement-engine/internal/service"
	"settlement-engine/pkg/logger"
)

func main() {
	if len(os.Args) != 2 || os.Args[1] == "" {
		fmt.Println("Usage: admintoken <subject>")
		os.Exit(1)
	}

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.Component(logger.NewWithWriter(cfg.Log.Level, os.Stderr), "admintoken")

	tokens := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)
	token, expiry, err := tokens.Generate(os.Args[1], service.RoleAdmin)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to mint token")
	}

	log.Info().Str("subject", os.Args[1]).Time("expires_at", expiry).Dur("ttl", time.Until(expiry).Round(time.Second)).Msg("Token minted")
	fmt.Println(token)
}
