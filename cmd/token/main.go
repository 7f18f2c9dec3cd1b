// Command token mints a bearer token for operators and test scanners.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"beaconattend/internal/auth"
	"beaconattend/internal/config"
)

func main() {
	envFile := pflag.String("env-file", ".env", "optional dotenv file")
	subject := pflag.String("subject", "operator", "token subject")
	role := pflag.String("role", auth.RoleAdmin, "role claim: admin or scanner")
	ttl := pflag.Duration("ttl", time.Hour, "token lifetime")
	pflag.Parse()

	if *role != auth.RoleAdmin && *role != auth.RoleScanner {
		fmt.Fprintf(os.Stderr, "error: unknown role %q\n", *role)
		os.Exit(2)
	}

	cfg := config.Load(*envFile)
	tokens, err := auth.NewSigner(cfg.JWTIssuer, cfg.JWTSigningKey).Issue(*subject, *role, *ttl, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(tokens.AccessToken)
}
