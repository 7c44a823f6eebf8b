// tokengen 签发开发和运维用的 JWT
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"buildtrack/pkg/config"
	"buildtrack/pkg/rbac"
	"buildtrack/pkg/util"
)

func main() {
	userID := flag.Int64("user", 1, "user id")
	role := flag.String("role", rbac.RoleAdmin, "role: admin, engineer or client")
	ttl := flag.Duration("ttl", 0, "token lifetime, defaults to jwt.ttl from config")
	secret := flag.String("secret", "", "signing secret, defaults to jwt.secret from config")
	flag.Parse()

	if !rbac.IsKnownRole(*role) {
		fmt.Fprintf(os.Stderr, "unknown role %q\n", *role)
		os.Exit(2)
	}

	if *secret == "" || *ttl == 0 {
		cfg, err := config.Load(config.GetConfigEnv(), config.GetEnv("CONFIG_DIR", "config"))
		if err != nil {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			os.Exit(1)
		}
		if *secret == "" {
			*secret = cfg.JWT.Secret
		}
		if *ttl == 0 {
			*ttl = cfg.JWT.TTL
		}
	}
	if *ttl <= 0 {
		*ttl = 24 * time.Hour
	}

	token, err := util.GenerateJWT(*userID, *role, *secret, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "generate token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
