// Command token mints a development JWT for a device or an observer, so a
// socket client can be driven by hand (wscat, websocat) against a running hub.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"trackhub/internal/auth"
	"trackhub/internal/hub"
)

func main() {
	var (
		subject = flag.String("subject", "", "Token subject: device ID for devices, operator ID for observers")
		role    = flag.String("role", "device", "Connection role: device | observer")
		secret  = flag.String("secret", "", "JWT HMAC secret (HS256), must match jwt.secret_key in config")
		ttl     = flag.Duration("ttl", 2*time.Hour, "Token lifetime")
	)
	flag.Parse()

	if *subject == "" || *secret == "" {
		fmt.Fprintln(os.Stderr, "usage: token --subject=<id> --role=device --secret='<secret>' [--ttl=2h]")
		os.Exit(2)
	}

	r := hub.Role(strings.ToLower(strings.TrimSpace(*role)))
	if !r.Valid() {
		fmt.Fprintf(os.Stderr, "error: invalid role %q, want device or observer\n", *role)
		os.Exit(2)
	}

	mgr := auth.NewManager(*secret, *ttl)
	token, claims, err := mgr.IssueToken(*subject, r)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	fmt.Println("TOKEN:")
	fmt.Println(token)
	fmt.Println("\nCLAIMS:")
	fmt.Printf("  sub:  %s\n", claims.Subject)
	fmt.Printf("  role: %s\n", claims.Role)
	fmt.Printf("  iat:  %s\n", claims.IssuedAt.Time.UTC().Format(time.RFC3339))
	fmt.Printf("  exp:  %s\n", claims.ExpiresAt.Time.UTC().Format(time.RFC3339))
}
