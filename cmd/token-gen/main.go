package main

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"metamarket.backend/internal/config"
	"metamarket.backend/pkg/jwt"
)

func main() {
	operator := flag.String("operator", "", "operator name embedded in the token")
	role := flag.String("role", jwt.RoleOperator, "token role: OPERATOR or VIEWER")
	expiry := flag.Duration("expiry", 0, "token lifetime (defaults to JWT_EXPIRY)")
	newSecret := flag.Int("new-secret", 0, "print a random JWT_SECRET of this many hex chars and exit")
	flag.Parse()

	if *newSecret > 0 {
		secret, err := generateRandomHex(*newSecret)
		if err != nil {
			log.Fatalf("failed to generate secret: %v", err)
		}
		fmt.Printf("JWT_SECRET=%s\n", secret)
		return
	}

	_ = godotenv.Load()
	if err := run(os.Stdout, config.Load().JWT, *operator, *role, *expiry); err != nil {
		log.Fatal(err)
	}
}

func run(out io.Writer, cfg config.JWTConfig, operator, role string, expiry time.Duration) error {
	if err := validateInputs(operator, role); err != nil {
		return err
	}
	if expiry <= 0 {
		expiry = cfg.Expiry
	}

	token, err := jwt.NewJWTService(cfg.Secret, cfg.Issuer, expiry).GenerateToken(operator, role)
	if err != nil {
		return fmt.Errorf("failed to sign token: %w", err)
	}

	fmt.Fprintln(out, "Generated API token")
	fmt.Fprintf(out, "OPERATOR=%s\n", operator)
	fmt.Fprintf(out, "ROLE=%s\n", role)
	fmt.Fprintf(out, "EXPIRES_AT=%s\n", time.Now().Add(expiry).UTC().Format(time.RFC3339))
	fmt.Fprintf(out, "TOKEN=%s\n", token)
	return nil
}

func validateInputs(operator, role string) error {
	if operator == "" {
		return fmt.Errorf("operator is required")
	}
	if role != jwt.RoleOperator && role != jwt.RoleViewer {
		return fmt.Errorf("invalid role: %s (allowed: %s, %s)", role, jwt.RoleOperator, jwt.RoleViewer)
	}
	return nil
}

func generateRandomHex(n int) (string, error) {
	if n <= 0 || n%2 != 0 {
		return "", fmt.Errorf("invalid hex length: %d (must be positive and even)", n)
	}
	b := make([]byte, n/2)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
