// Command devtoken prints an access token for an existing account so the API
// can be exercised locally without the identity provider.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/adgen/adgen-api/internal/config"
	"github.com/adgen/adgen-api/internal/domain/user"
	"github.com/adgen/adgen-api/internal/pkg/database"
	"github.com/adgen/adgen-api/internal/pkg/jwt"
)

func main() {
	userFlag := flag.String("user", "", "account id to issue a token for")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	userID, err := uuid.Parse(*userFlag)
	if err != nil {
		log.Fatalf("invalid -user: %v", err)
	}

	cfg := config.Load()
	if !cfg.IsDevelopment() {
		log.Fatalf("devtoken only runs with ENV=development (got %q)", cfg.Env)
	}

	db, err := database.NewPostgres(cfg.DatabaseURL, database.APIPool)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.ClosePostgres(db)

	u, err := user.NewRepository(db).GetByID(context.Background(), userID)
	if err != nil {
		log.Fatalf("Failed to load account %s: %v", userID, err)
	}

	token, err := jwt.NewService(cfg.JWTSecret, *ttl).GenerateAccessToken(u.ID)
	if err != nil {
		log.Fatalf("Failed to sign token: %v", err)
	}

	fmt.Printf("account:  %s (%s)\n", u.ID, u.Email)
	fmt.Printf("verified: %v  balance: %d  code: %s\n", u.EmailVerified, u.CreditBalance, u.ReferralCode)
	fmt.Println(token)
}
