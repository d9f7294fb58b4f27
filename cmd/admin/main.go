// Package main provides account management utilities for BilimShare.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"bilimshare/internal/cache"
	"bilimshare/internal/config"
	"bilimshare/internal/database"
	"bilimshare/internal/models"
	"bilimshare/internal/notifications"
	"bilimshare/internal/repository"
	"bilimshare/internal/state"

	"github.com/redis/go-redis/v9"
)

func usage() {
	fmt.Println("Usage:")
	fmt.Println("  go run ./cmd/admin set-role <email> <student|teacher|admin>  - Change a user's role")
	fmt.Println("  go run ./cmd/admin list-users                                - List all users")
	os.Exit(1)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	users := repository.NewUserRepository(db)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.StoreTimeout())
	defer cancel()

	switch os.Args[1] {
	case "set-role":
		if len(os.Args) < 4 {
			usage()
		}
		rdb := cache.InitRedis(cfg.RedisURL)
		setRole(ctx, users, rdb, os.Args[2], models.Role(strings.ToLower(os.Args[3])))
		if rdb != nil {
			_ = rdb.Close()
		}

	case "list-users":
		listUsers(ctx, users)

	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		usage()
	}
}

func setRole(ctx context.Context, users repository.UserRepository, rdb *redis.Client, email string, role models.Role) {
	if !role.Valid() {
		fmt.Printf("Unknown role %q\n", role)
		os.Exit(1)
	}

	user, err := users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		log.Fatalf("Database error: %v", err)
	}
	if user == nil {
		fmt.Printf("User with email %s not found\n", email)
		os.Exit(1)
	}

	if user.Role == role {
		fmt.Printf("%s (%s) already has role %s\n", user.Name, user.Email, role)
		return
	}

	if err := users.UpdateRole(ctx, user.ID, role); err != nil {
		log.Fatalf("Failed to update role: %v", err)
	}
	fmt.Printf("Changed %s (%s) from %s to %s\n", user.Name, user.Email, user.Role, role)

	t := state.Transition{Reason: "change_role", Keys: []state.EntityKey{{Kind: state.KindUser, ID: user.ID}}}
	if err := announce(ctx, rdb, t); err != nil {
		fmt.Printf("Warning: running servers were not notified: %v\n", err)
	}
}

// announce drops the cache entries of t and tells running servers to
// refresh their feed. Without Redis there is nothing to reach.
func announce(ctx context.Context, rdb *redis.Client, t state.Transition) error {
	if rdb == nil {
		return nil
	}
	cache.SetClient(rdb)
	if err := cache.NewInvalidator().Invalidate(ctx, t.Keys); err != nil {
		return err
	}
	n := notifications.NewNotifier(rdb)
	return n.Publish(ctx, n.NewEvent(t, 0))
}

func listUsers(ctx context.Context, users repository.UserRepository) {
	all, err := users.List(ctx)
	if err != nil {
		log.Fatalf("Failed to fetch users: %v", err)
	}

	if len(all) == 0 {
		fmt.Println("No users found")
		return
	}

	fmt.Printf("%-36s  %-8s  %-30s  %s\n", "ID", "ROLE", "EMAIL", "NAME")
	for _, u := range all {
		fmt.Printf("%-36s  %-8s  %-30s  %s\n", u.ID, u.Role, u.Email, u.Name)
	}
	fmt.Printf("\nTotal: %d (as of %s)\n", len(all), time.Now().Format(time.RFC3339))
}
