// Command main fills the store with the demo accounts and generated content.
package main

import (
	"flag"
	"log"
	"os"

	"bilimshare/internal/config"
	"bilimshare/internal/database"
	"bilimshare/internal/seed"
)

func main() {
	posts := flag.Int("posts", 40, "Number of posts to create")
	maxComments := flag.Int("max-comments", 6, "Maximum comments per post")
	maxLikes := flag.Int("max-likes", 5, "Maximum likes per post")
	replies := flag.Int("replies", 30, "Percentage of comments that reply to another comment")
	days := flag.Int("days", 30, "Spread timestamps over this many past days")
	randomSeed := flag.Int64("seed", 0, "Random seed (0 picks one from the clock)")
	shouldClean := flag.Bool("clean", true, "Clean database before seeding")
	fixturePath := flag.String("fixture", "", "YAML file with demo accounts (defaults to the built-in set)")
	flag.Parse()

	log.Println("BilimShare seeder")
	log.Printf("Target: %d posts, clean=%v\n", *posts, *shouldClean)

	fixture := seed.DefaultFixture()
	if *fixturePath != "" {
		data, err := os.ReadFile(*fixturePath)
		if err != nil {
			log.Fatalf("Failed to read fixture: %v", err)
		}
		if fixture, err = seed.ParseFixture(data); err != nil {
			log.Fatalf("Invalid fixture: %v", err)
		}
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	s := seed.NewSeeder(db, seed.Options{
		Posts:           *posts,
		MaxComments:     *maxComments,
		MaxLikes:        *maxLikes,
		Clean:           *shouldClean,
		RandomSeed:      *randomSeed,
		MaxDays:         *days,
		ReplyPercentage: *replies,
	})

	res, err := s.Run(fixture)
	if err != nil {
		log.Fatalf("Seeding failed: %v", err)
	}

	log.Printf("Created %d users, %d posts, %d comments, %d likes\n",
		res.Users, res.Posts, res.Comments, res.Likes)
	log.Printf("All demo accounts use the password: %s\n", fixture.Password)
}
