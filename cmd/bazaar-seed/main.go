package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math/big"
	"os"
	"time"

	"github.com/erazemk/bazaar/internal/db"
	"github.com/erazemk/bazaar/internal/logger"
	"github.com/erazemk/bazaar/internal/model"
	"github.com/erazemk/bazaar/internal/session"
	"github.com/erazemk/bazaar/internal/store"
	"github.com/erazemk/bazaar/internal/upload"
)

type sample struct {
	name      string
	condition model.Condition
	kind      string
	color     color.RGBA
}

var samples = []sample{
	{"Oak chair", model.ConditionNew, "Furniture", color.RGBA{139, 90, 43, 255}},
	{"Desk lamp", model.ConditionNew, "Lighting", color.RGBA{240, 200, 80, 255}},
	{"Winter jacket", model.ConditionWornOut, "Clothing", color.RGBA{40, 60, 110, 255}},
	{"Bookshelf", model.ConditionWornOut, "Furniture", color.RGBA{110, 70, 40, 255}},
	{"Radio", model.ConditionDamaged, "Electronics", color.RGBA{70, 70, 70, 255}},
}

func main() {
	fs := flag.NewFlagSet("bazaar-seed", flag.ContinueOnError)

	var dbPath string
	fs.StringVar(&dbPath, "db", "bazaar.sqlite3", "")
	fs.StringVar(&dbPath, "d", "bazaar.sqlite3", "")

	var publicURL string
	fs.StringVar(&publicURL, "url", "http://localhost:8080", "")
	fs.StringVar(&publicURL, "u", "http://localhost:8080", "")

	var email string
	fs.StringVar(&email, "email", "demo@example.com", "")
	fs.StringVar(&email, "e", "demo@example.com", "")

	fs.Usage = func() {
		fmt.Fprint(os.Stdout, `Usage: bazaar-seed [flags]

Creates a demo account and uploads a few sample items.

Flags:
  -d, -db <path>          SQLite database path (default: bazaar.sqlite3)
  -u, -url <url>          public server address used in picture links (default: http://localhost:8080)
  -e, -email <address>    demo account email (default: demo@example.com)
  -h, -help               show this help and exit
`)
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(1)
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(os.Stderr, "unexpected argument: %s\n", fs.Arg(0))
		fs.Usage()
		os.Exit(1)
	}

	password, err := seed(context.Background(), dbPath, publicURL, email)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Database seeded: %s\n", dbPath)
	fmt.Printf("Sample items: %d\n", len(samples))
	fmt.Println()
	fmt.Println("Demo account created:")
	fmt.Printf("  Email:    %s\n", email)
	fmt.Printf("  Password: %s\n", password)
}

// seed registers the demo account and uploads the samples through the
// regular upload workflow. It returns the generated password.
func seed(ctx context.Context, dbPath, publicURL, email string) (string, error) {
	database, err := db.Open(dbPath)
	if err != nil {
		return "", fmt.Errorf("opening database: %w", err)
	}
	defer database.Close()

	if err := db.Migrate(database); err != nil {
		return "", fmt.Errorf("migrating database: %w", err)
	}

	secret, err := store.GetJWTSecret(ctx, database)
	if err != nil {
		return "", fmt.Errorf("loading JWT secret: %w", err)
	}

	password, err := generatePassword(16)
	if err != nil {
		return "", fmt.Errorf("generating password: %w", err)
	}

	log := logger.Nop()
	provider := session.NewProvider(database, secret, time.Hour, log)
	if _, err := provider.Register(ctx, email, password, model.Profile{Name: "Demo"}); err != nil {
		return "", fmt.Errorf("creating demo account: %w", err)
	}

	sess := session.New()
	if _, err := provider.SignIn(ctx, sess, email, password); err != nil {
		return "", fmt.Errorf("signing in: %w", err)
	}
	defer provider.SignOut(ctx, sess)

	items := store.NewTree(database, log)
	defer items.Close()
	wf := upload.New(items, store.NewBucket(database, publicURL), sess)

	for i, s := range samples {
		pic, err := swatch(s.color)
		if err != nil {
			return "", err
		}
		_, err = wf.Submit(ctx, upload.Form{
			Name:      s.name,
			Condition: s.condition,
			Type:      s.kind,
			Image:     &upload.Image{Filename: fmt.Sprintf("sample-%d.png", i+1), Data: pic},
		})
		if err != nil {
			return "", fmt.Errorf("uploading %s: %w", s.name, err)
		}
	}

	return password, nil
}

// swatch returns a small PNG filled with c.
func swatch(c color.RGBA) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding sample picture: %w", err)
	}
	return buf.Bytes(), nil
}

// generatePassword creates a random password of the given length.
func generatePassword(length int) (string, error) {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%&*"
	result := make([]byte, length)
	for i := range result {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		result[i] = charset[n.Int64()]
	}
	return string(result), nil
}
