// Command mflow-keygen is the administrative issuance tool: it derives a
// license key for a customer and, unless -print-only is set, writes the
// record to the configured store and emits the notification.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/mflowhq/mflow-license-sdk/mflowlicense"
	"github.com/mflowhq/mflow-license-sdk/mflowlicense/licensestore"
)

// Config is loaded from MFLOW_-prefixed environment variables.
type Config struct {
	Secret    string `envconfig:"SECRET" required:"true"`
	KeyPrefix string `envconfig:"KEY_PREFIX" default:"MFLOW"`

	Store         string `envconfig:"STORE" default:"postgres"`
	PostgresDSN   string `envconfig:"POSTGRES_DSN"`
	MongoURI      string `envconfig:"MONGO_URI"`
	MongoDatabase string `envconfig:"MONGO_DATABASE" default:"mflow"`
	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
}

func main() {
	email := flag.String("email", "", "customer email (required)")
	plan := flag.String("plan", "PRO", "plan: BASIC, PRO, DIAMOND or MASTER")
	device := flag.String("device", "", "pre-registered device id (empty = bind on first activation)")
	days := flag.Int("days", 0, "expiry in days from now, 0 = non-expiring")
	printOnly := flag.Bool("print-only", false, "derive and print the key without writing a record")
	revoke := flag.Bool("revoke", false, "revoke the license for -email instead of issuing")
	flag.Parse()

	if *email == "" {
		fmt.Fprintln(os.Stderr, "mflow-keygen: -email is required")
		flag.Usage()
		os.Exit(2)
	}

	var cfg Config
	if err := envconfig.Process("MFLOW", &cfg); err != nil {
		fatal("load config: %v", err)
	}

	deriver, err := mflowlicense.NewDeriver([]byte(cfg.Secret), mflowlicense.WithKeyPrefix(cfg.KeyPrefix))
	if err != nil {
		fatal("configure key derivation: %v", err)
	}

	if *printOnly {
		deviceID := *device
		if deviceID == "" {
			deviceID = licensestore.DeviceUnbound
		}
		fmt.Println(deriver.Derive(*email, deviceID))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := licensestore.Open(ctx, licensestore.Config{
		Driver:        cfg.Store,
		PostgresDSN:   cfg.PostgresDSN,
		MongoURI:      cfg.MongoURI,
		MongoDatabase: cfg.MongoDatabase,
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
	})
	if err != nil {
		fatal("open license store: %v", err)
	}
	defer store.Close(context.Background())

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	issuer := mflowlicense.NewIssuer(deriver, store, mflowlicense.WithIssuerLogger(logger))

	if *revoke {
		if err := issuer.Revoke(ctx, *email); err != nil {
			fatal("revoke license: %v", err)
		}
		fmt.Printf("revoked license for %s\n", mflowlicense.NormalizeEmail(*email))
		return
	}

	var expiresAt *time.Time
	if *days > 0 {
		t := time.Now().AddDate(0, 0, *days)
		expiresAt = &t
	}

	rec, err := issuer.Issue(ctx, *email, licensestore.Plan(*plan), *device, expiresAt)
	if err != nil {
		fatal("issue license: %v", err)
	}

	fmt.Printf("email:       %s\n", rec.Email)
	fmt.Printf("license key: %s\n", rec.LicenseKey)
	fmt.Printf("plan:        %s\n", rec.Plan)
	fmt.Printf("device:      %s\n", rec.DeviceID)
	if rec.ExpiresAt != nil {
		fmt.Printf("expires:     %s\n", rec.ExpiresAt.Format(time.RFC3339))
	}
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "mflow-keygen: "+format+"\n", args...)
	os.Exit(1)
}
