package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"assignbot/internal/app"
	"assignbot/internal/config"
	"assignbot/internal/hookserver"
)

func main() {
	var (
		cfgPath   string
		mintToken bool
		tokenTTL  time.Duration
	)
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config (yaml or json)")
	flag.BoolVar(&mintToken, "mint-token", false, "print a webhook bearer token signed with server.jwt_secret and exit")
	flag.DurationVar(&tokenTTL, "token-ttl", 0, "lifetime of the minted token (0 = no expiry)")
	flag.Parse()

	if mintToken {
		if err := printToken(cfgPath, tokenTTL); err != nil {
			fmt.Fprintln(os.Stderr, "fatal:", err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		os.Exit(1)
	}

	select {
	case <-ctx.Done():
	case <-a.Done():
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	stopErr := a.Stop(stopCtx)
	if err := a.Err(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
	if stopErr != nil {
		fmt.Fprintln(os.Stderr, "stop:", stopErr)
		os.Exit(1)
	}
}

func printToken(cfgPath string, ttl time.Duration) error {
	cfg, err := config.NewConfigManager(cfgPath).Parse()
	if err != nil {
		return err
	}
	auth := hookserver.NewAuth(cfg.Server.JWTSecret, cfg.Server.JWTIssuer)
	if auth == nil {
		return fmt.Errorf("server.jwt_secret is empty (or set %s)", config.EnvJWTSecret)
	}
	tok, err := auth.GenerateToken("erp", ttl)
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}
