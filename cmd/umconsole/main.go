package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/ascrivener/um/pkg/config"
	"github.com/ascrivener/um/pkg/console"
)

func main() {
	configPath := flag.String("config", "", "Path to a TOML configuration file")
	fingerprint := flag.String("fingerprint", "", "Expected server certificate fingerprint (hex)")
	timeout := flag.Duration("timeout", 10*time.Second, "Connection timeout")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: umconsole [flags] [ADDR]\n\nflags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() > 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	addr := cfg.Console.Listen
	if flag.NArg() == 1 {
		addr = flag.Arg(0)
	}
	if *fingerprint != "" {
		cfg.Console.Fingerprint = *fingerprint
	}
	if cfg.Console.Fingerprint == "" {
		log.Printf("Warning: server certificate is not pinned")
	}

	dialCtx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	sess, err := console.Dial(dialCtx, addr, cfg.Console.Fingerprint)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer sess.Close()

	go func() {
		if _, err := io.Copy(sess, os.Stdin); err != nil {
			log.Printf("Failed to send input: %v", err)
		}
		sess.CloseWrite()
	}()

	if _, err := io.Copy(os.Stdout, sess); err != nil {
		log.Printf("Session ended: %v", err)
	}
}
