// Package main is the terminal client of the metro server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/Svillamizar05/metro/internal/client"
)

func main() {
	cfg, err := client.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse config: %v", err)
	}
	editor := client.NewLineEditor()
	defer editor.Close()
	if editor.IsInteractive() {
		fmt.Printf("metro client for %s; shortcuts: up down stop start ping; %s exits\n", cfg.Addr, client.QuitCommand)
	}

	c := client.New(cfg.Addr, client.Options{ReconnectDelay: cfg.ReconnectDelay, Out: os.Stdout})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx)
	}()

	err = client.Repl(ctx, c, editor, os.Stderr)
	cancel()
	<-done
	if err != nil {
		log.Fatalf("read input: %v", err)
	}
}
