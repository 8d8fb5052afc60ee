package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/go-authgate/idgate/internal/bootstrap"
	"github.com/go-authgate/idgate/internal/config"
	"github.com/go-authgate/idgate/internal/logging"
	"github.com/go-authgate/idgate/internal/m2m"
	"github.com/go-authgate/idgate/internal/version"

	"github.com/rs/zerolog/log"
)

func main() {
	// Define flags
	showVersion := flag.Bool("version", false, "Show version information")
	flag.BoolVar(showVersion, "v", false, "Show version information (shorthand)")
	flag.Usage = printUsage
	flag.Parse()

	if *showVersion {
		version.PrintVersion()
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	commands := map[string]func(context.Context, *config.Config) error{
		"server":    bootstrap.Run,
		"api":       bootstrap.RunResourceServer,
		"provision": bootstrap.Provision,
		"m2m":       runM2M,
		"webclient": bootstrap.RunWebClient,
	}
	run, ok := commands[args[0]]
	if !ok {
		fmt.Printf("Unknown command: %s\n\n", args[0])
		printUsage()
		os.Exit(1)
	}

	cfg := config.Load()
	closer := logging.Setup(cfg)

	if err := cfg.Validate(); err != nil {
		log.Error().Err(err).Msg("Invalid configuration")
		_ = closer.Close()
		os.Exit(1)
	}

	err := run(context.Background(), cfg)
	_ = closer.Close()
	if err != nil {
		log.Error().Err(err).Str("command", args[0]).Msg("Command failed")
		os.Exit(1)
	}
}

func runM2M(ctx context.Context, cfg *config.Config) error {
	return m2m.Run(ctx, cfg, os.Stdout)
}

func printUsage() {
	fmt.Printf("Usage: %s [OPTIONS] COMMAND\n\n", os.Args[0])
	fmt.Println("OAuth 2.0 and OpenID Connect authorization server")
	fmt.Println("\nCommands:")
	fmt.Println("  server       Start the authorization server")
	fmt.Println("  api          Start the sample resource API")
	fmt.Println("  provision    Register the clients, scopes, resources and users of the manifest")
	fmt.Println("  m2m          Call the API with a client_credentials token")
	fmt.Println("  webclient    Start the sample web client")
	fmt.Println("\nOptions:")
	fmt.Println("  -v, --version    Show version information")
	fmt.Println("  -h, --help       Show this help message")
}
