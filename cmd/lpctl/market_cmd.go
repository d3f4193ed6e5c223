package main

import (
	"flag"
	"fmt"
	"io"
	"strings"
)

var marketRPCCall = callRPC

func runMarketCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, marketUsage())
		return 1
	}

	switch args[0] {
	case "tiers":
		return runMarketTiers(stdout, stderr)
	case "route":
		return runMarketRoute(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown market subcommand: %s\n", args[0])
		fmt.Fprintln(stderr, marketUsage())
		return 1
	}
}

func runMarketTiers(stdout, stderr io.Writer) int {
	result, err := marketRPCCall("market_tiers", nil, false)
	if err != nil {
		return printMarketError(stderr, err.Error())
	}
	printResult(stdout, result)
	return 0
}

func runMarketRoute(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("market route", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var token string
	fs.StringVar(&token, "token", "", "payment token hex address")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(token) == "" {
		return printMarketError(stderr, "--token is required")
	}
	result, err := marketRPCCall("market_route", map[string]string{"token": token}, false)
	if err != nil {
		return printMarketError(stderr, err.Error())
	}
	printResult(stdout, result)
	return 0
}

func printMarketError(stderr io.Writer, msg string) int {
	fmt.Fprintf(stderr, "Error: %s\n", msg)
	return 1
}

func marketUsage() string {
	return `Usage: lpctl market <subcommand>

Subcommands:
  tiers                                   fee tiers probed for venues
  route --token T                         deepest venue for a payment token`
}
