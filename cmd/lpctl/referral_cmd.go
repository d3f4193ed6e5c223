package main

import (
	"flag"
	"fmt"
	"io"
	"strings"
)

var referralRPCCall = callRPC

func runReferralCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, referralUsage())
		return 1
	}

	switch args[0] {
	case "state":
		return runReferralState(args[1:], stdout, stderr)
	case "rates":
		return runReferralRates(stdout, stderr)
	case "claim":
		return runReferralClaim(args[1:], stdout, stderr)
	case "set-rates":
		return runReferralSetRates(args[1:], stdout, stderr)
	case "set-claims":
		return runReferralSetClaims(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown referral subcommand: %s\n", args[0])
		fmt.Fprintln(stderr, referralUsage())
		return 1
	}
}

func runReferralState(args []string, stdout, stderr io.Writer) int {
	fs := newReferralFlagSet("referral state", stderr)
	var address string
	fs.StringVar(&address, "address", "", "referrer bech32 address")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(address) == "" {
		return printReferralError(stderr, "--address is required")
	}
	result, err := referralRPCCall("referral_state", map[string]string{"address": address}, false)
	if err != nil {
		return printReferralError(stderr, err.Error())
	}
	printResult(stdout, result)
	return 0
}

func runReferralRates(stdout, stderr io.Writer) int {
	result, err := referralRPCCall("referral_rates", nil, false)
	if err != nil {
		return printReferralError(stderr, err.Error())
	}
	printResult(stdout, result)
	return 0
}

func runReferralClaim(args []string, stdout, stderr io.Writer) int {
	fs := newReferralFlagSet("referral claim", stderr)
	var caller string
	fs.StringVar(&caller, "caller", "", "claimant bech32 address")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(caller) == "" {
		return printReferralError(stderr, "--caller is required")
	}
	result, err := referralRPCCall("referral_claim", map[string]string{"caller": caller}, true)
	if err != nil {
		return printReferralError(stderr, err.Error())
	}
	printResult(stdout, result)
	return 0
}

func runReferralSetRates(args []string, stdout, stderr io.Writer) int {
	fs := newReferralFlagSet("referral set-rates", stderr)
	var caller string
	var level1, level2 uint
	fs.StringVar(&caller, "caller", "", "admin bech32 address")
	fs.UintVar(&level1, "level1", 0, "direct referrer reward in basis points")
	fs.UintVar(&level2, "level2", 0, "second-level referrer reward in basis points")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(caller) == "" {
		return printReferralError(stderr, "--caller is required")
	}
	param := map[string]interface{}{
		"caller":    caller,
		"level1Bps": level1,
		"level2Bps": level2,
	}
	result, err := referralRPCCall("referral_setRates", param, true)
	if err != nil {
		return printReferralError(stderr, err.Error())
	}
	printResult(stdout, result)
	return 0
}

func runReferralSetClaims(args []string, stdout, stderr io.Writer) int {
	fs := newReferralFlagSet("referral set-claims", stderr)
	var caller string
	var enabled bool
	fs.StringVar(&caller, "caller", "", "admin bech32 address")
	fs.BoolVar(&enabled, "enabled", false, "whether earned rewards may be claimed")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(caller) == "" {
		return printReferralError(stderr, "--caller is required")
	}
	result, err := referralRPCCall("referral_setClaimsEnabled", map[string]interface{}{"caller": caller, "enabled": enabled}, true)
	if err != nil {
		return printReferralError(stderr, err.Error())
	}
	printResult(stdout, result)
	return 0
}

func newReferralFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func printReferralError(stderr io.Writer, msg string) int {
	fmt.Fprintf(stderr, "Error: %s\n", msg)
	return 1
}

func referralUsage() string {
	return `Usage: lpctl referral <subcommand>

Subcommands:
  state --address A                       a referrer's ledger and link
  rates                                   current reward rates and claim gate
  claim --caller A                        pay out the caller's pending rewards
  set-rates --caller A --level1 N --level2 N
  set-claims --caller A [--enabled]`
}
