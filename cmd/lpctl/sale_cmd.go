package main

import (
	"flag"
	"fmt"
	"io"
	"strings"
)

var saleRPCCall = callRPC

func runSaleCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, saleUsage())
		return 1
	}

	switch args[0] {
	case "status":
		return runSaleStatus(stdout, stderr)
	case "stages":
		return runSaleStages(stdout, stderr)
	case "contribution":
		return runSaleContribution(args[1:], stdout, stderr)
	case "purchase":
		return runSalePurchase(args[1:], stdout, stderr)
	case "add-stage":
		return runSaleAddStage(args[1:], stdout, stderr)
	case "update-stage":
		return runSaleUpdateStage(args[1:], stdout, stderr)
	case "activate":
		return runSaleActivate(args[1:], stdout, stderr)
	case "deactivate":
		return runSaleDeactivate(args[1:], stdout, stderr)
	case "set-active":
		return runSaleSetActive(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown sale subcommand: %s\n", args[0])
		fmt.Fprintln(stderr, saleUsage())
		return 1
	}
}

func runSaleStatus(stdout, stderr io.Writer) int {
	result, err := saleRPCCall("sale_status", nil, false)
	if err != nil {
		return printSaleError(stderr, err.Error())
	}
	printResult(stdout, result)
	return 0
}

func runSaleStages(stdout, stderr io.Writer) int {
	result, err := saleRPCCall("sale_stages", nil, false)
	if err != nil {
		return printSaleError(stderr, err.Error())
	}
	printResult(stdout, result)
	return 0
}

func runSaleContribution(args []string, stdout, stderr io.Writer) int {
	fs := newSaleFlagSet("sale contribution", stderr)
	var address string
	fs.StringVar(&address, "address", "", "buyer bech32 address")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(address) == "" {
		return printSaleError(stderr, "--address is required")
	}
	result, err := saleRPCCall("sale_contribution", map[string]string{"address": address}, false)
	if err != nil {
		return printSaleError(stderr, err.Error())
	}
	printResult(stdout, result)
	return 0
}

func runSalePurchase(args []string, stdout, stderr io.Writer) int {
	fs := newSaleFlagSet("sale purchase", stderr)
	var (
		buyer      string
		token      string
		amount     string
		intentRef  string
		referrer   string
		referrerL2 string
	)
	fs.StringVar(&buyer, "buyer", "", "buyer bech32 address")
	fs.StringVar(&token, "token", "", "payment token hex address")
	fs.StringVar(&amount, "amount", "", "payment amount in base units")
	fs.StringVar(&intentRef, "intent", "", "caller-chosen replay-protection reference")
	fs.StringVar(&referrer, "referrer", "", "level-1 referrer bech32 address")
	fs.StringVar(&referrerL2, "referrer-l2", "", "level-2 referrer bech32 address")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(buyer) == "" {
		return printSaleError(stderr, "--buyer is required")
	}
	if strings.TrimSpace(token) == "" {
		return printSaleError(stderr, "--token is required")
	}
	if strings.TrimSpace(amount) == "" {
		return printSaleError(stderr, "--amount is required")
	}
	param := map[string]string{
		"buyer":  buyer,
		"token":  token,
		"amount": amount,
	}
	if strings.TrimSpace(intentRef) != "" {
		param["intentRef"] = intentRef
	}
	if strings.TrimSpace(referrer) != "" {
		param["referrer"] = referrer
	}
	if strings.TrimSpace(referrerL2) != "" {
		param["referrerL2"] = referrerL2
	}
	result, err := saleRPCCall("sale_purchase", param, true)
	if err != nil {
		return printSaleError(stderr, err.Error())
	}
	printResult(stdout, result)
	return 0
}

func runSaleAddStage(args []string, stdout, stderr io.Writer) int {
	fs := newSaleFlagSet("sale add-stage", stderr)
	var caller, capAmount, minPurchase, maxPurchase string
	fs.StringVar(&caller, "caller", "", "admin bech32 address")
	fs.StringVar(&capAmount, "cap", "", "stage cap in stable base units")
	fs.StringVar(&minPurchase, "min", "", "per-buyer minimum contribution")
	fs.StringVar(&maxPurchase, "max", "", "per-buyer maximum contribution")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(caller) == "" {
		return printSaleError(stderr, "--caller is required")
	}
	if strings.TrimSpace(capAmount) == "" {
		return printSaleError(stderr, "--cap is required")
	}
	param := map[string]string{"caller": caller, "cap": capAmount}
	if strings.TrimSpace(minPurchase) != "" {
		param["minPurchase"] = minPurchase
	}
	if strings.TrimSpace(maxPurchase) != "" {
		param["maxPurchase"] = maxPurchase
	}
	result, err := saleRPCCall("sale_addStage", param, true)
	if err != nil {
		return printSaleError(stderr, err.Error())
	}
	printResult(stdout, result)
	return 0
}

func runSaleUpdateStage(args []string, stdout, stderr io.Writer) int {
	fs := newSaleFlagSet("sale update-stage", stderr)
	var (
		caller, capAmount, minPurchase, maxPurchase string
		id                                          uint64
	)
	fs.StringVar(&caller, "caller", "", "admin bech32 address")
	fs.Uint64Var(&id, "id", 0, "stage identifier")
	fs.StringVar(&capAmount, "cap", "", "stage cap in stable base units")
	fs.StringVar(&minPurchase, "min", "", "per-buyer minimum contribution")
	fs.StringVar(&maxPurchase, "max", "", "per-buyer maximum contribution")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(caller) == "" {
		return printSaleError(stderr, "--caller is required")
	}
	if id == 0 {
		return printSaleError(stderr, "--id is required")
	}
	if strings.TrimSpace(capAmount) == "" {
		return printSaleError(stderr, "--cap is required")
	}
	param := map[string]interface{}{"caller": caller, "id": id, "cap": capAmount}
	if strings.TrimSpace(minPurchase) != "" {
		param["minPurchase"] = minPurchase
	}
	if strings.TrimSpace(maxPurchase) != "" {
		param["maxPurchase"] = maxPurchase
	}
	result, err := saleRPCCall("sale_updateStage", param, true)
	if err != nil {
		return printSaleError(stderr, err.Error())
	}
	printResult(stdout, result)
	return 0
}

func runSaleActivate(args []string, stdout, stderr io.Writer) int {
	fs := newSaleFlagSet("sale activate", stderr)
	var caller string
	var id uint64
	fs.StringVar(&caller, "caller", "", "admin bech32 address")
	fs.Uint64Var(&id, "id", 0, "stage identifier")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(caller) == "" {
		return printSaleError(stderr, "--caller is required")
	}
	if id == 0 {
		return printSaleError(stderr, "--id is required")
	}
	result, err := saleRPCCall("sale_activateStage", map[string]interface{}{"caller": caller, "id": id}, true)
	if err != nil {
		return printSaleError(stderr, err.Error())
	}
	printResult(stdout, result)
	return 0
}

func runSaleDeactivate(args []string, stdout, stderr io.Writer) int {
	fs := newSaleFlagSet("sale deactivate", stderr)
	var caller string
	fs.StringVar(&caller, "caller", "", "admin bech32 address")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(caller) == "" {
		return printSaleError(stderr, "--caller is required")
	}
	result, err := saleRPCCall("sale_deactivateStage", map[string]string{"caller": caller}, true)
	if err != nil {
		return printSaleError(stderr, err.Error())
	}
	printResult(stdout, result)
	return 0
}

func runSaleSetActive(args []string, stdout, stderr io.Writer) int {
	fs := newSaleFlagSet("sale set-active", stderr)
	var caller string
	var active bool
	fs.StringVar(&caller, "caller", "", "admin bech32 address")
	fs.BoolVar(&active, "active", false, "whether the sale accepts purchases")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(caller) == "" {
		return printSaleError(stderr, "--caller is required")
	}
	result, err := saleRPCCall("sale_setActive", map[string]interface{}{"caller": caller, "active": active}, true)
	if err != nil {
		return printSaleError(stderr, err.Error())
	}
	printResult(stdout, result)
	return 0
}

func newSaleFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func printSaleError(stderr io.Writer, msg string) int {
	fmt.Fprintf(stderr, "Error: %s\n", msg)
	return 1
}

func saleUsage() string {
	return `Usage: lpctl sale <subcommand>

Subcommands:
  status                                  sale activity and the active stage
  stages                                  full stage schedule
  contribution --address A                a buyer's totals per stage
  purchase --buyer A --token T --amount N [--intent REF] [--referrer A] [--referrer-l2 A]
  add-stage --caller A --cap N [--min N] [--max N]
  update-stage --caller A --id I --cap N [--min N] [--max N]
  activate --caller A --id I
  deactivate --caller A
  set-active --caller A [--active]`
}
