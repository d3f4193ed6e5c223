package main

import (
	"flag"
	"fmt"
	"io"
	"strings"
)

var adminRPCCall = callRPC

func runAdminCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, adminUsage())
		return 1
	}

	switch args[0] {
	case "pause":
		return runAdminPause(args[1:], stdout, stderr)
	case "grant-role":
		return runAdminGrantRole(args[1:], stdout, stderr)
	case "revoke-role":
		return runAdminRevokeRole(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown admin subcommand: %s\n", args[0])
		fmt.Fprintln(stderr, adminUsage())
		return 1
	}
}

func runAdminPause(args []string, stdout, stderr io.Writer) int {
	fs := newAdminFlagSet("admin pause", stderr)
	var caller, module string
	var paused bool
	fs.StringVar(&caller, "caller", "", "pauser bech32 address")
	fs.StringVar(&module, "module", "", "module to toggle (sale, referral or market)")
	fs.BoolVar(&paused, "paused", false, "whether the module rejects operations")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(caller) == "" {
		return printAdminError(stderr, "--caller is required")
	}
	if strings.TrimSpace(module) == "" {
		return printAdminError(stderr, "--module is required")
	}
	param := map[string]interface{}{"caller": caller, "module": module, "paused": paused}
	result, err := adminRPCCall("launchpad_setPaused", param, true)
	if err != nil {
		return printAdminError(stderr, err.Error())
	}
	printResult(stdout, result)
	return 0
}

func runAdminGrantRole(args []string, stdout, stderr io.Writer) int {
	return runAdminRoleChange("launchpad_grantRole", "admin grant-role", args, stdout, stderr)
}

func runAdminRevokeRole(args []string, stdout, stderr io.Writer) int {
	return runAdminRoleChange("launchpad_revokeRole", "admin revoke-role", args, stdout, stderr)
}

func runAdminRoleChange(method, name string, args []string, stdout, stderr io.Writer) int {
	fs := newAdminFlagSet(name, stderr)
	var caller, role, address string
	fs.StringVar(&caller, "caller", "", "admin bech32 address")
	fs.StringVar(&role, "role", "", "role identifier")
	fs.StringVar(&address, "address", "", "member bech32 address")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(caller) == "" {
		return printAdminError(stderr, "--caller is required")
	}
	if strings.TrimSpace(role) == "" {
		return printAdminError(stderr, "--role is required")
	}
	if strings.TrimSpace(address) == "" {
		return printAdminError(stderr, "--address is required")
	}
	param := map[string]string{"caller": caller, "role": role, "address": address}
	result, err := adminRPCCall(method, param, true)
	if err != nil {
		return printAdminError(stderr, err.Error())
	}
	printResult(stdout, result)
	return 0
}

func newAdminFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func printAdminError(stderr io.Writer, msg string) int {
	fmt.Fprintf(stderr, "Error: %s\n", msg)
	return 1
}

func adminUsage() string {
	return `Usage: lpctl admin <subcommand>

Subcommands:
  pause --caller A --module M [--paused]  toggle a module pause switch
  grant-role --caller A --role R --address A
  revoke-role --caller A --role R --address A

Roles: ROLE_SALE_ADMIN, ROLE_REFERRAL_ADMIN, ROLE_PAUSER`
}
