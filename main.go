package main

import (
	"fmt"
	"os"

	"fjacquet/txrules/cmd/apply"
	"fjacquet/txrules/cmd/importcsv"
	"fjacquet/txrules/cmd/root"
	"fjacquet/txrules/cmd/rules"
	"fjacquet/txrules/cmd/serve"
	"fjacquet/txrules/cmd/settings"
	"fjacquet/txrules/cmd/simulate"
	"fjacquet/txrules/cmd/suggest"
	"fjacquet/txrules/internal/config"
)

func init() {
	// 1. Load .env before flags read their environment defaults
	config.LoadEnv()

	// 2. Initialize root command
	root.Init()

	// 3. Add all subcommands
	root.Cmd.AddCommand(apply.Cmd)
	root.Cmd.AddCommand(simulate.Cmd)
	root.Cmd.AddCommand(suggest.Cmd)
	root.Cmd.AddCommand(rules.Cmd)
	root.Cmd.AddCommand(importcsv.Cmd)
	root.Cmd.AddCommand(serve.Cmd)
	root.Cmd.AddCommand(settings.Cmd)
}

func main() {
	if err := root.Cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
