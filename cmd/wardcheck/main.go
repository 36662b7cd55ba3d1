// wardcheck validates a wardstone configuration the way the daemon
// would load it (defaults, YAML file, environment overrides) and
// reports every problem instead of stopping at the first. With -dump
// it prints the effective merged configuration as YAML.
//
// Exit status is nonzero when the configuration has problems, so it
// slots into CI and deploy hooks.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/wardstone/wardstone/internal/config"
)

const (
	colorHeader = "\033[96m"
	colorOK     = "\033[32m"
	colorFail   = "\033[31m"
	colorReset  = "\033[0m"
)

func main() {
	configPath := flag.String("config", "wardstone.yml", "path to the YAML configuration file")
	dump := flag.Bool("dump", false, "print the effective merged configuration")
	flag.Parse()

	_ = godotenv.Load()

	fmt.Printf("%swardcheck - Configuration Pre-Flight%s\n", colorHeader, colorReset)
	fmt.Println("---------------------------------------------------------")

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Loading %-38s %s[FAIL]%s\n", *configPath+"...", colorFail, colorReset)
		fmt.Printf("  >> %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Loading %-38s %s[OK]%s\n", *configPath+"...", colorOK, colorReset)

	problems := cfg.Validate()
	bySection := make(map[string][]config.Problem)
	for _, p := range problems {
		bySection[p.Section] = append(bySection[p.Section], p)
	}

	sections := []string{"l4", "packet_filter", "l7", "anti_bot", "blocklist", "scheduler", "ops", "logging"}
	for _, s := range sections {
		if ps := bySection[s]; len(ps) > 0 {
			fmt.Printf("Section %-38s %s[FAIL]%s\n", s+"...", colorFail, colorReset)
			for _, p := range ps {
				fmt.Printf("  >> %s: %v\n", p.Option, p.Err)
			}
			continue
		}
		fmt.Printf("Section %-38s %s[OK]%s\n", s+"...", colorOK, colorReset)
	}

	fmt.Println("---------------------------------------------------------")
	if len(problems) > 0 {
		fmt.Printf("%sStatus: %d problem(s); fix before deploying.%s\n", colorFail, len(problems), colorReset)
		os.Exit(1)
	}
	fmt.Printf("%sStatus: configuration ready.%s\n", colorHeader, colorReset)

	if *dump {
		out, err := cfg.Dump()
		if err != nil {
			fmt.Fprintf(os.Stderr, "dump: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("---------------------------------------------------------")
		fmt.Print(out)
	}
}
