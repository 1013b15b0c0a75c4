// Installation and management tool for self-hosted redirectly instances.
package main

import (
	"bufio"
	"fmt"
	"os"

	"redirectly/internal/manager/config"
	"redirectly/internal/manager/docker"
	"redirectly/internal/manager/logging"
	"redirectly/internal/manager/updater"
)

var currentManagerVersion string = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	logger := logging.NewLogger(logging.Config{Level: "info"})

	var err error
	switch os.Args[1] {
	case "install":
		err = runInstall(logger)
	case "update":
		err = updater.NewUpdater(logger).Run()
	case "status":
		err = runStatus(logger)
	case "version", "--version", "-v":
		fmt.Println(currentManagerVersion)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func runInstall(logger *logging.Logger) error {
	d := docker.NewDocker(logger)
	if err := d.EnsureInstalled(); err != nil {
		return err
	}

	conf := config.NewConfig(logger)
	reader := bufio.NewReader(os.Stdin)
	if err := conf.CollectFromUser(reader); err != nil {
		return err
	}
	if err := conf.Validate(); err != nil {
		return err
	}

	logger.Step("Saving configuration to %s", conf.EnvFile())
	if err := conf.SaveToFile(conf.EnvFile()); err != nil {
		return err
	}

	logger.Step("Deploying containers")
	if err := d.Deploy(conf); err != nil {
		return err
	}

	data := conf.GetData()
	logger.Step("Installation complete. Visit https://%s/_health to verify.", data.Domain)
	return nil
}

func runStatus(logger *logging.Logger) error {
	d := docker.NewDocker(logger)
	ok, err := d.VerifyContainersRunning()
	if err != nil {
		return err
	}
	if ok {
		fmt.Println("All containers are running.")
	}
	return nil
}

func printUsage() {
	fmt.Println("Usage: redirectly-manager [command]")
	fmt.Println("\nCommands:")
	fmt.Println("  install      Install redirectly on this server")
	fmt.Println("  update       Update to the latest app image")
	fmt.Println("  status       Check that containers are running")
	fmt.Println("  version      Show version information")
	fmt.Println("  help         Show this help message")
}
