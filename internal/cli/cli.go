// Package cli implements the admin command line talking to a running server.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// ServerConfig locates the server the CLI talks to.
var ServerConfig struct {
	Host string
	Port int
}

var rootCmd = &cobra.Command{
	Use:   "devserver-cli",
	Short: "CLI utility for the local development server",
	Long:  `CLI utility to inspect and control modules and backends of a running development server.`,
}

var startModuleCmd = &cobra.Command{
	Use:   "start-module [name]",
	Short: "Resumes a stopped module",
	Args:  cobra.ExactArgs(1),
	Run:   startModule,
}

var stopModuleCmd = &cobra.Command{
	Use:   "stop-module [name]",
	Short: "Stops a serving module",
	Args:  cobra.ExactArgs(1),
	Run:   stopModule,
}

var startBackendCmd = &cobra.Command{
	Use:   "start-backend [name]",
	Short: "Resumes a stopped backend",
	Args:  cobra.ExactArgs(1),
	Run:   startBackend,
}

var stopBackendCmd = &cobra.Command{
	Use:   "stop-backend [name]",
	Short: "Stops a serving backend",
	Args:  cobra.ExactArgs(1),
	Run:   stopBackend,
}

var backendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "Lists the configured backends",
	Run:   listBackends,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Shows the server status",
	Run:   status,
}

func Init() {
	rootCmd.PersistentFlags().StringVarP(&ServerConfig.Host, "host", "H", ServerConfig.Host, "remote server host")
	rootCmd.PersistentFlags().IntVarP(&ServerConfig.Port, "port", "P", ServerConfig.Port, "remote server port")

	rootCmd.AddCommand(startModuleCmd)
	rootCmd.AddCommand(stopModuleCmd)
	rootCmd.AddCommand(startBackendCmd)
	rootCmd.AddCommand(stopBackendCmd)
	rootCmd.AddCommand(backendsCmd)
	rootCmd.AddCommand(statusCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
