package cli

import (
	"fmt"
	"net/http"
	"os"

	"github.com/devserver-emu/devserver/utils"
	"github.com/spf13/cobra"
)

func lifecycle(kind, name, op string) {
	url := fmt.Sprintf("http://%s:%d/_ah/admin/%s/%s/%s",
		ServerConfig.Host, ServerConfig.Port, kind, name, op)
	resp, err := utils.PostJson(url, nil)
	if err != nil {
		fmt.Printf("Request failed: %v\n", err)
		os.Exit(2)
	}
	utils.PrintJsonResponse(resp.Body)
}

func startModule(cmd *cobra.Command, args []string) {
	lifecycle("modules", args[0], "start")
}

func stopModule(cmd *cobra.Command, args []string) {
	lifecycle("modules", args[0], "stop")
}

func startBackend(cmd *cobra.Command, args []string) {
	lifecycle("backends", args[0], "start")
}

func stopBackend(cmd *cobra.Command, args []string) {
	lifecycle("backends", args[0], "stop")
}

func listBackends(cmd *cobra.Command, args []string) {
	url := fmt.Sprintf("http://%s:%d/_ah/admin/backends", ServerConfig.Host, ServerConfig.Port)
	resp, err := http.Get(url)
	if err != nil {
		fmt.Printf("Request failed: %v\n", err)
		os.Exit(2)
	}
	utils.PrintJsonResponse(resp.Body)
}

func status(cmd *cobra.Command, args []string) {
	url := fmt.Sprintf("http://%s:%d/status", ServerConfig.Host, ServerConfig.Port)
	resp, err := http.Get(url)
	if err != nil {
		fmt.Printf("Request failed: %v\n", err)
		os.Exit(2)
	}
	utils.PrintJsonResponse(resp.Body)
}
