package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

type flags struct {
	configPath string
	dbPath     string
	apiURL     string
	wsURL      string
	project    int64
	web        bool
	port       int
	logLevel   string
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	f := &flags{}
	cmd := &cobra.Command{
		Use:           "tasksync",
		Short:         "Live task board kept in sync with the project server",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBoard(cmd, f)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&f.configPath, "config", "", "config file path")
	pf.StringVar(&f.dbPath, "db", "", "sqlite db path")
	pf.StringVar(&f.apiURL, "api", "", "REST base URL")
	pf.StringVar(&f.wsURL, "ws", "", "websocket base URL")
	pf.Int64Var(&f.project, "project", 0, "project to open")
	pf.StringVar(&f.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&f.web, "web", false, "also serve the web view")
	cmd.Flags().IntVar(&f.port, "port", 0, "web server port")

	cmd.AddCommand(serveCmd(f))
	cmd.AddCommand(loginCmd(f))
	cmd.AddCommand(logoutCmd(f))
	return cmd
}

func serveCmd(f *flags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the web view without the terminal board",
		Long: `Run the synchronized board headless and expose it over HTTP.

Examples:
  tasksync serve --project 4 --port 8080`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, f)
		},
	}
	cmd.Flags().IntVar(&f.port, "port", 0, "web server port")
	return cmd
}

func loginCmd(f *flags) *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store the API token used for REST calls and the live channel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogin(cmd, f, token)
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "API token")
	_ = cmd.MarkFlagRequired("token")
	return cmd
}

func logoutCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored API token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogout(cmd, f)
		},
	}
}
