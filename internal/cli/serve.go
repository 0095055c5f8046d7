package cli

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/variantlab/variantlab/internal/server"
	"github.com/variantlab/variantlab/internal/store"
)

var (
	port      int
	tokenFile string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the variantlab HTTP server.

The server provides:
  - Assignment and conversion endpoints for the site-serving layer
  - A token-protected analysis endpoint for the admin surface
  - A rollup ingest endpoint for the event tracker
  - Health check endpoint

Example:
  vlab serve --port 8080`,
	RunE: runServe,
}

func init() {
	defaultPort := 8080
	if p := os.Getenv("VLAB_PORT"); p != "" {
		if parsed, err := strconv.Atoi(p); err == nil {
			defaultPort = parsed
		}
	}

	serveCmd.Flags().IntVarP(&port, "port", "p", defaultPort, "port to listen on")
	serveCmd.Flags().StringVar(&tokenFile, "token-file", getEnvOrDefault("VLAB_TOKEN_FILE", ""), "file to write the API token to")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	s, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer s.Close()

	srv := server.New(s, port, tokenFile, logger)

	fmt.Printf("variantlab running on http://localhost:%d\n", port)
	fmt.Printf("API token: %s\n", srv.Token())
	fmt.Println("\nPress Ctrl+C to stop")

	return srv.Start()
}
