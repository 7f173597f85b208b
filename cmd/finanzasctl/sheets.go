package main

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	gsheet "finanzas/internal/sheets/google"
)

func sheetsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sheets",
		Short: "Google Sheets setup",
	}

	var (
		port    int
		out     string
		timeout time.Duration
	)
	auth := &cobra.Command{
		Use:   "auth",
		Short: "Authorize access to the spreadsheet and store the OAuth token",
		Long: `Run the OAuth consent flow for the client in GOOGLE_OAUTH_CLIENT_FILE or
GOOGLE_OAUTH_CLIENT_JSON. Add http://localhost:<port>/callback to the
client's authorized redirect URIs first.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := gsheet.OptionsFromConfig(a.cfg)
			cfg, err := gsheet.OAuthConfig(opts)
			if err != nil {
				return err
			}
			cfg.RedirectURL = fmt.Sprintf("http://localhost:%d/callback", port)
			if out == "" {
				out = opts.TokenFile
			}
			if out == "" {
				out = "token.json"
			}

			ln, err := net.Listen("tcp", fmt.Sprintf("localhost:%d", port))
			if err != nil {
				return fmt.Errorf("listen for oauth callback: %w", err)
			}
			type result struct {
				code string
				err  error
			}
			results := make(chan result, 1)
			mux := http.NewServeMux()
			mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
				if errStr := r.URL.Query().Get("error"); errStr != "" {
					http.Error(w, "OAuth error: "+errStr, http.StatusBadRequest)
					results <- result{err: fmt.Errorf("authorization denied: %s", errStr)}
					return
				}
				fmt.Fprintln(w, "You may close this window and return to the terminal.")
				results <- result{code: r.URL.Query().Get("code")}
			})
			srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
			go func() { _ = srv.Serve(ln) }()
			defer srv.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "Open this URL to authorize:\n%s\n",
				cfg.AuthCodeURL("state-token", oauth2.AccessTypeOffline))

			select {
			case res := <-results:
				if res.err != nil {
					return res.err
				}
				tok, err := cfg.Exchange(cmd.Context(), res.code)
				if err != nil {
					return fmt.Errorf("token exchange: %w", err)
				}
				if err := gsheet.SaveToken(out, tok); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s token to %s\n", successStyle.Render("saved"), out)
				return nil
			case <-time.After(timeout):
				return fmt.Errorf("authorization timed out after %s", timeout)
			case <-cmd.Context().Done():
				return cmd.Context().Err()
			}
		},
	}
	auth.Flags().IntVar(&port, "port", 8085, "local port for the OAuth redirect")
	auth.Flags().StringVar(&out, "out", "", "token file (default: GOOGLE_OAUTH_TOKEN_FILE or token.json)")
	auth.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "how long to wait for consent")

	cmd.AddCommand(auth)
	return cmd
}
