package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dropDatabas3/openidconnect/internal/oidc"
	"github.com/dropDatabas3/openidconnect/internal/provider"
	"github.com/dropDatabas3/openidconnect/internal/security/secretbox"
)

type providerView struct {
	Name        string   `json:"name"`
	Title       string   `json:"title,omitempty"`
	Plugin      string   `json:"plugin"`
	Issuer      string   `json:"issuer"`
	ClientID    string   `json:"client_id"`
	Secret      string   `json:"client_secret"`
	AuthURL     string   `json:"authorization_endpoint"`
	TokenURL    string   `json:"token_endpoint"`
	UserinfoURL string   `json:"userinfo_endpoint,omitempty"`
	JWKSURL     string   `json:"jwks_endpoint"`
	Scopes      []string `json:"scopes"`
	RedirectURL string   `json:"redirect_url"`
	PKCE        bool     `json:"pkce"`
}

func newProvidersCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "Resuelve los providers configurados (plugins, secretos sellados, discovery) y los lista",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := runContext(cmd)
			defer stop()

			var box *secretbox.Box
			if cfg.Security.SecretboxKey != "" {
				if box, err = secretbox.New(cfg.Security.SecretboxKey); err != nil {
					return err
				}
			}
			cfgs, err := provider.Build(ctx, cfg.Providers, provider.LoadOptions{
				Box:        box,
				HTTPClient: oidc.NewHTTPClient(cfg.HTTPTimeout()),
			})
			if err != nil {
				return err
			}
			return printProviders(cmd.OutOrStdout(), g.out, cfgs)
		},
	}
}

func printProviders(w io.Writer, format string, cfgs []provider.Config) error {
	views := make([]providerView, 0, len(cfgs))
	for _, c := range cfgs {
		c = c.Redacted()
		views = append(views, providerView{
			Name:        c.Name,
			Title:       c.Title,
			Plugin:      c.Plugin,
			Issuer:      c.Issuer,
			ClientID:    c.ClientID,
			Secret:      c.ClientSecret,
			AuthURL:     c.AuthURL,
			TokenURL:    c.TokenURL,
			UserinfoURL: c.UserinfoURL,
			JWKSURL:     c.JWKSURL,
			Scopes:      c.Scopes,
			RedirectURL: c.RedirectURL,
			PKCE:        c.UsePKCE,
		})
	}

	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(views)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tPLUGIN\tISSUER\tSCOPES\tPKCE")
	for _, v := range views {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\n", v.Name, v.Plugin, v.Issuer, strings.Join(v.Scopes, " "), v.PKCE)
	}
	return tw.Flush()
}
