package main

import (
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/journeys/internal/auth"
	"github.com/MarcoPoloResearchLab/journeys/internal/config"
	"github.com/MarcoPoloResearchLab/journeys/internal/touchpoint"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newIssueTokenCommand() *cobra.Command {
	var subject string
	var channels []string

	cmd := &cobra.Command{
		Use:   "issue-token",
		Short: "Mint a bearer token for a channel producer",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			if err := appConfig.RequireSigningSecret(); err != nil {
				return err
			}
			allowed := make([]touchpoint.Channel, 0, len(channels))
			for _, raw := range channels {
				channel, err := touchpoint.ParseChannel(raw)
				if err != nil {
					return err
				}
				allowed = append(allowed, channel)
			}

			issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
				SigningSecret: []byte(appConfig.SigningSecret),
				Issuer:        appConfig.Issuer,
				Audience:      appConfig.Audience,
				TokenTTL:      appConfig.TokenTTL,
			})
			if err != nil {
				return err
			}
			token, expiresAt, err := issuer.IssueProducerToken(subject, allowed)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expiresAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "Producer name recorded in the token subject")
	cmd.Flags().StringSliceVar(&channels, "channels", nil, "Channels the producer may ingest (default: all)")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
