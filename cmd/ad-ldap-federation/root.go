package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/isometry/ad-ldap-federation/internal/account"
	"github.com/isometry/ad-ldap-federation/internal/adapter"
	"github.com/isometry/ad-ldap-federation/internal/config"
	adldap "github.com/isometry/ad-ldap-federation/internal/ldap"
	"github.com/isometry/ad-ldap-federation/internal/mfa"
	"github.com/isometry/ad-ldap-federation/internal/server"
)

const shutdownTimeout = 10 * time.Second

func newRootCommand(lookup func(string) (string, bool)) *cobra.Command {
	var (
		cfg     *config.Config
		loadErr error
	)
	cfg, loadErr = config.Load(lookup)
	if cfg == nil {
		cfg = &config.Config{}
	}

	cmd := &cobra.Command{
		Use:          "ad-ldap-federation",
		Short:        "LDAP server impersonating Active Directory for user federation",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if loadErr != nil {
				return fmt.Errorf("environment: %w", loadErr)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("configuration: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
			defer stop()
			return run(ctx, cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.DC, "dc", cfg.DC, "DNS domain of the directory ("+config.EnvDC+")")
	f.StringVar(&cfg.CNUsers, "cn-users", cfg.CNUsers, "users container ("+config.EnvCNUsers+")")
	f.StringVar(&cfg.OURoles, "ou-roles", cfg.OURoles, "roles organizational unit ("+config.EnvOURoles+")")
	f.StringVar(&cfg.LDAPHost, "ldap-host", cfg.LDAPHost, "LDAP listen host ("+config.EnvLDAPHost+")")
	f.IntVar(&cfg.LDAPPort, "ldap-port", cfg.LDAPPort, "LDAP listen port ("+config.EnvLDAPPort+")")
	f.StringVar(&cfg.BindDN, "bind-dn", cfg.BindDN, "administrative bind DN or common name ("+config.EnvBindDN+")")
	f.StringVar(&cfg.DomainSID, "domain-sid", cfg.DomainSID, "domain SID of synthesized objectSid values, empty to disable ("+config.EnvDomainSID+")")
	f.StringVar(&cfg.HTTPHost, "http-host", cfg.HTTPHost, "MFA HTTP listen host ("+config.EnvHTTPHost+")")
	f.IntVar(&cfg.HTTPPort, "http-port", cfg.HTTPPort, "MFA HTTP listen port ("+config.EnvHTTPPort+")")
	f.DurationVar(&cfg.MaxPwdAge, "max-pwd-age", cfg.MaxPwdAge, "password lifetime ("+config.EnvMaxPwdAge+")")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "trace, debug, info, warn or error ("+config.EnvLogLevel+")")
	f.BoolVar(&cfg.LogJSON, "log-json", cfg.LogJSON, "log in JSON ("+config.EnvLogJSON+")")

	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	root := adldap.NewHCLogger(cfg.Logger("ad-ldap-federation"))

	suffix, err := cfg.Suffix()
	if err != nil {
		return err
	}
	var mapOpts []adldap.AttributeMapOption
	if cfg.DomainSID != "" {
		mapOpts = append(mapOpts, adldap.WithDomainSID(cfg.DomainSID))
	}
	attributes := adldap.NewAttributeMap(suffix, nil, mapOpts...)

	acct, err := account.New(account.Options{MaxPwdAge: cfg.MaxPwdAge})
	if err != nil {
		return err
	}
	store, err := adapter.NewMock(acct, adapter.SeedUsers(), root.Named("adapter"))
	if err != nil {
		return err
	}

	ldapSrv, err := server.New(server.Config{
		BindDN:       cfg.FullBindDN(suffix),
		BindPassword: cfg.BindPassword,
		Attributes:   attributes,
	}, store, root.Named("ldap-server"))
	if err != nil {
		return err
	}

	basicAuth, err := cfg.BasicAuth()
	if err != nil {
		return err
	}
	mfaLogger := root.Named("mfa")
	handler, err := mfa.NewHandler(store, logDelivery(mfaLogger), mfa.HandlerOptions{BasicAuth: basicAuth}, mfaLogger)
	if err != nil {
		return err
	}
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 2)
	go func() {
		errc <- ldapSrv.Run(cfg.LDAPAddr())
	}()
	go func() {
		mfaLogger.Info("MFA HTTP listening", map[string]any{"address": httpSrv.Addr})
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("mfa http: %w", err)
			return
		}
		errc <- nil
	}()

	var runErr error
	select {
	case <-ctx.Done():
		root.Info("Shutting down", nil)
	case runErr = <-errc:
		root.Error("Listener stopped", map[string]any{"error": fmt.Sprint(runErr)})
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return errors.Join(
		runErr,
		httpSrv.Shutdown(shutdownCtx),
		ldapSrv.Stop(),
	)
}

// logDelivery stands in for an SMS or mail gateway: it logs the message
// with the code redacted.
func logDelivery(logger adldap.Logger) mfa.DeliverFunc {
	return func(_ context.Context, message map[string]any) error {
		logger.Info("MFA code issued", adldap.SanitizeFields(message))
		return nil
	}
}
