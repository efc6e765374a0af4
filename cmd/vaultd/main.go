// Command vaultd is the credential vault daemon: it persists typed
// credentials encrypted at rest and serves them to the relay over a
// local unix socket.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/telclaude/vault/internal/auth"
	"github.com/telclaude/vault/internal/config"
	"github.com/telclaude/vault/internal/fetchguard"
	"github.com/telclaude/vault/internal/ipc"
	"github.com/telclaude/vault/internal/keysource"
	"github.com/telclaude/vault/internal/logging"
	"github.com/telclaude/vault/internal/oauth"
	"github.com/telclaude/vault/internal/signer"
	"github.com/telclaude/vault/internal/store"
)

// Exit codes for startup failures. 0 is reserved for a clean shutdown.
const (
	exitMissingKey       = 2
	exitStoreInit        = 3
	exitSocketBind       = 4
	exitPermissionVerify = 5
)

const shutdownGrace = 10 * time.Second

func main() {
	root := &cobra.Command{
		Use:           "vaultd",
		Short:         "Credential vault daemon for the telclaude relay",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(runCmd(), generateSigningKeyCmd())

	if err := root.Execute(); err != nil {
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			logging.Logger.Error(exitErr.msg, "error", exitErr.err)
			os.Exit(exitErr.code)
		}
		logging.Logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// exitError carries a specific process exit code up through cobra.
type exitError struct {
	code int
	msg  string
	err  error
}

func (e *exitError) Error() string { return fmt.Sprintf("%s: %v", e.msg, e.err) }
func (e *exitError) Unwrap() error { return e.err }

func fail(code int, msg string, err error) error {
	return &exitError{code: code, msg: msg, err: err}
}

// resolveEncryptionKey returns the raw key from the environment, falling
// back to the OS keychain where one exists. An empty result is fatal.
func resolveEncryptionKey(cfg config.Config) ([]byte, error) {
	if cfg.EncryptionKey != "" {
		return []byte(cfg.EncryptionKey), nil
	}
	key, err := keysource.FromKeychain()
	if err != nil {
		if errors.Is(err, keysource.ErrUnsupported) || errors.Is(err, keysource.ErrNotFound) {
			return nil, errors.New("VAULT_ENCRYPTION_KEY is not set")
		}
		return nil, err
	}
	logging.Logger.Info("encryption key loaded from keychain")
	return key, nil
}

func openStore(cfg config.Config) (*store.Store, error) {
	rawKey, err := resolveEncryptionKey(cfg)
	if err != nil {
		return nil, fail(exitMissingKey, "missing encryption key", err)
	}

	advisories := auth.CheckKeyStrength(context.Background(), string(rawKey), auth.KeyStrengthOptions{
		EnableHIBP: cfg.CheckKeyBreached,
	})
	for _, a := range advisories {
		logging.Logger.Warn("encryption key advisory", "reason", a.Reason)
	}

	s, err := store.Open(cfg.VaultFilePath(), rawKey, cfg.StrictListDecryptFailures)
	if err != nil {
		return nil, fail(exitStoreInit, "open vault store", err)
	}
	return s, nil
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the vault daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logging.Configure(cfg.LogLevel)

			vaultStore, err := openStore(cfg)
			if err != nil {
				return err
			}

			guard := fetchguard.New(fetchguard.Config{
				DNSCacheTTL:  cfg.FetchDNSCacheTTL,
				DNSTimeout:   cfg.FetchDNSTimeout,
				MaxRedirects: cfg.FetchMaxRedirects,
			})
			engine := oauth.New(guard, oauth.Config{
				RefreshSkew: cfg.RefreshSkew,
				DefaultTTL:  cfg.DefaultTokenTTL,
				Timeout:     cfg.OAuthTimeout,
			})
			tokenSigner := signer.New(vaultStore)

			dispatcher := &ipc.Dispatcher{Store: vaultStore, OAuth: engine, Signer: tokenSigner}
			server := ipc.NewServer(cfg.SocketPath, dispatcher, cfg.MaxLineBytes)

			if err := server.Listen(); err != nil {
				if errors.Is(err, ipc.ErrSocketPermissions) {
					return fail(exitPermissionVerify, "socket permission verification failed", err)
				}
				return fail(exitSocketBind, "bind vault socket", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			go engine.RunSweep(ctx, cfg.SweepInterval)

			logging.Logger.Info("vault daemon ready", "socket", cfg.SocketPath)

			serveErr := server.Serve(ctx)

			// Drain within the grace window, then force close.
			done := make(chan struct{})
			go func() {
				server.Shutdown()
				close(done)
			}()
			select {
			case <-done:
			case <-time.After(shutdownGrace):
				logging.Logger.Warn("shutdown grace window elapsed, forcing exit")
			}

			logging.Logger.Info("vault daemon stopped")
			return serveErr
		},
	}
}

func generateSigningKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate-signing-key",
		Short: "Provision the signing keypair and print the public key",
		Long: "Forces the lazy signing-keypair bootstrap without starting the " +
			"IPC listener, so operators can pre-provision the key and distribute " +
			"its public half.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logging.Configure(cfg.LogLevel)

			vaultStore, err := openStore(cfg)
			if err != nil {
				return err
			}

			pub, err := signer.New(vaultStore).GetPublicKey()
			if err != nil {
				return fmt.Errorf("bootstrap signing keypair: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), pub)
			return nil
		},
	}
}
