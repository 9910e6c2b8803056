package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	vault "github.com/i5heu/ouroboros-vault"
	"github.com/i5heu/ouroboros-vault/internal/config"
	"github.com/i5heu/ouroboros-vault/pkg/acc"
	"github.com/i5heu/ouroboros-vault/pkg/envelope"
	"github.com/i5heu/ouroboros-vault/pkg/gateway"
	"github.com/i5heu/ouroboros-vault/pkg/session"
	"github.com/i5heu/ouroboros-vault/pkg/store"
	"github.com/i5heu/ouroboros-vault/pkg/threshold"
	"github.com/i5heu/ouroboros-vault/pkg/wallet"
)

const (
	logKeyState  = "state"
	logKeyFlow   = "flow"
	logKeyReason = "reason"
)

const usage = `Usage: vault <command> [arguments]
Commands:
  keygen   [-config file] [-force]                  create the wallet key file
  address  [-config file]                           print the wallet address
  store    [-config file] [-owner addr] [-acc file] [-in file] [text]
                                                    encrypt and upload, print the artifact
  retrieve [-config file] [-out file] <artifact.json>
                                                    download and decrypt an artifact
`

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	os.Exit(run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprint(stderr, usage)
		return 2
	}

	var err error
	switch args[0] {
	case "keygen":
		err = keygen(args[1:], stdout)
	case "address":
		err = address(ctx, args[1:], stdout)
	case "store":
		err = storeCmd(ctx, args[1:], stdin, stdout, stderr)
	case "retrieve":
		err = retrieveCmd(ctx, args[1:], stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n%s", args[0], usage)
		return 2
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newFlagSet(name string, stderr io.Writer) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	cfgPath := fs.String("config", "", "Path to YAML config file")
	return fs, cfgPath
}

func keygen(args []string, stdout io.Writer) error {
	fs, cfgPath := newFlagSet("keygen", io.Discard)
	force := fs.Bool("force", false, "Overwrite an existing key file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfg.Wallet.KeyFile); err == nil && !*force {
		return fmt.Errorf("key file %s already exists (use -force to overwrite)", cfg.Wallet.KeyFile)
	}
	signer, err := wallet.GenerateLocalSigner()
	if err != nil {
		return err
	}
	if err := signer.Save(cfg.Wallet.KeyFile); err != nil {
		return err
	}
	addr, _ := signer.Address(context.Background())
	fmt.Fprintln(stdout, addr)
	return nil
}

func address(ctx context.Context, args []string, stdout io.Writer) error {
	fs, cfgPath := newFlagSet("address", io.Discard)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}
	signer, err := wallet.LoadLocalSigner(cfg.Wallet.KeyFile)
	if err != nil {
		return err
	}
	addr, err := signer.Address(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, addr)
	return nil
}

func storeCmd(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs, cfgPath := newFlagSet("store", stderr)
	owner := fs.String("owner", "", "Address allowed to decrypt (default: the wallet address)")
	accFile := fs.String("acc", "", "JSON file with the access control condition list")
	inFile := fs.String("in", "", "Read the payload from file, - for stdin")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}

	var data []byte
	switch {
	case *inFile == "-":
		data, err = io.ReadAll(stdin)
	case *inFile != "":
		data, err = os.ReadFile(*inFile)
	case fs.NArg() > 0:
		data = []byte(fs.Arg(0))
	default:
		return errors.New("nothing to store: pass text, -in file or -in -")
	}
	if err != nil {
		return fmt.Errorf("read payload: %w", err)
	}

	conds, err := conditions(ctx, cfg, *owner, *accFile)
	if err != nil {
		return err
	}

	v, closeFn, err := newVault(cfg, stderr)
	if err != nil {
		return err
	}
	defer closeFn()

	artifact, err := v.Store(ctx, string(data), conds)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, string(out))
	return nil
}

func retrieveCmd(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs, cfgPath := newFlagSet("retrieve", stderr)
	outFile := fs.String("out", "", "Write the plaintext to file instead of stdout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return errors.New("usage: vault retrieve [-config file] [-out file] <artifact.json>")
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}

	raw, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("read artifact: %w", err)
	}
	artifact, err := envelope.UnmarshalArtifact(raw)
	if err != nil {
		return err
	}
	signer, err := wallet.LoadLocalSigner(cfg.Wallet.KeyFile)
	if err != nil {
		return err
	}

	v, closeFn, err := newVault(cfg, stderr)
	if err != nil {
		return err
	}
	defer closeFn()

	plaintext, err := v.Retrieve(ctx, signer, artifact)
	if err != nil {
		return err
	}
	if *outFile != "" {
		return os.WriteFile(*outFile, []byte(plaintext), 0o600)
	}
	_, err = io.WriteString(stdout, plaintext)
	return err
}

// conditions returns the list read from accFile, or a single owner
// predicate for owner or the wallet address.
func conditions(ctx context.Context, cfg config.Config, owner, accFile string) ([]acc.Condition, error) {
	if accFile != "" {
		raw, err := os.ReadFile(accFile)
		if err != nil {
			return nil, fmt.Errorf("read conditions: %w", err)
		}
		var conds []acc.Condition
		if err := json.Unmarshal(raw, &conds); err != nil {
			return nil, fmt.Errorf("parse conditions: %w", err)
		}
		return conds, nil
	}
	if owner == "" {
		signer, err := wallet.LoadLocalSigner(cfg.Wallet.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("no -owner given and %w", err)
		}
		if owner, err = signer.Address(ctx); err != nil {
			return nil, err
		}
	}
	return []acc.Condition{acc.WalletOwner(cfg.Chain, owner)}, nil
}

func newVault(cfg config.Config, stderr io.Writer) (*vault.Vault, func(), error) {
	logger := cfg.Log.Logger()
	logger.SetOutput(stderr)

	network, err := threshold.New(threshold.Config{
		BaseURL: cfg.Threshold.URL,
		Timeout: cfg.Threshold.Timeout,
		Logger:  logger,
	})
	if err != nil {
		return nil, nil, err
	}
	st, err := store.New(store.Config{
		UploadURL:  cfg.Storage.UploadURL,
		GatewayURL: cfg.Storage.GatewayURL,
		Timeout:    cfg.Storage.Timeout,
		Tags:       []store.Tag{{Name: "App-Name", Value: "ouroboros-vault"}},
		Logger:     logger,
	})
	if err != nil {
		return nil, nil, err
	}
	gw, err := gateway.New(gateway.Config{Capability: network, Chain: cfg.Chain, Logger: logger})
	if err != nil {
		return nil, nil, err
	}
	authority, err := session.New(session.Config{
		Network: network,
		Domain:  cfg.Session.Domain,
		TTL:     cfg.Session.TTL,
		Logger:  logger,
	})
	if err != nil {
		return nil, nil, err
	}

	v, err := vault.New(vault.Config{
		Gateway:   gw,
		Store:     st,
		Authority: authority,
		Chain:     cfg.Chain,
		Logger:    logger,
		Observer: func(t vault.Transition) {
			entry := logger.WithFields(logrus.Fields{logKeyFlow: t.Flow, logKeyState: t.To.String()})
			if t.Reason != "" {
				entry = entry.WithField(logKeyReason, t.Reason)
			}
			entry.Debug("state")
		},
	})
	if err != nil {
		return nil, nil, err
	}
	return v, func() {
		network.Close()
		st.Close()
	}, nil
}
