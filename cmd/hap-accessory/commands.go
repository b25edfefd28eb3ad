package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/pion/logging"
	"github.com/urfave/cli"

	"github.com/backkem/hap/pkg/accessory"
	"github.com/backkem/hap/pkg/crypto"
	"github.com/backkem/hap/pkg/gattlink"
	"github.com/backkem/hap/pkg/kvs"
)

func keygenAction(c *cli.Context) error {
	cfg, err := LoadConfig(c.GlobalString("config"))
	if err != nil {
		return err
	}
	path := c.String("out")
	if path == "" {
		path = cfg.KeyFile
	}
	if _, err := os.Stat(path); err == nil && !c.Bool("force") {
		return fmt.Errorf("%s exists, use --force to replace it", path)
	}

	kp, err := crypto.GenerateEd25519KeyPair(rand.Reader)
	if err != nil {
		return err
	}
	if err := WriteKey(path, kp); err != nil {
		return err
	}
	pk := kp.PublicKey()
	fmt.Fprintf(c.App.Writer, "wrote %s\npublic key %s\n", path, hex.EncodeToString(pk[:]))
	return nil
}

// newServer builds the accessory server for l.
func newServer(cfg Config, l *lamp, store kvs.Store, ltk *crypto.Ed25519KeyPair, lf logging.LoggerFactory) (*accessory.Server, error) {
	id, err := accessory.ParseDeviceID(cfg.DeviceID)
	if err != nil {
		return nil, err
	}
	log := lf.NewLogger("lamp")
	return accessory.New(accessory.Config{
		Accessory:       l.accessory(cfg),
		DeviceID:        id,
		LongTermKey:     ltk,
		Store:           store,
		MaxPairings:     cfg.MaxPairings,
		ResumeCacheSize: cfg.ResumeCacheSize,
		KeyExpiry:       cfg.KeyExpiry,
		OnUpdatedState: func(paired bool) {
			log.Infof("paired: %v", paired)
		},
		LoggerFactory: lf,
	})
}

// provisionAdmin adds the configured admin while the accessory is unpaired.
func provisionAdmin(cfg Config, srv *accessory.Server) error {
	if cfg.Admin == nil || srv.Pairings().Count() > 0 {
		return nil
	}
	r, err := cfg.Admin.Record()
	if err != nil {
		return err
	}
	_, err = srv.Pairings().Add(r)
	return err
}

// applyRunFlags overrides cfg with the flags given to run.
func applyRunFlags(c *cli.Context, cfg *Config) error {
	if v := c.String("listen"); v != "" {
		cfg.Listen = v
	}
	if v := c.String("store"); v != "" {
		cfg.StoreFile = v
	}
	if v := c.String("log-level"); v != "" {
		cfg.LogLevel = v
	}
	return cfg.Validate()
}

func runAction(c *cli.Context) error {
	cfg, err := LoadConfig(c.GlobalString("config"))
	if err != nil {
		return err
	}
	if err := applyRunFlags(c, &cfg); err != nil {
		return err
	}
	lf, err := newLoggerFactory(cfg.LogLevel, c.App.ErrWriter)
	if err != nil {
		return err
	}
	log := lf.NewLogger("hap-accessory")

	ltk, err := ReadKey(cfg.KeyFile)
	if err != nil {
		return fmt.Errorf("load key (run keygen first): %w", err)
	}

	var store kvs.Store = kvs.NewMemory()
	if cfg.StoreFile != "" {
		f, err := kvs.OpenFile(cfg.StoreFile)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		store = f
	}

	srv, err := newServer(cfg, newLamp(), store, ltk, lf)
	if err != nil {
		return err
	}
	if err := provisionAdmin(cfg, srv); err != nil {
		return fmt.Errorf("provision admin: %w", err)
	}
	if err := srv.Start(); err != nil {
		return err
	}
	defer srv.Stop()

	p, err := gattlink.NewPeripheral(gattlink.PeripheralConfig{Server: srv, LoggerFactory: lf})
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Infof("accessory %s listening on %s", srv.DeviceID(), ln.Addr())
	if err := p.ServeListener(ctx, ln); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	log.Infof("shutting down")
	return nil
}

func selftestAction(c *cli.Context) error {
	cfg, err := LoadConfig(c.GlobalString("config"))
	if err != nil {
		return err
	}
	lf, err := newLoggerFactory(c.String("log-level"), c.App.ErrWriter)
	if err != nil {
		return err
	}
	return selftest(c.App.Writer, cfg, lf)
}

func bumpConfigAction(c *cli.Context) error {
	cfg, err := LoadConfig(c.GlobalString("config"))
	if err != nil {
		return err
	}
	path := c.String("store")
	if path == "" {
		path = cfg.StoreFile
	}
	if path == "" {
		return errors.New("no store file configured")
	}

	f, err := kvs.OpenFile(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	cn, err := kvs.IncrementConfigurationNumber(f)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "configuration number %d\n", cn)
	return nil
}
