package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/pion/logging"

	"github.com/backkem/hap/pkg/ble/client"
	"github.com/backkem/hap/pkg/crypto"
	"github.com/backkem/hap/pkg/gattlink"
	"github.com/backkem/hap/pkg/kvs"
	"github.com/backkem/hap/pkg/model"
	"github.com/backkem/hap/pkg/pairing"
	"github.com/backkem/hap/pkg/pairings"
	"github.com/backkem/hap/pkg/pairverify"
)

var selftestControllerID = []byte("hap-accessory-selftest")

// selftest runs an in-process controller against a fresh accessory and
// reports every step to w.
func selftest(w io.Writer, cfg Config, lf logging.LoggerFactory) error {
	ltk, err := crypto.GenerateEd25519KeyPair(rand.Reader)
	if err != nil {
		return err
	}
	ctlLTK, err := crypto.GenerateEd25519KeyPair(rand.Reader)
	if err != nil {
		return err
	}

	l := newLamp()
	srv, err := newServer(cfg, l, kvs.NewMemory(), ltk, lf)
	if err != nil {
		return err
	}
	if _, err := srv.Pairings().Add(pairing.Record{
		Identifier:  selftestControllerID,
		PublicKey:   ctlLTK.PublicKey(),
		Permissions: pairing.PermissionAdmin,
	}); err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return err
	}
	defer srv.Stop()

	p, err := gattlink.NewPeripheral(gattlink.PeripheralConfig{Server: srv, LoggerFactory: lf})
	if err != nil {
		return err
	}
	pipe := gattlink.NewPipe()
	defer func() { _ = pipe.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Serve(ctx, pipe.Peripheral()) }()
	defer func() {
		cancel()
		<-done
	}()

	cl := client.New(client.Config{
		GATT:          gattlink.NewCentral(gattlink.CentralConfig{Conn: pipe.Central(), LoggerFactory: lf}),
		LoggerFactory: lf,
	})
	newController := func() *pairverify.Controller {
		return pairverify.NewController(pairverify.ControllerConfig{
			Identifier:         selftestControllerID,
			LongTermKey:        ctlLTK,
			AccessoryID:        srv.DeviceID(),
			AccessoryPublicKey: ltk.PublicKey(),
		})
	}

	fmt.Fprintf(w, "accessory %s\n", srv.DeviceID())
	pv := newController()
	steps := []struct {
		name string
		run  func() error
	}{
		{"pair verify", func() error {
			return cl.PairVerify(iidPairVerify, pv, nil, nil)
		}},
		{"write on", func() error {
			return cl.Write(iidOn, []byte{1})
		}},
		{"read brightness", func() error {
			v, err := cl.Read(iidBrightness)
			if err != nil {
				return err
			}
			if want := model.EncodeNumber(model.FormatInt, 100); !bytes.Equal(v, want) {
				return fmt.Errorf("brightness % X, want % X", v, want)
			}
			return nil
		}},
		{"pair resume", func() error {
			id, secret := pv.SessionID(), pv.SharedSecret()
			resumed := newController()
			if err := cl.PairVerify(iidPairVerify, resumed, &id, secret); err != nil {
				return err
			}
			if !resumed.Resumed() {
				return fmt.Errorf("accessory fell back to a full verify")
			}
			return nil
		}},
		{"list pairings", func() error {
			records, err := cl.Pairings(iidPairings, pairings.ListRequest())
			if err != nil {
				return err
			}
			if len(records) != 1 || !records[0].HasIdentifier(selftestControllerID) {
				return fmt.Errorf("unexpected pairings %v", records)
			}
			return nil
		}},
	}

	for _, s := range steps {
		if err := s.run(); err != nil {
			fmt.Fprintf(w, "%-16s FAIL %v\n", s.name, err)
			return fmt.Errorf("selftest: %s: %w", s.name, err)
		}
		fmt.Fprintf(w, "%-16s ok\n", s.name)
	}
	fmt.Fprintf(w, "all %d steps passed, server %s\n", len(steps), srv.State())
	return nil
}
