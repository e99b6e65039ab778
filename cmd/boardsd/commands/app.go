package commands

import (
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"xdao.co/boards/boardsapi"
	"xdao.co/boards/boardstore"
	"xdao.co/boards/bootstrap"
	"xdao.co/boards/config"
	"xdao.co/boards/diag"
	"xdao.co/boards/identity"
	"xdao.co/boards/keys"
	"xdao.co/boards/kv"
	"xdao.co/boards/node"
	"xdao.co/boards/node/grpcnode"
	"xdao.co/boards/node/local"
	"xdao.co/boards/orbit/logdb"
	"xdao.co/boards/state"
	"xdao.co/boards/statusapi"
	"xdao.co/boards/storage"
)

const remoteDialTimeout = 10 * time.Second

// app is one process's wired component graph.
type app struct {
	cfg config.Config
	log *logrus.Entry

	st     *state.State
	boot   *bootstrap.Bootstrapper
	boards *boardstore.Registry
	ids    *identity.Resolver
	diag   *diag.Reporter
	api    *boardsapi.Client

	closers []func() error
}

func newApp(cfg config.Config, log *logrus.Entry) (_ *app, err error) {
	a := &app{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			_ = a.close()
		}
	}()

	var settings kv.Store
	if cfg.SettingsFile != "" {
		f, err := kv.OpenFile(cfg.SettingsFile)
		if err != nil {
			return nil, err
		}
		settings = f
	}
	var heads kv.Store
	if cfg.HeadsFile != "" {
		f, err := kv.OpenFile(cfg.HeadsFile)
		if err != nil {
			return nil, err
		}
		heads = f
	}

	a.st = state.New(state.Config{Settings: settings, Log: log})
	a.closers = append(a.closers, a.st.Close)

	var blocks storage.CAS
	if cfg.Blockstore != nil {
		cas, closeFn, err := cfg.Blockstore.Open()
		if err != nil {
			return nil, err
		}
		blocks = cas
		a.closers = append(a.closers, closeFn)
	}

	nodes, err := a.nodeFactory()
	if err != nil {
		return nil, err
	}

	bcfg := bootstrap.Config{
		Context:     cfg.ExecContext(),
		NodeFactory: nodes,
		DBFactory:   logdb.Factory(logdb.Config{Heads: heads, Log: log}),
		Listen:      cfg.Listen,
		Bootstrap:   cfg.Bootstrap,
		Repo:        cfg.Repo,
		Blockstore:  blocks,
		Log:         log,
	}
	if cfg.StatusURL != "" {
		bcfg.Hints = statusapi.NewClient(cfg.StatusURL)
	}
	a.boot, err = bootstrap.New(a.st, bcfg)
	if err != nil {
		return nil, err
	}

	a.boards = boardstore.New(a.st, a.boot, log)
	a.ids = identity.New(a.st, a.boot, identity.Config{Version: cfg.Version, Log: log})
	a.diag = diag.New(a.st, cfg.ExecContext(), log)
	a.api = boardsapi.New(a.boot, a.ids, log)
	return a, nil
}

func (a *app) nodeFactory() (node.Factory, error) {
	if a.cfg.RemoteNode != "" {
		return grpcnode.Factory(a.cfg.RemoteNode, grpcnode.DialOptions{Timeout: remoteDialTimeout, Log: a.log}), nil
	}
	var ks *keys.KeyStore
	if a.cfg.Repo != "" {
		s, err := keys.NewKeyStore(a.cfg.KeyDir)
		if err != nil {
			return nil, err
		}
		ks = s
	}
	return local.Factory(local.Config{Keys: ks}), nil
}

// close waits for background discovery, then tears down in reverse order.
func (a *app) close() error {
	if a.ids != nil {
		a.ids.Wait()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
