// Copyright (c) 2016 The swvote developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"net"
	"net/http"
	_ "net/http/pprof"
	"os"
	"runtime"

	"github.com/swvote/creatord/chain"
	"github.com/swvote/creatord/purchase"
	"github.com/swvote/creatord/rpc/creatorrpc"
)

var cfg *config

func main() {
	// Use all processor cores.
	runtime.GOMAXPROCS(runtime.NumCPU())

	// Work around defer not working after os.Exit.
	if err := creatorMain(); err != nil {
		os.Exit(1)
	}
}

// creatorMain is a work-around main function that is required since deferred
// functions (such as log flushing) are not called with calls to os.Exit.
// Instead, main runs this function and checks for a non-nil error, at which
// point any defers have already run, and if the error is non-nil, the program
// can be exited with an error exit status.
func creatorMain() error {
	// Load configuration and parse command line.  This function also
	// initializes logging and configures it accordingly.
	tcfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	cfg = tcfg
	defer func() {
		if logRotator != nil {
			logRotator.Close()
		}
	}()

	if cfg.Profile != "" {
		go func() {
			listenAddr := net.JoinHostPort("", cfg.Profile)
			log.Infof("Profile server listening on %s", listenAddr)
			profileRedirect := http.RedirectHandler("/debug/pprof",
				http.StatusSeeOther)
			http.Handle("/", profileRedirect)
			log.Errorf("%v", http.ListenAndServe(listenAddr, nil))
		}()
	}

	// Connect to the chain node first; the purchase catalog resolves its
	// publishing account and payment asset against it during startup.
	chainClient := chain.NewRPCClient(chain.Config{
		Connect:  cfg.NodeConnect,
		Endpoint: cfg.NodeEndpoint,
	})
	if err := chainClient.Start(); err != nil {
		log.Errorf("Cannot connect to chain node: %v", err)
		return err
	}
	addInterruptHandler(func() {
		chainClient.Stop()
		chainClient.WaitForShutdown()
	})

	catalog := purchase.NewCatalog(purchase.CatalogConfig{
		Chain:             chainClient,
		PublishingAccount: cfg.PublishingAccount,
		PaymentAsset:      cfg.PaymentAsset,
		PublisherWIF:      cfg.PublisherKey,
		SessionTTL:        cfg.SessionTTL,
	})
	if err := catalog.Start(); err != nil {
		log.Errorf("Cannot start the purchase catalog: %v", err)
		chainClient.Stop()
		chainClient.WaitForShutdown()
		return err
	}
	addInterruptHandler(catalog.Stop)

	listeners, err := openRPCListeners(cfg.RPCListeners)
	if err != nil {
		log.Errorf("Cannot listen for RPC connections: %v", err)
		simulateInterrupt()
		<-interruptHandlersDone
		return err
	}

	server := creatorrpc.NewServer(&creatorrpc.Options{
		Username:            cfg.Username,
		Password:            cfg.Password,
		MaxPOSTClients:      cfg.RPCMaxClients,
		MaxWebsocketClients: cfg.RPCMaxWebsockets,
	}, catalog, listeners)
	addInterruptHandler(server.Stop)

	// Shut down cleanly on a client's stop request.
	go func() {
		<-server.RequestProcessShutdown()
		simulateInterrupt()
	}()

	log.Infof("Contest creator daemon version %s started", version())

	<-interruptHandlersDone
	log.Info("Shutdown complete")
	return nil
}

// openRPCListeners opens a TCP listener for each RPC listen address.  Any
// address that cannot be bound fails the whole startup; a daemon silently
// listening on fewer interfaces than configured is worse than not starting.
func openRPCListeners(addrs []string) ([]net.Listener, error) {
	listeners := make([]net.Listener, 0, len(addrs))
	for _, addr := range addrs {
		listener, err := net.Listen("tcp", addr)
		if err != nil {
			for _, open := range listeners {
				open.Close()
			}
			return nil, err
		}
		listeners = append(listeners, listener)
	}
	return listeners, nil
}
