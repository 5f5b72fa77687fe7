// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"sync"
	"syscall"
	"time"

	"github.com/google/gops/agent"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clustercockpit/cc-edge-agent/internal/campaign"
	"github.com/clustercockpit/cc-edge-agent/internal/cloudauth"
	"github.com/clustercockpit/cc-edge-agent/internal/config"
	"github.com/clustercockpit/cc-edge-agent/internal/decodermanifest"
	"github.com/clustercockpit/cc-edge-agent/internal/dictionary"
	"github.com/clustercockpit/cc-edge-agent/internal/forwarder"
	"github.com/clustercockpit/cc-edge-agent/internal/inspection"
	"github.com/clustercockpit/cc-edge-agent/internal/persist"
	"github.com/clustercockpit/cc-edge-agent/internal/sender"
	"github.com/clustercockpit/cc-edge-agent/internal/stream"
	"github.com/clustercockpit/cc-edge-agent/internal/telemetry"
	"github.com/clustercockpit/cc-edge-agent/pkg/clock"
	"github.com/clustercockpit/cc-edge-agent/pkg/log"
	"github.com/clustercockpit/cc-edge-agent/pkg/ratelimiter"
	"github.com/clustercockpit/cc-edge-agent/pkg/runtimeEnv"
)

// exitCodeForSignal maps a received POSIX signal to the process's exit
// code (spec §6: "host process returns a mapped code from a
// POSIX-signal-to-exit-code table"). The 128+n convention matches what a
// shell reports for a process killed by signal n.
func exitCodeForSignal(sig os.Signal) int {
	switch sig {
	case syscall.SIGINT:
		return 130
	case syscall.SIGTERM:
		return 143
	case syscall.SIGHUP:
		return 129
	default:
		return 1
	}
}

// runtime bundles the few pieces of extracted state the scheme manager's
// listener callback needs to keep current; everything else is read
// straight off the owning component.
type runtime struct {
	mu      sync.Mutex
	dicts   *dictionary.Dictionaries
	matrix  *inspection.Matrix
	fetches *inspection.FetchMatrix
}

func (rt *runtime) OnActiveSchemesChanged(manifest *decodermanifest.Manifest, enabled map[string]*campaign.Scheme) {
	dicts := dictionary.Extract(manifest, enabled)
	matrix, fetches := inspection.Extract(manifest, enabled, dicts)

	rt.mu.Lock()
	rt.dicts, rt.matrix, rt.fetches = dicts, matrix, fetches
	rt.mu.Unlock()
}

func partitionSpecs(enabled map[string]*campaign.Scheme) []stream.PartitionSpec {
	var specs []stream.PartitionSpec
	for _, sch := range enabled {
		if len(sch.Partitions) == 0 {
			specs = append(specs, stream.PartitionSpec{
				Key:     stream.PartitionKey{CampaignARN: sch.CampaignARN, PartitionID: 0},
				Persist: sch.Persist,
			})
			continue
		}
		for i, p := range sch.Partitions {
			specs = append(specs, stream.PartitionSpec{
				Key:             stream.PartitionKey{CampaignARN: sch.CampaignARN, PartitionID: uint32(i)},
				StorageLocation: p.StorageLocation,
				MaxBytes:        p.MaxBytes,
				MinTTLSeconds:   p.MinTTLSeconds,
				Persist:         sch.Persist,
			})
		}
	}
	return specs
}

// streamPartitionListener re-derives the Stream Manager's desired
// partition set whenever the scheme manager's enabled set changes,
// following spec §4.F's onChangeCollectionSchemeList trigger.
type streamPartitionListener struct {
	streams *stream.Manager
}

func (l *streamPartitionListener) OnActiveSchemesChanged(_ *decodermanifest.Manifest, enabled map[string]*campaign.Scheme) {
	l.streams.OnChangeCollectionSchemeList(partitionSpecs(enabled))
}

func buildTransport(c clock.Clock, t config.TransportConfig) (sender.Transport, string, error) {
	if t.Nats != nil {
		tr, err := sender.NewNatsTransport(sender.NatsConfig{
			Address:       t.Nats.Address,
			Username:      t.Nats.Username,
			Password:      t.Nats.Password,
			CredsFilePath: t.Nats.CredsFilePath,
			MaxSendSize:   t.Nats.MaxSendSize,
		})
		if err != nil {
			return nil, "", fmt.Errorf("nats transport: %w", err)
		}
		return tr, t.Nats.Topic, nil
	}
	tr, err := sender.NewS3Transport(c, sender.S3Config{
		Endpoint:     t.S3.Endpoint,
		Bucket:       t.S3.Bucket,
		KeyPrefix:    t.S3.KeyPrefix,
		AccessKey:    t.S3.AccessKey,
		SecretKey:    t.S3.SecretKey,
		Region:       t.S3.Region,
		UsePathStyle: t.S3.UsePathStyle,
		MaxSendSize:  t.S3.MaxSendSize,
	})
	if err != nil {
		return nil, "", fmt.Errorf("s3 transport: %w", err)
	}
	return tr, "edge-agent", nil
}

func main() {
	var (
		flagConfigFile string
		flagGops       bool
	)
	flag.StringVar(&flagConfigFile, "config", "./config.json", "Overwrite the default config options by those specified in `config.json`")
	flag.BoolVar(&flagGops, "gops", false, "Listen via github.com/google/gops/agent (for debugging)")
	flag.Parse()

	if flagGops {
		if err := agent.Listen(agent.Options{}); err != nil {
			log.Fatalf("gops/agent.Listen failed: %s", err.Error())
		}
	}

	if err := runtimeEnv.LoadEnv("./.env"); err != nil && !os.IsNotExist(err) {
		log.Warnf("error while loading .env file: %s", err.Error())
	}

	if err := config.Init(flagConfigFile); err != nil {
		log.Fatalf("error while initializing config: %s", err.Error())
	}
	log.SetLogLevel(config.Keys.LogLevel)

	c := clock.New()

	if err := os.MkdirAll(config.Keys.Persistence.Root, 0o755); err != nil {
		log.Fatalf("error while creating persistence root: %s", err.Error())
	}
	store, err := persist.New(config.Keys.Persistence.Root, config.Keys.Persistence.MaxBytes, config.Keys.Persistence.MaxReadSize)
	if err != nil {
		log.Fatalf("error while opening persistence store: %s", err.Error())
	}

	catalog, err := persist.OpenCatalog(filepath.Join(config.Keys.Persistence.Root, "catalog.db"))
	if err != nil {
		log.Fatalf("error while opening catalog: %s", err.Error())
	}
	defer catalog.Close()

	streams := stream.NewManager(c, catalog, config.Keys.Persistence.Root)
	// store backs the Cache-and-Persist blob layer a persist=true scheme's
	// partitions write through to (spec §4.B/§6): every record appended to
	// such a partition is also durably saved as an EDGE_TO_CLOUD_PAYLOAD blob.
	streams.SetBlobStore(store)

	schemeTick, err := time.ParseDuration(config.Keys.SchemeManager.TickInterval)
	if err != nil {
		log.Fatalf("invalid scheme-manager tick-interval %q: %s", config.Keys.SchemeManager.TickInterval, err.Error())
	}

	var verifyKey interface{}
	if config.Keys.SchemeManager.VerifyPublicKey != "" {
		keyBytes, err := os.ReadFile(config.Keys.SchemeManager.VerifyPublicKey)
		if err != nil {
			log.Fatalf("error while reading verify-public-key-path: %s", err.Error())
		}
		verifyKey = keyBytes
	}

	schemeMgr, err := campaign.NewManager(c, verifyKey)
	if err != nil {
		log.Fatalf("error while creating scheme manager: %s", err.Error())
	}

	rt := &runtime{}
	schemeMgr.AddListener(rt)
	schemeMgr.AddListener(&streamPartitionListener{streams: streams})

	if err := schemeMgr.Start(schemeTick); err != nil {
		log.Fatalf("error while starting scheme manager: %s", err.Error())
	}
	defer schemeMgr.Stop()

	transport, topic, err := buildTransport(c, config.Keys.Transport)
	if err != nil {
		log.Fatalf("error while building transport: %s", err.Error())
	}
	if closer, ok := transport.(interface{ Close() }); ok {
		defer closer.Close()
	}
	snd := sender.New(transport, topic)

	limiter := ratelimiter.New(c, config.Keys.RateLimiter.MaxTokens, config.Keys.RateLimiter.TokensPerSecond)

	idleTime, err := time.ParseDuration(config.Keys.IdleTime)
	if err != nil {
		log.Fatalf("invalid forwarder-idle-time %q: %s", config.Keys.IdleTime, err.Error())
	}

	partitionsForCampaign := func(campaignARN string) []stream.PartitionKey {
		enabled := schemeMgr.EnabledSchemes()
		sch, ok := enabled[campaignARNSyncID(enabled, campaignARN)]
		if !ok {
			return nil
		}
		keys := make([]stream.PartitionKey, 0, len(sch.Partitions))
		if len(sch.Partitions) == 0 {
			keys = append(keys, stream.PartitionKey{CampaignARN: campaignARN, PartitionID: 0})
			return keys
		}
		for i := range sch.Partitions {
			keys = append(keys, stream.PartitionKey{CampaignARN: campaignARN, PartitionID: uint32(i)})
		}
		return keys
	}

	onJobComplete := func(campaignARN string) {
		forwarderLog.Infof("job forward complete for campaign %s", campaignARN)
	}

	fwd := forwarder.New(c, streams, limiter, snd, idleTime, partitionsForCampaign, onJobComplete)
	go fwd.Run()
	defer fwd.Stop()

	var cloudAuth *cloudauth.CloudAuth
	if config.Keys.CloudAuth != nil {
		cloudAuth, err = cloudauth.New(context.Background(), cloudauth.Config{
			IssuerURL:    config.Keys.CloudAuth.IssuerURL,
			ClientID:     config.Keys.CloudAuth.ClientID,
			ClientSecret: config.Keys.CloudAuth.ClientSecret,
			TokenURL:     config.Keys.CloudAuth.TokenURL,
			Scopes:       config.Keys.CloudAuth.Scopes,
		})
		if err != nil {
			log.Fatalf("error while initializing cloud auth: %s", err.Error())
		}
	}
	_ = cloudAuth // consumed by the (not-yet-wired) directive-intake HTTP handler once added

	metrics := telemetry.New()

	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	diagServer := &http.Server{
		Addr:         config.Keys.Diagnostics.Addr,
		Handler:      handlers.CombinedLoggingHandler(os.Stdout, router),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := diagServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("diagnostics server error: %s", err.Error())
		}
	}()

	if err := runtimeEnv.DropPrivileges(config.Keys.User, config.Keys.Group); err != nil {
		log.Fatalf("error while changing user: %s", err.Error())
	}

	if os.Getenv("GOGC") == "" {
		debug.SetGCPercent(25)
	}
	runtimeEnv.SystemdNotifiy(true, "running")

	exitCode := 0
	wg.Add(1)
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		defer wg.Done()
		sig := <-sigs
		exitCode = exitCodeForSignal(sig)
		runtimeEnv.SystemdNotifiy(false, "shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		diagServer.Shutdown(shutdownCtx)
	}()

	wg.Wait()
	log.Print("Graceful shutdown completed!")
	os.Exit(exitCode)
}

// campaignARNSyncID resolves a campaign ARN back to its scheme's syncId
// key within enabled, since EnabledSchemes is keyed by syncId rather than
// ARN and a campaign may be served by more than one active scheme version
// only transiently during a cutover.
func campaignARNSyncID(enabled map[string]*campaign.Scheme, campaignARN string) string {
	for syncID, sch := range enabled {
		if sch.CampaignARN == campaignARN {
			return syncID
		}
	}
	return ""
}

var forwarderLog = log.WithComponent("cc-edge-agent")
