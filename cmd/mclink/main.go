// Mclink - MELSEC PLC Gateway
//
// A headless gateway that polls Mitsubishi and Keyence PLCs over the MC
// protocol and republishes tag data via REST, MQTT, Valkey, and Kafka.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"mclink/api"
	"mclink/config"
	"mclink/kafka"
	"mclink/logging"
	"mclink/mqtt"
	"mclink/plcman"
	"mclink/valkey"
)

// Version is set at build time via -ldflags
var Version = "dev"

func main() {
	configPath := flag.String("config", config.DefaultPath(), "Path to configuration file")
	debugLog := flag.String("debug-log", "", "Path to debug log file (empty disables debug logging)")
	debugFilter := flag.String("debug-filter", "", "Comma-separated protocols to log (mc,mqtt,kafka,valkey,plcman,api)")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("mclink %s\n", Version)
		os.Exit(0)
	}

	// Set up debug logging before anything connects
	if *debugLog != "" {
		logger, err := logging.NewDebugLogger(*debugLog)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening debug log: %v\n", err)
			os.Exit(1)
		}
		logger.SetFilter(*debugFilter)
		logging.SetGlobalDebugLogger(logger)
		defer logger.Close()
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	// Create PLC manager and load PLCs from config
	manager := plcman.NewManager(cfg.PollRate)
	manager.LoadFromConfig(cfg)

	// Create publisher managers, all keyed off the global namespace
	mqttMgr := mqtt.NewManager(cfg.Namespace)
	mqttMgr.LoadFromConfig(cfg.MQTT)

	valkeyMgr := valkey.NewManager(cfg.Namespace)
	valkeyMgr.LoadFromConfig(cfg.Valkey)

	kafkaMgr := kafka.NewManager(cfg.Namespace)
	kafkaMgr.LoadFromConfig(cfg.Kafka)

	// Create REST API server
	apiServer := api.NewServer(manager, cfg, *configPath)

	// isWritable checks the config for a writable tag.
	isWritable := func(plcName, tagName string) bool {
		plcCfg := cfg.FindPLC(plcName)
		if plcCfg == nil {
			return false
		}
		tag := plcCfg.FindTag(tagName)
		return tag != nil && tag.Writable
	}

	// forcePublishAll pushes the current value cache to one destination.
	forcePublishAll := func(publish func(c plcman.ValueChange, writable bool)) {
		for _, c := range manager.GetAllCurrentValues() {
			publish(c, isWritable(c.PLCName, c.TagName))
		}
	}

	// Fan out value changes. Each destination runs in its own goroutine so a
	// slow broker cannot stall the others or the poll loop.
	manager.SetOnValueChange(func(changes []plcman.ValueChange) {
		mqttRunning := mqttMgr.AnyRunning()
		valkeyRunning := valkeyMgr.AnyRunning()
		kafkaPublishing := kafkaMgr.AnyPublishing()

		apiServer.NotifyValueChanges(changes)

		if !mqttRunning && !valkeyRunning && !kafkaPublishing {
			return
		}

		changesCopy := make([]plcman.ValueChange, len(changes))
		copy(changesCopy, changes)

		if mqttRunning {
			go func() {
				for _, c := range changesCopy {
					mqttMgr.Publish(c.PLCName, c.TagName, c.TypeName, c.Value, true)
				}
			}()
		}

		if valkeyRunning {
			go func() {
				for _, c := range changesCopy {
					valkeyMgr.Publish(c.PLCName, c.TagName, c.TypeName, c.Value, isWritable(c.PLCName, c.TagName))
				}
			}()
		}

		if kafkaPublishing {
			go func() {
				for _, c := range changesCopy {
					// force=true since the poll loop already confirmed the change
					kafkaMgr.Publish(c.PLCName, c.TagName, c.TypeName, c.Value, isWritable(c.PLCName, c.TagName), true)
				}
			}()
		}
	})

	// Publish PLC health on status changes
	manager.SetOnChange(func() {
		apiServer.NotifyStatusChange()

		for _, plc := range manager.ListPLCs() {
			status := plc.GetStatus()
			online := status == plcman.StatusConnected
			errMsg := ""
			if err := plc.GetError(); err != nil {
				errMsg = err.Error()
			}
			family := string(plc.Config.GetFamily())

			valkeyMgr.PublishHealth(plc.Config.Name, family, online, status.String(), errMsg)
			kafkaMgr.PublishHealth(plc.Config.Name, family, online, status.String(), errMsg)
		}
	})

	// Inbound writes from MQTT, Valkey, and Kafka all funnel through the
	// manager, which enforces the writable flag again.
	writeHandler := func(plcName, tagName string, value interface{}) error {
		return manager.WriteTag(plcName, tagName, value)
	}
	mqttMgr.SetWriteHandler(writeHandler)
	valkeyMgr.SetWriteHandler(writeHandler)
	kafkaMgr.SetWriteHandler(writeHandler)

	mqttMgr.SetWriteValidator(isWritable)
	valkeyMgr.SetWriteValidator(isWritable)
	kafkaMgr.SetWriteValidator(isWritable)

	// MQTT converts inbound JSON values to the tag's native type
	mqttMgr.SetTagTypeLookup(func(plcName, tagName string) uint16 {
		return manager.GetTagType(plcName, tagName)
	})

	// PLC names for MQTT write subscriptions
	plcNames := make([]string, len(cfg.PLCs))
	for i, plc := range cfg.PLCs {
		plcNames[i] = plc.Name
	}
	mqttMgr.SetPLCNames(plcNames)

	// Resync Valkey with the full value cache whenever it reconnects
	valkeyMgr.SetOnConnectCallback(func() {
		forcePublishAll(func(c plcman.ValueChange, writable bool) {
			valkeyMgr.Publish(c.PLCName, c.TagName, c.TypeName, c.Value, writable)
		})
	})

	// Start manager polling, then connect PLCs so values exist to publish
	manager.Start()
	manager.ConnectEnabled()

	if cfg.Web.Enabled {
		if err := apiServer.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to start REST server: %v\n", err)
		}
	}

	go func() {
		if started := mqttMgr.StartAll(); started > 0 {
			forcePublishAll(func(c plcman.ValueChange, writable bool) {
				mqttMgr.Publish(c.PLCName, c.TagName, c.TypeName, c.Value, true)
			})
		}
	}()

	go func() {
		if started := valkeyMgr.StartAll(); started > 0 {
			forcePublishAll(func(c plcman.ValueChange, writable bool) {
				valkeyMgr.Publish(c.PLCName, c.TagName, c.TypeName, c.Value, writable)
			})
		}
	}()

	go kafkaMgr.ConnectEnabled()

	logging.DebugLog("debug", "mclink %s started (namespace %q, %d PLCs)", Version, cfg.Namespace, len(cfg.PLCs))

	// Run until interrupted
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	fmt.Printf("Received %v, shutting down\n", sig)

	apiServer.Stop()
	mqttMgr.StopAll()
	valkeyMgr.StopAll()
	kafkaMgr.StopAll()
	manager.Stop()
	manager.DisconnectAll()
}
