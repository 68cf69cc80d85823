// Command uwb-bridge reads UWB two-way-ranging packets from a serial
// device, correlates them with LoRa/TTN telemetry cached from an inbound
// MQTT subscription, and publishes the merged positioning graph to an
// outbound MQTT broker.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/gops/agent"

	"github.com/dynamicdevices/uwb-bridge/internal/bridge"
	"github.com/dynamicdevices/uwb-bridge/internal/config"
	"github.com/dynamicdevices/uwb-bridge/internal/loracache"
	"github.com/dynamicdevices/uwb-bridge/internal/mqttpub"
	"github.com/dynamicdevices/uwb-bridge/internal/network"
	"github.com/dynamicdevices/uwb-bridge/internal/resilience"
	"github.com/dynamicdevices/uwb-bridge/internal/util"
	"github.com/dynamicdevices/uwb-bridge/internal/validate"
	"github.com/dynamicdevices/uwb-bridge/pkg/log"
)

func main() {
	var flagConfigFile, flagEnvFile, flagSerialPort string
	var flagDisableSerial, flagGops, flagVerbose, flagQuiet bool
	flag.StringVar(&flagConfigFile, "config", "./config.json", "path to the JSON configuration file")
	flag.StringVar(&flagEnvFile, "env", "./.env", "path to the .env file holding MQTT credentials")
	flag.StringVar(&flagSerialPort, "uart", "", "serial port to read UWB packets from (overrides config)")
	flag.BoolVar(&flagDisableSerial, "disable-serial", false, "run without opening the serial port (testing mode)")
	flag.BoolVar(&flagGops, "gops", false, "listen via github.com/google/gops/agent (for debugging)")
	flag.BoolVar(&flagVerbose, "verbose", false, "enable verbose logging")
	flag.BoolVar(&flagQuiet, "quiet", false, "enable quiet mode (minimal logging)")
	flag.Parse()

	if flagGops {
		if err := agent.Listen(agent.Options{}); err != nil {
			log.Fatalf("gops/agent.Listen failed: %s", err.Error())
		}
	}

	cfg, err := config.Load(flagConfigFile, flagEnvFile)
	if err != nil {
		log.Fatal(err)
	}
	if flagSerialPort != "" {
		cfg.Serial.Port = flagSerialPort
	}
	if flagDisableSerial {
		cfg.Serial.Disabled = true
	}
	if flagVerbose {
		cfg.Verbose = true
	}
	if flagQuiet {
		cfg.Quiet = true
	}
	cfg.ApplyLogLevel()

	var anchors network.AnchorMap
	if cfg.AnchorConfigPath != "" && util.CheckFileExists(cfg.AnchorConfigPath) {
		anchors, err = config.LoadAnchorMap(cfg.AnchorConfigPath)
		if err != nil {
			log.Fatal(err)
		}
	} else if cfg.AnchorConfigPath != "" {
		log.Warnf("anchor config %s not found, starting with no anchors", cfg.AnchorConfigPath)
	}

	var devEuiMap loracache.DevEuiToNodeId
	if cfg.Lora.DevEuiMapPath != "" && util.CheckFileExists(cfg.Lora.DevEuiMapPath) {
		devEuiMap, err = config.LoadDevEuiMap(cfg.Lora.DevEuiMapPath)
		if err != nil {
			log.Fatal(err)
		}
	} else if cfg.Lora.DevEuiMapPath != "" {
		log.Warnf("dev-eui map %s not found, starting with no device-id mapping", cfg.Lora.DevEuiMapPath)
	}

	validator := validate.New(cfg.ValidationBounds())
	networkCfg := cfg.NetworkConfig(validator)

	br := bridge.New(bridge.Config{
		SerialPath:     cfg.Serial.Port,
		SerialDisabled: cfg.Serial.Disabled,
		LoraSubscriber: loracache.SubscriberConfig{
			Broker:       cfg.Lora.Broker,
			Port:         cfg.Lora.Port,
			Username:     cfg.Lora.Username,
			Password:     cfg.Lora.Password,
			TopicPattern: cfg.Lora.TopicPattern,
		},
		Publisher: mqttpub.Config{
			Broker:                  cfg.Publish.Broker,
			Port:                    cfg.Publish.Port,
			Username:                cfg.Publish.Username,
			Password:                cfg.Publish.Password,
			Topic:                   cfg.Publish.Topic,
			RateLimit:               time.Duration(cfg.Publish.RateLimitSeconds * float64(time.Second)),
			ValidationFailuresTopic: cfg.Publish.ValidationFailuresTopic,
		},
		DiagnosticsAddr:  cfg.DiagnosticsAddr,
		Anchors:          anchors,
		DevEuiMap:        devEuiMap,
		CacheTTL:         cfg.TTLConfig(),
		NetworkConfig:    networkCfg,
		ValidationBounds: cfg.ValidationBounds(),
		BackoffConfig:    cfg.BackoffConfig(),
		HealthConfig:     cfg.HealthConfig(),
		ErrorThresholds:  resilience.DefaultThresholds(),
	})

	log.Info("uwb-bridge starting")
	if cfg.Serial.Disabled {
		log.Info("serial port: DISABLED (testing mode)")
	} else {
		log.Infof("serial port: %s", cfg.Serial.Port)
	}
	log.Infof("outbound MQTT broker: %s:%d topic=%s", cfg.Publish.Broker, cfg.Publish.Port, cfg.Publish.Topic)

	ctx, cancel := context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		log.Info("shutting down")
		cancel()
	}()

	if err := br.Run(ctx); err != nil {
		log.Errorf("uwb-bridge exiting: %v", err)
		os.Exit(1)
	}
}
