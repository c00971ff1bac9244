// atmodem is the AT-command LoRaWAN modem core entrypoint
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/agsys/atmodem/internal/atci"
	"github.com/agsys/atmodem/internal/cmdset"
	"github.com/agsys/atmodem/internal/link"
	"github.com/agsys/atmodem/internal/lorawan"
	"github.com/agsys/atmodem/internal/nvm"
	"github.com/agsys/atmodem/internal/simmac"
	"github.com/agsys/atmodem/internal/sysconf"
	"github.com/agsys/atmodem/internal/sysloop"
	"github.com/agsys/atmodem/internal/usernvm"
)

// Config represents the configuration file structure
type Config struct {
	Serial struct {
		Port string `yaml:"port"`
		Baud uint32 `yaml:"baud"`
	} `yaml:"serial"`

	Device struct {
		UniqueID string `yaml:"unique_id"`
		Region   string `yaml:"region"`
	} `yaml:"device"`

	Identity struct {
		DevEUI  string `yaml:"dev_eui"`
		JoinEUI string `yaml:"join_eui"`
		AppKey  string `yaml:"app_key"`
	} `yaml:"identity"`

	NVM struct {
		ImagePath string `yaml:"image_path"`
		Size      int    `yaml:"size"`
	} `yaml:"nvm"`

	Timing struct {
		ShallowSleepMs int `yaml:"shallow_sleep_ms"`
		DeepSleepMs    int `yaml:"deep_sleep_ms"`
		JoinDelayMs    int `yaml:"join_delay_ms"`
		UplinkDelayMs  int `yaml:"uplink_delay_ms"`
	} `yaml:"timing"`
}

var (
	configFile string
	rootCmd    = &cobra.Command{
		Use:   "atmodem",
		Short: "AT-command LoRaWAN modem core",
		Long:  "Line-oriented AT-command processor fronting a LoRaWAN session: ATCI parser, non-volatile config/key store, and the cooperative main loop that drives them.",
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the modem core against a serial port",
		RunE:  runModem,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("atmodem %s (%s)\n", buildVersion, buildDate)
		},
	}
)

// buildVersion/buildDate are the two values AT+VER reports; a real
// release pipeline would set these with -ldflags, matching the
// teacher's own unversioned "v0.1.0" constant in cmd/agsys-controller.
const (
	buildVersion = "1.0.0"
	buildDate    = "2026-01-01"
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/atmodem/modem.yaml", "Configuration file path")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &cfg, nil
}

// fixedUnique implements hal.Unique over a config-supplied 8-byte ID.
type fixedUnique struct{ id [8]byte }

func (u fixedUnique) ID() [8]byte { return u.id }

func runModem(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.Serial.Port == "" {
		return fmt.Errorf("serial.port is required")
	}
	if cfg.Serial.Baud == 0 {
		cfg.Serial.Baud = uint32(sysconf.Baud19200)
	}
	region := cfg.Device.Region
	if region == "" {
		region = "EU868"
	}

	var uniqueID [8]byte
	if cfg.Device.UniqueID != "" {
		raw, err := hex.DecodeString(cfg.Device.UniqueID)
		if err != nil || len(raw) != 8 {
			return fmt.Errorf("device.unique_id must be 16 hex characters")
		}
		copy(uniqueID[:], raw)
	}

	nvmSize := cfg.NVM.Size
	if nvmSize <= 0 {
		nvmSize = 8192
	}

	table, err := openNvm(cfg.NVM.ImagePath, nvmSize)
	if err != nil {
		return fmt.Errorf("failed to open NVM: %w", err)
	}

	conf, err := sysconf.Open(table)
	if err != nil {
		return fmt.Errorf("failed to open sysconf: %w", err)
	}

	userNvm, err := usernvm.Open(table)
	if err != nil {
		return fmt.Errorf("failed to open user NVM: %w", err)
	}

	simCfg := simmac.DefaultConfig()
	if cfg.Timing.JoinDelayMs > 0 {
		simCfg.JoinDelay = time.Duration(cfg.Timing.JoinDelayMs) * time.Millisecond
	}
	if cfg.Timing.UplinkDelayMs > 0 {
		simCfg.UplinkDelay = time.Duration(cfg.Timing.UplinkDelayMs) * time.Millisecond
	}
	mac := simmac.New(simCfg, region)

	lrw, err := lorawan.New(mac, conf, table)
	if err != nil {
		return fmt.Errorf("failed to build LoRaWAN adapter: %w", err)
	}

	userNvm, err = usernvm.Open(table)
	if err != nil {
		return fmt.Errorf("failed to open user NVM: %w", err)
	}

	if err := seedIdentity(lrw, cfg.Identity.DevEUI, cfg.Identity.JoinEUI, cfg.Identity.AppKey); err != nil {
		return fmt.Errorf("failed to seed identity: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := lrw.Start(ctx); err != nil {
		return fmt.Errorf("failed to start LoRaWAN adapter: %w", err)
	}

	transport, err := link.OpenSerial(cfg.Serial.Port, sysconf.UartBaud(cfg.Serial.Baud), time.Duration(conf.Get().UartTimeoutMs)*time.Millisecond)
	if err != nil {
		return fmt.Errorf("failed to open serial port: %w", err)
	}

	wake := &sysloop.WakeLockMask{}
	l := link.New(transport, link.Config{
		RxBufSize: 256,
		TxBufSize: 512,
		RxWakeBit: sysloop.LinkRx,
		TxWakeBit: sysloop.LinkTx,
	})
	l.SetWakeLocker(wake)
	if err := l.Start(); err != nil {
		return fmt.Errorf("failed to start link: %w", err)
	}
	defer l.Stop()

	// The command table needs a *cmdset.Deps with a live parser, but the
	// parser needs the finished table to dispatch into — built in two
	// passes, the first throwaway, exactly as the cmdset test fixture
	// does it.
	parser := atci.New(l, atci.NewTable(nil))

	var resetKind sysloop.ResetKind
	var sup *sysloop.Supervisor
	onReset := func(kind sysloop.ResetKind) {
		resetKind = kind
		l.Flush()
		cancel()
	}

	deps := cmdset.NewDeps(conf, lrw, table, fixedUnique{id: uniqueID}, resetterFunc(func(kind sysloop.ResetKind) {
		if sup != nil {
			sup.ScheduleReset(kind)
		}
	}), parser, cmdset.BuildInfo{Version: buildVersion, Build: buildDate}, userNvm)

	table2 := cmdset.Build(deps)
	parser = atci.New(l, table2)
	deps.Parser = parser

	parser.SetEventDrain(func(out *atci.IO) {
		lrw.DrainBuffered(out.Event)
	})
	lrw.SetDirectSink(parser.IO().Event)

	loopCfg := sysloop.DefaultConfig()
	if cfg.Timing.ShallowSleepMs > 0 {
		loopCfg.ShallowSleep = time.Duration(cfg.Timing.ShallowSleepMs) * time.Millisecond
	}
	if cfg.Timing.DeepSleepMs > 0 {
		loopCfg.DeepSleep = time.Duration(cfg.Timing.DeepSleepMs) * time.Millisecond
	}

	sup = sysloop.New(loopCfg, conf, parser, lrw, wake, onReset)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Printf("atmodem[%s]: received signal %v, shutting down", sup.SessionID, sig)
		cancel()
	}()

	log.Printf("atmodem[%s]: starting on %s at %d baud, region %s", sup.SessionID, cfg.Serial.Port, cfg.Serial.Baud, region)
	if err := sup.Run(ctx); err != nil {
		return fmt.Errorf("main loop error: %w", err)
	}

	if resetKind == sysloop.ResetImmediate {
		log.Printf("atmodem[%s]: immediate reset requested, exiting uncleanly", sup.SessionID)
		os.Exit(1)
	}
	log.Printf("atmodem[%s]: shutdown complete", sup.SessionID)
	return nil
}

// resetterFunc adapts a plain function to cmdset.Resetter.
type resetterFunc func(kind sysloop.ResetKind)

func (f resetterFunc) ScheduleReset(kind sysloop.ResetKind) { f(kind) }

// openNvm opens the NVM block backing the partition table: a flat
// file when imagePath is set (persists across restarts), otherwise an
// in-memory block that starts factory-fresh every run.
func openNvm(imagePath string, size int) (*nvm.Table, error) {
	if imagePath == "" {
		flash := nvm.NewMemFlash(size)
		return nvm.Format(flash, 8)
	}

	flash, err := nvm.OpenFileFlash(imagePath, size)
	if err != nil {
		return nil, err
	}
	table, err := nvm.Open(flash)
	if err != nil {
		return nvm.Format(flash, 8)
	}
	return table, nil
}

// seedIdentity applies config-supplied identity fields once, at
// startup, if present; an already-persisted DevEUI is left untouched
// so a restart doesn't clobber AT+DEVEUI/+APPKEY set over the wire.
func seedIdentity(lrw *lorawan.Adapter, devEUI, joinEUI, appKey string) error {
	if devEUI == "" && joinEUI == "" && appKey == "" {
		return nil
	}
	if lrw.Keys().DevEUI != ([8]byte{}) {
		return nil
	}

	var devEUIBytes, joinEUIBytes [8]byte
	var appKeyBytes [16]byte
	if devEUI != "" {
		raw, err := hex.DecodeString(devEUI)
		if err != nil || len(raw) != 8 {
			return fmt.Errorf("identity.dev_eui must be 16 hex characters")
		}
		copy(devEUIBytes[:], raw)
	}
	if joinEUI != "" {
		raw, err := hex.DecodeString(joinEUI)
		if err != nil || len(raw) != 8 {
			return fmt.Errorf("identity.join_eui must be 16 hex characters")
		}
		copy(joinEUIBytes[:], raw)
	}
	if appKey != "" {
		raw, err := hex.DecodeString(appKey)
		if err != nil || len(raw) != 16 {
			return fmt.Errorf("identity.app_key must be 32 hex characters")
		}
		copy(appKeyBytes[:], raw)
	}

	lrw.SetKeys(func(k *lorawan.Keys) {
		k.DevEUI = devEUIBytes
		k.JoinEUI = joinEUIBytes
		k.AppKey = appKeyBytes
		k.NwkKey = appKeyBytes
	})
	return nil
}
