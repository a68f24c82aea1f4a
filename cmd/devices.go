package main

import (
	"encoding/json"
	"os"

	"attendance-bridge/internal/config"
	"attendance-bridge/internal/store"
	"attendance-bridge/internal/types"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	deviceName      string
	deviceHost      string
	devicePort      int
	deviceTransport string
)

var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Provision and inspect devices",
}

var deviceAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a terminal with the bridge",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDeviceAdd()
	},
}

var deviceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered devices and their operational state",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDeviceList()
	},
}

func init() {
	deviceAddCmd.Flags().StringVar(&deviceName, "name", "", "human-readable device name")
	deviceAddCmd.Flags().StringVar(&deviceHost, "host", "", "device network address")
	deviceAddCmd.Flags().IntVar(&devicePort, "port", 4370, "device port")
	deviceAddCmd.Flags().StringVar(&deviceTransport, "transport", "direct", "transport variant (direct, wired, gateway)")
	deviceAddCmd.MarkFlagRequired("host")

	deviceCmd.AddCommand(deviceAddCmd)
	deviceCmd.AddCommand(deviceListCmd)
	rootCmd.AddCommand(deviceCmd)
}

func openStore() (*store.Store, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	return store.Open(store.Config{
		Driver: cfg.DatabaseDriver,
		Path:   cfg.DatabasePath,
		DSN:    cfg.DatabaseDSN,
	})
}

func runDeviceAdd() error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	device := types.Device{
		ID:        uuid.NewString(),
		Name:      deviceName,
		Host:      deviceHost,
		Port:      devicePort,
		Transport: types.TransportVariant(deviceTransport),
	}
	if device.Name == "" {
		device.Name = device.Host
	}

	if err := db.InsertDevice(device); err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(device)
}

func runDeviceList() error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	devices, err := db.GetActiveDevices()
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(devices)
}
