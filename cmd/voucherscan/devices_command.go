package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"voucherscan/internal/camera"
	"voucherscan/internal/v4l"
)

type devicesReport struct {
	Permission camera.PermissionState `json:"permission"`
	Default    string                 `json:"default,omitempty"`
	Devices    []camera.Device        `json:"devices"`
}

func newDevicesCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List video capture devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			host := v4l.NewHost(cfg.Camera.SysfsRoot, cfg.Camera.DevRoot, nil)
			report := devicesReport{
				Permission: camera.NewPermissionGate(host, nil).Query(cmd.Context()),
				Devices:    camera.NewCatalog(host, nil).ListVideoDevices(cmd.Context()),
			}
			if report.Devices == nil {
				report.Devices = []camera.Device{}
			}
			report.Default = camera.SelectDefault(report.Devices, cfg.Camera.Device)

			if asJSON {
				return writeJSON(cmd, report)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Camera permission: %s\n", report.Permission)
			if len(report.Devices) == 0 {
				fmt.Fprintln(out, "No video devices found")
				return nil
			}
			rows := make([][]string, 0, len(report.Devices))
			for _, device := range report.Devices {
				rows = append(rows, []string{device.DeviceID, device.Label, yesNo(device.DeviceID == report.Default)})
			}
			fmt.Fprintln(out, renderTable([]string{"Device", "Label", "Default"}, rows))
			if report.Default == "" {
				fmt.Fprintln(out, "No explicit default; the first available camera is used")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}
