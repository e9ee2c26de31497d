package main

import (
	"strconv"

	"github.com/danmuck/fraiselink/internal/config"
	"github.com/danmuck/fraiselink/internal/transport/serialport"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports",
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := serialport.List()
		if err != nil {
			return err
		}
		if len(ports) == 0 {
			pterm.Warning.Println("no serial ports found")
			return nil
		}
		data := pterm.TableData{{"Port", "USB", "VID:PID", "Serial", "Product"}}
		for _, p := range ports {
			vidpid := ""
			if p.IsUSB {
				vidpid = p.VID + ":" + p.PID
			}
			data = append(data, []string{p.Name, strconv.FormatBool(p.IsUSB), vidpid, p.SerialNumber, p.Product})
		}
		return pterm.DefaultTable.WithHasHeader(true).WithData(data).Render()
	},
}

var (
	configKind      string
	configOut       string
	configOverwrite bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage fraisectl configuration files",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config or manifest template",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := configOut
		if out == "" {
			out = configKind + ".toml"
		}
		if err := config.WriteTemplate(out, configKind, configOverwrite); err != nil {
			return err
		}
		pterm.Success.Println("wrote " + out)
		return nil
	},
}

func init() {
	configInitCmd.Flags().StringVar(&configKind, "kind", "manifest", "template kind: manifest or fraisectl")
	configInitCmd.Flags().StringVar(&configOut, "out", "", "output path")
	configInitCmd.Flags().BoolVar(&configOverwrite, "force", false, "overwrite an existing file")
	configCmd.AddCommand(configInitCmd)
}
