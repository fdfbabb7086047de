package commands

import (
	"fmt"

	"github.com/gordonklaus/portaudio"
	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List available audio input devices",
	RunE:  listDevices,
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}

func listDevices(cmd *cobra.Command, _ []string) error {
	if err := portaudio.Initialize(); err != nil {
		return err
	}
	defer func() { _ = portaudio.Terminate() }()

	devices, err := portaudio.Devices()
	if err != nil {
		return err
	}
	defaultIn, _ := portaudio.DefaultInputDevice()

	for _, dev := range devices {
		if dev.MaxInputChannels < 1 {
			continue
		}
		marker := " "
		if defaultIn != nil && dev.Name == defaultIn.Name {
			marker = "*"
		}
		fmt.Printf("%s %-40s %6.0f Hz  %d ch\n", marker, dev.Name, dev.DefaultSampleRate, dev.MaxInputChannels)
	}
	return nil
}
