package bluetooth

import "tinygo.org/x/bluetooth"

// Only BlueZ exposes multiple adapters by name.
func newAdapter(_ string) *bluetooth.Adapter {
	return bluetooth.DefaultAdapter
}

var confirmedWrite = bluetooth.DeviceCharacteristic.Write
