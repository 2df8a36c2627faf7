package bluetooth

import "tinygo.org/x/bluetooth"

func newAdapter(id string) *bluetooth.Adapter {
	if id != "" {
		return bluetooth.NewAdapter(id)
	}
	return bluetooth.DefaultAdapter
}

// BlueZ has a single write call: WriteValue blocks until the stack is done
// and is sent as a write request whenever the characteristic allows one.
var confirmedWrite = bluetooth.DeviceCharacteristic.WriteWithoutResponse
