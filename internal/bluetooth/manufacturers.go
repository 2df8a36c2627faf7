package bluetooth

// LookupManufacturer returns a short label for a Bluetooth SIG company ID,
// used when a peripheral advertises no local name.
func LookupManufacturer(companyID uint16) string {
	if companyID == 0 {
		return ""
	}
	return companyNames[companyID]
}

// Vendors commonly seen around a bench rig.
var companyNames = map[uint16]string{
	0x004C: "Apple",
	0x0006: "Microsoft",
	0x00E0: "Google",
	0x0075: "Samsung",
	0x0310: "Xiaomi",
	0x0157: "Huawei",
	0x038F: "Garmin",
	0x02FF: "Tile",
	0x0059: "Nordic",
	0x000D: "Texas Inst.",
	0x0002: "Intel",
	0x000F: "Broadcom",
	0x000A: "Qualcomm",
	0x0499: "Ruuvi",
	0x015D: "Espressif",
	0x00AA: "Realtek",
	0x0246: "Logitech",
	0x03DA: "Fitbit",
}
