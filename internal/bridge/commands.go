package bridge

import "strings"

// Single-letter commands understood by the peripheral firmware. It echoes
// each accepted command back as a notification.
var commandLabels = map[string]string{
	"r": "RED LED",
	"g": "Green LED",
	"b": "blue LED",
	"p": "humidity",
	"t": "Temperature",
	"i": "Accelerometer",
}

// DescribeCommand labels an echoed command line, "Unknown input" otherwise.
func DescribeCommand(line []byte) string {
	if label, ok := commandLabels[strings.TrimRight(string(line), "\r\n")]; ok {
		return label
	}
	return "Unknown input"
}
