package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "manifest":
		return manifestTemplate, nil
	case "fraisectl":
		return fraisectlTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const manifestTemplate = `name = "rgb-board"
device_id = 0
serial = "fraise-0001"
version = 410

[[capabilities]]
id = 0x0001
name = "rgb-led"
role = "required"
min_size = 3
payload = "0d0e0f"

[[capabilities]]
id = 0x0002
name = "board-info"
role = "offered"
payload = "0100"
`

const fraisectlTemplate = `manifest = "manifest.toml"

[device]
listen = ":9300"
reset_on_disconnect = false

[host]
port = "/dev/ttyACM0"
baud = 115200
dtr = true
url = ""

[status]
addr = ":9310"
cors_origins = ["http://localhost:3000"]

[log]
level = "info"
file = ""
`
