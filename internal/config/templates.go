package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "link":
		return linkTemplate, nil
	case "target":
		return targetTemplate, nil
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

const linkTemplate = `name = "linkctl"
address = "127.0.0.1:7400"
# "" or "0" = one attempt, "infinite" = retry until closed, or a duration
connect_timeout = "30s"
receive_buffer_size = 8192
inbound_ceiling = 10000
status_addr = ":9300"
cors_origins = ["http://localhost:3000"]

[backoff]
initial_delay = "250ms"
max_delay = "5s"
multiplier = 2.0
jitter = true

[hello]
ticket = 1
message_id = 1
payload = "hello"
`

const targetTemplate = `addr = "127.0.0.1:7400"
echo = true
received_buffer = 1024
publish_interval = "5s"
publish_message_id = 64
publish_payload = "tick"
`
