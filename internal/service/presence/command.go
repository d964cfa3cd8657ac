package presence

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
)

// Runner executes an external command and returns its stdout.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs the command through os/exec, folding stderr into the error.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

const powerShellPath = `C:\Windows\System32\WindowsPowerShell\v1.0\powershell.exe`

const connectedDevicesScript = "Get-PnpDevice -Class Bluetooth | " +
	"Where-Object {$_.Status -eq 'OK'} | " +
	"Select-Object Name, Status, InstanceId | " +
	"ConvertTo-Json"

// PowerShellSource queries Windows PnP for Bluetooth devices with status OK.
type PowerShellSource struct {
	Path string
	Run  Runner
}

// NewPowerShellSource returns a source using the stock PowerShell binary.
func NewPowerShellSource() *PowerShellSource {
	return &PowerShellSource{Path: powerShellPath, Run: ExecRunner}
}

// ConnectedDevices runs Get-PnpDevice and parses its JSON output.
func (s *PowerShellSource) ConnectedDevices(ctx context.Context) ([]Device, error) {
	run := s.Run
	if run == nil {
		run = ExecRunner
	}
	path := s.Path
	if path == "" {
		path = powerShellPath
	}

	out, err := run(ctx, path, "-Command", connectedDevicesScript)
	if err != nil {
		return nil, fmt.Errorf("query bluetooth devices: %w", err)
	}
	return parsePnpDevices(out)
}

type pnpDevice struct {
	Name       string `json:"Name"`
	Status     string `json:"Status"`
	InstanceID string `json:"InstanceId"`
}

// parsePnpDevices accepts either a single object or an array, matching how
// ConvertTo-Json collapses one-element pipelines.
func parsePnpDevices(out []byte) ([]Device, error) {
	out = bytes.TrimSpace(out)
	if len(out) == 0 {
		return nil, nil
	}

	var raw []pnpDevice
	switch out[0] {
	case '[':
		if err := json.Unmarshal(out, &raw); err != nil {
			return nil, fmt.Errorf("decode device list: %w", err)
		}
	case '{':
		var single pnpDevice
		if err := json.Unmarshal(out, &single); err != nil {
			return nil, fmt.Errorf("decode device: %w", err)
		}
		raw = []pnpDevice{single}
	default:
		return nil, errors.New("unexpected powershell output")
	}

	devices := make([]Device, 0, len(raw))
	for _, d := range raw {
		name := d.Name
		if name == "" {
			name = "Unknown"
		}
		devices = append(devices, Device{Address: macFromInstanceID(d.InstanceID), Name: name})
	}
	return devices, nil
}

// macFromInstanceID recovers the MAC that follows the first underscore of a
// PnP instance id such as BTHENUM\DEV_CC6B1E80F585\7&1A2B3C&0&BLUETOOTHDEVICE.
func macFromInstanceID(instanceID string) string {
	parts := strings.Split(instanceID, "_")
	if len(parts) < 2 {
		return UnknownAddress
	}
	hex := parts[1]
	if len(hex) > 12 {
		hex = hex[:12]
	}
	if hex == "" {
		return UnknownAddress
	}

	pairs := make([]string, 0, 6)
	for i := 0; i < len(hex); i += 2 {
		end := i + 2
		if end > len(hex) {
			end = len(hex)
		}
		pairs = append(pairs, hex[i:end])
	}
	return NormalizeAddress(strings.Join(pairs, ":"))
}

// BluetoothctlSource lists connected devices through BlueZ on Linux hosts.
type BluetoothctlSource struct {
	Path string
	Run  Runner
}

// NewBluetoothctlSource returns a source that shells out to bluetoothctl.
func NewBluetoothctlSource() *BluetoothctlSource {
	return &BluetoothctlSource{Path: "bluetoothctl", Run: ExecRunner}
}

var deviceLine = regexp.MustCompile(`^Device\s+([0-9A-Fa-f]{2}(?::[0-9A-Fa-f]{2}){5})\s*(.*)$`)

// ConnectedDevices runs `bluetoothctl devices Connected`.
func (s *BluetoothctlSource) ConnectedDevices(ctx context.Context) ([]Device, error) {
	run := s.Run
	if run == nil {
		run = ExecRunner
	}
	path := s.Path
	if path == "" {
		path = "bluetoothctl"
	}

	out, err := run(ctx, path, "devices", "Connected")
	if err != nil {
		return nil, fmt.Errorf("query bluetooth devices: %w", err)
	}

	var devices []Device
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		m := deviceLine.FindStringSubmatch(strings.TrimSpace(scanner.Text()))
		if m == nil {
			continue
		}
		devices = append(devices, Device{Address: NormalizeAddress(m[1]), Name: strings.TrimSpace(m[2])})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan bluetoothctl output: %w", err)
	}
	return devices, nil
}
