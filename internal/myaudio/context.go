package myaudio

import (
	"encoding/hex"
	"runtime"
	"strings"

	"github.com/gen2brain/malgo"

	"github.com/tphakala/dualverify/internal/errors"
	"github.com/tphakala/dualverify/internal/logger"
)

const (
	numChannels = 1
	bitDepth    = 16
)

// DeviceInfo describes an audio device.
type DeviceInfo struct {
	Index int
	Name  string
	ID    string
}

// initContext creates a malgo context on the platform's preferred backend.
func initContext(log logger.Logger) (*malgo.AllocatedContext, error) {
	var backends []malgo.Backend
	switch runtime.GOOS {
	case "linux":
		backends = []malgo.Backend{malgo.BackendAlsa}
	case "windows":
		backends = []malgo.Backend{malgo.BackendWasapi}
	case "darwin":
		backends = []malgo.Backend{malgo.BackendCoreaudio}
	}

	ctx, err := malgo.InitContext(backends, malgo.ContextConfig{}, func(message string) {
		log.Debug("miniaudio", logger.String("message", strings.TrimSpace(message)))
	})
	if err != nil {
		return nil, errors.New(err).
			Component("myaudio").
			Category(errors.CategoryHardware).
			Context("operation", "init-context").
			Build()
	}
	return ctx, nil
}

// ListDevices returns the capture or playback devices of the default backend.
func ListDevices(deviceType malgo.DeviceType) ([]DeviceInfo, error) {
	ctx, err := initContext(GetLogger())
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = ctx.Uninit()
		ctx.Free()
	}()

	infos, err := ctx.Devices(deviceType)
	if err != nil {
		return nil, errors.New(err).
			Component("myaudio").
			Category(errors.CategoryHardware).
			Context("operation", "list-devices").
			Build()
	}

	devices := make([]DeviceInfo, 0, len(infos))
	for i := range infos {
		devices = append(devices, DeviceInfo{
			Index: i,
			Name:  infos[i].Name(),
			ID:    decodeDeviceID(infos[i].ID.String()),
		})
	}
	return devices, nil
}

// selectDevice returns the device matching name, or nil for the system
// default when name is empty.
func selectDevice(ctx *malgo.AllocatedContext, deviceType malgo.DeviceType, name string) (*malgo.DeviceInfo, error) {
	if name == "" || name == "default" || name == "sysdefault" {
		return nil, nil
	}

	infos, err := ctx.Devices(deviceType)
	if err != nil {
		return nil, errors.New(err).
			Component("myaudio").
			Category(errors.CategoryHardware).
			Context("operation", "list-devices").
			Build()
	}

	for i := range infos {
		if matchesDevice(infos[i].Name(), decodeDeviceID(infos[i].ID.String()), name) {
			return &infos[i], nil
		}
	}

	return nil, errors.Newf("audio device %q not found", name).
		Component("myaudio").
		Category(errors.CategoryHardware).
		Context("device", name).
		Build()
}

// matchesDevice compares a configured device name against a device's display
// name and decoded ID, case-insensitively and by substring.
func matchesDevice(displayName, decodedID, want string) bool {
	want = strings.ToLower(want)
	return strings.Contains(strings.ToLower(displayName), want) ||
		strings.Contains(strings.ToLower(decodedID), want)
}

// decodeDeviceID turns malgo's hex encoded ID into text; IDs that are not
// printable are returned unchanged.
func decodeDeviceID(hexID string) string {
	raw, err := hex.DecodeString(hexID)
	if err != nil {
		return hexID
	}
	decoded := strings.TrimRight(string(raw), "\x00")
	for _, r := range decoded {
		if r < 0x20 || r > 0x7e {
			return hexID
		}
	}
	return decoded
}
