// Package usbpro is a minimal stand-in for OLA's Enttec USB Pro plugin
// (original_source/plugins/usbpro): one device, one input port and one
// output port, talking to an in-memory simulated widget instead of a real
// serial device. It exists to exercise internal/registry's Device/Port
// wiring for a non-Art-Net transport, not to implement the USB Pro wire
// protocol.
package usbpro

import (
	"fmt"

	"github.com/lacylights/lacylightsd/internal/dmxbuf"
	"github.com/lacylights/lacylightsd/internal/registry"
)

// Params mirrors the widget parameters the original's PRM_REQ/PRM_REP
// config messages carry: break/mark-after-break timing and DMX frame rate.
type Params struct {
	Firmware uint16
	Break    uint8
	Mab      uint8
	Rate     uint8
}

// Widget simulates the serial-connected hardware: it holds the last frame
// sent to it (what would go out the DMX line) and the last frame it
// "received" (what would come in from an external source), and notifies a
// listener when new input data arrives.
type Widget struct {
	params Params
	serial [4]byte

	dmxOut dmxbuf.Buffer
	dmxIn  dmxbuf.Buffer

	onInput func(dmxbuf.Buffer)
}

// NewWidget creates a simulated widget with the given serial number.
func NewWidget(serial [4]byte) *Widget {
	return &Widget{serial: serial}
}

// SetOnInput registers the callback invoked whenever SimulateInput is
// called - the device uses this to feed its input port.
func (w *Widget) SetOnInput(fn func(dmxbuf.Buffer)) { w.onInput = fn }

// SendDMX stores data as the frame that would be written out the widget's
// DMX line.
func (w *Widget) SendDMX(data dmxbuf.Buffer) error {
	w.dmxOut = data
	return nil
}

// DMXOut returns the last frame sent to the widget.
func (w *Widget) DMXOut() dmxbuf.Buffer { return w.dmxOut }

// SimulateInput feeds data into the widget as if it arrived over the DMX
// input line, and notifies the registered listener.
func (w *Widget) SimulateInput(data dmxbuf.Buffer) {
	w.dmxIn = data
	if w.onInput != nil {
		w.onInput(data)
	}
}

// Params returns the widget's cached parameters.
func (w *Widget) Params() Params { return w.params }

// SetParams updates the widget's cached parameters.
func (w *Widget) SetParams(p Params) { w.params = p }

// Serial returns the widget's serial number.
func (w *Widget) Serial() [4]byte { return w.serial }

// RequestType selects a configure() request kind. The original's
// usbprodevice.cpp configure() switches on this with no break between
// cases, so a PRM_REQ falls through and also runs the SER_REQ and SPRM_REQ
// branches, silently discarding the params reply and zeroing widget params
// on every get-params call. We use a plain switch that returns from each
// case instead.
type RequestType int

const (
	RequestGetParams RequestType = iota
	RequestGetSerial
	RequestSetParams
)

// ConfigRequest is one configure() call.
type ConfigRequest struct {
	Type      RequestType
	SetParams Params // only read when Type == RequestSetParams
}

// ConfigReply is configure()'s result.
type ConfigReply struct {
	Params Params
	Serial [4]byte
}

// Configure answers a widget configuration request. Each request type
// returns immediately instead of falling through to the next case.
func (w *Widget) Configure(req ConfigRequest) (ConfigReply, error) {
	switch req.Type {
	case RequestGetParams:
		return ConfigReply{Params: w.params}, nil
	case RequestGetSerial:
		return ConfigReply{Serial: w.serial}, nil
	case RequestSetParams:
		w.params = req.SetParams
		return ConfigReply{Params: w.params}, nil
	default:
		return ConfigReply{}, fmt.Errorf("usbpro: unknown configure request type %d", req.Type)
	}
}

// Device is a USB Pro device: a name, a widget, and the two registry ports
// that expose it to the universe merge engine. A real widget allows only
// one of the two ports in active use at a time; the simulated one does not
// enforce that.
type Device struct {
	name   string
	path   string
	widget *Widget

	InputPort  *registry.Port
	OutputPort *registry.Port
}

// NewDevice creates a device for path (e.g. "/dev/ttyUSB0") wrapping a
// fresh simulated widget, with its input port wired to receive frames the
// widget "sees" and its output port wired to write frames to the widget.
func NewDevice(name, path string, serial [4]byte) *Device {
	widget := NewWidget(serial)

	d := &Device{
		name:   name,
		path:   path,
		widget: widget,
		InputPort: &registry.Port{
			UniqueID:   uniqueID(path, registry.PortInput),
			Kind:       registry.PortInput,
			Capability: registry.CapabilityStatic,
		},
		OutputPort: &registry.Port{
			UniqueID:   uniqueID(path, registry.PortOutput),
			Kind:       registry.PortOutput,
			Capability: registry.CapabilityStatic,
		},
	}
	d.OutputPort.SetSink(widgetSink{widget})
	return d
}

// uniqueID mirrors DeviceManager's use of a stable per-port identity: the
// device path plus the port's data direction.
func uniqueID(path string, kind registry.PortKind) string {
	if kind == registry.PortInput {
		return fmt.Sprintf("usbpro:%s:in", path)
	}
	return fmt.Sprintf("usbpro:%s:out", path)
}

// widgetSink adapts *Widget to registry.OutputSink.
type widgetSink struct{ w *Widget }

func (s widgetSink) WriteDMX(data dmxbuf.Buffer) { _ = s.w.SendDMX(data) }

// Widget returns the device's underlying simulated widget.
func (d *Device) Widget() *Widget { return d.widget }

// RegistryDevice builds the registry.Device this usbpro.Device exposes for
// RegisterDevice, with its two ports in the original's fixed order (input,
// then output).
func (d *Device) RegistryDevice() *registry.Device {
	return &registry.Device{
		UniqueID:     fmt.Sprintf("usbpro:%s", d.path),
		Name:         d.name,
		OwningPlugin: "usbpro",
		Ports:        []*registry.Port{d.InputPort, d.OutputPort},
	}
}

// FeedInputPort wires the widget's input notifications into a
// universe-facing callback, typically Universe.PortDataChanged bound to
// the input port's unique id.
func (d *Device) FeedInputPort(fn func(portID string, data dmxbuf.Buffer)) {
	d.widget.SetOnInput(func(data dmxbuf.Buffer) {
		fn(d.InputPort.UniqueID, data)
	})
}
