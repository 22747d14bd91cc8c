package rfm69

import (
	"fmt"
	"strings"
)

// ModemConfig is a canned modulation setting: modulation type, bitrate,
// frequency deviation and receiver bandwidth.
type ModemConfig byte

const (
	FSKRb2Fd5 ModemConfig = iota
	FSKRb2_4Fd4_8
	FSKRb4_8Fd9_6
	FSKRb9_6Fd19_2
	FSKRb19_2Fd38_4
	FSKRb38_4Fd76_8
	FSKRb57_6Fd120
	FSKRb125Fd125
	FSKRb250Fd250
	FSKRb55555Fd50

	GFSKRb2Fd5
	GFSKRb2_4Fd4_8
	GFSKRb4_8Fd9_6
	GFSKRb9_6Fd19_2
	GFSKRb19_2Fd38_4
	GFSKRb38_4Fd76_8
	GFSKRb57_6Fd120
	GFSKRb125Fd125
	GFSKRb250Fd250
	GFSKRb55555Fd50

	OOKRb1Bw1
	OOKRb1_2Bw75
	OOKRb2_4Bw4_8
	OOKRb4_8Bw9_6
	OOKRb9_6Bw19_2
	OOKRb19_2Bw38_4
	OOKRb32Bw64
)

const (
	dataModulFSK  byte = 0x00
	dataModulGFSK byte = 0x01
	dataModulOOK  byte = 0x08
)

type modemSetting struct {
	name string
	// DataModul, BitrateMsb, BitrateLsb, FdevMsb, FdevLsb
	modul [5]byte
	// RxBw, AfcBw
	bw [2]byte
}

var modemSettings = [...]modemSetting{
	FSKRb2Fd5:       {"FSKRb2Fd5", [5]byte{dataModulFSK, 0x3e, 0x80, 0x00, 0x52}, [2]byte{0xf4, 0xf4}},
	FSKRb2_4Fd4_8:   {"FSKRb2_4Fd4_8", [5]byte{dataModulFSK, 0x34, 0x15, 0x00, 0x4f}, [2]byte{0xf4, 0xf4}},
	FSKRb4_8Fd9_6:   {"FSKRb4_8Fd9_6", [5]byte{dataModulFSK, 0x1a, 0x0b, 0x00, 0x9d}, [2]byte{0xf4, 0xf4}},
	FSKRb9_6Fd19_2:  {"FSKRb9_6Fd19_2", [5]byte{dataModulFSK, 0x0d, 0x05, 0x01, 0x3b}, [2]byte{0xf4, 0xf4}},
	FSKRb19_2Fd38_4: {"FSKRb19_2Fd38_4", [5]byte{dataModulFSK, 0x06, 0x83, 0x02, 0x75}, [2]byte{0xf3, 0xf3}},
	FSKRb38_4Fd76_8: {"FSKRb38_4Fd76_8", [5]byte{dataModulFSK, 0x03, 0x41, 0x04, 0xea}, [2]byte{0xf2, 0xf2}},
	FSKRb57_6Fd120:  {"FSKRb57_6Fd120", [5]byte{dataModulFSK, 0x02, 0x2c, 0x07, 0xae}, [2]byte{0xe2, 0xe2}},
	FSKRb125Fd125:   {"FSKRb125Fd125", [5]byte{dataModulFSK, 0x01, 0x00, 0x08, 0x00}, [2]byte{0xe1, 0xe1}},
	FSKRb250Fd250:   {"FSKRb250Fd250", [5]byte{dataModulFSK, 0x00, 0x80, 0x10, 0x00}, [2]byte{0xe0, 0xe0}},
	FSKRb55555Fd50:  {"FSKRb55555Fd50", [5]byte{dataModulFSK, 0x02, 0x40, 0x03, 0x33}, [2]byte{0x42, 0x42}},

	GFSKRb2Fd5:       {"GFSKRb2Fd5", [5]byte{dataModulGFSK, 0x3e, 0x80, 0x00, 0x52}, [2]byte{0xf4, 0xf5}},
	GFSKRb2_4Fd4_8:   {"GFSKRb2_4Fd4_8", [5]byte{dataModulGFSK, 0x34, 0x15, 0x00, 0x4f}, [2]byte{0xf4, 0xf4}},
	GFSKRb4_8Fd9_6:   {"GFSKRb4_8Fd9_6", [5]byte{dataModulGFSK, 0x1a, 0x0b, 0x00, 0x9d}, [2]byte{0xf4, 0xf4}},
	GFSKRb9_6Fd19_2:  {"GFSKRb9_6Fd19_2", [5]byte{dataModulGFSK, 0x0d, 0x05, 0x01, 0x3b}, [2]byte{0xf4, 0xf4}},
	GFSKRb19_2Fd38_4: {"GFSKRb19_2Fd38_4", [5]byte{dataModulGFSK, 0x06, 0x83, 0x02, 0x75}, [2]byte{0xf3, 0xf3}},
	GFSKRb38_4Fd76_8: {"GFSKRb38_4Fd76_8", [5]byte{dataModulGFSK, 0x03, 0x41, 0x04, 0xea}, [2]byte{0xf2, 0xf2}},
	GFSKRb57_6Fd120:  {"GFSKRb57_6Fd120", [5]byte{dataModulGFSK, 0x02, 0x2c, 0x07, 0xae}, [2]byte{0xe2, 0xe2}},
	GFSKRb125Fd125:   {"GFSKRb125Fd125", [5]byte{dataModulGFSK, 0x01, 0x00, 0x08, 0x00}, [2]byte{0xe1, 0xe1}},
	GFSKRb250Fd250:   {"GFSKRb250Fd250", [5]byte{dataModulGFSK, 0x00, 0x80, 0x10, 0x00}, [2]byte{0xe0, 0xe0}},
	GFSKRb55555Fd50:  {"GFSKRb55555Fd50", [5]byte{dataModulGFSK, 0x02, 0x40, 0x03, 0x33}, [2]byte{0x42, 0x42}},

	OOKRb1Bw1:       {"OOKRb1Bw1", [5]byte{dataModulOOK, 0x7d, 0x00, 0x00, 0x10}, [2]byte{0x88, 0x88}},
	OOKRb1_2Bw75:    {"OOKRb1_2Bw75", [5]byte{dataModulOOK, 0x68, 0x2b, 0x00, 0x10}, [2]byte{0xf1, 0xf1}},
	OOKRb2_4Bw4_8:   {"OOKRb2_4Bw4_8", [5]byte{dataModulOOK, 0x34, 0x15, 0x00, 0x10}, [2]byte{0xf5, 0xf5}},
	OOKRb4_8Bw9_6:   {"OOKRb4_8Bw9_6", [5]byte{dataModulOOK, 0x1a, 0x0b, 0x00, 0x10}, [2]byte{0xf4, 0xf4}},
	OOKRb9_6Bw19_2:  {"OOKRb9_6Bw19_2", [5]byte{dataModulOOK, 0x0d, 0x05, 0x00, 0x10}, [2]byte{0xf3, 0xf3}},
	OOKRb19_2Bw38_4: {"OOKRb19_2Bw38_4", [5]byte{dataModulOOK, 0x06, 0x83, 0x00, 0x10}, [2]byte{0xf2, 0xf2}},
	OOKRb32Bw64:     {"OOKRb32Bw64", [5]byte{dataModulOOK, 0x03, 0xe8, 0x00, 0x10}, [2]byte{0xe2, 0xe2}},
}

func (m ModemConfig) String() string {
	if int(m) < len(modemSettings) {
		return modemSettings[m].name
	}
	return fmt.Sprintf("ModemConfig(%d)", byte(m))
}

// ParseModemConfig looks a preset up by name, ignoring case.
func ParseModemConfig(name string) (ModemConfig, error) {
	for i, s := range modemSettings {
		if strings.EqualFold(s.name, name) {
			return ModemConfig(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown modem config %q", ErrConfig, name)
}

// SetModemConfig writes the modulation, bitrate, deviation and bandwidth
// registers of a preset. Packet framing is left to Configure.
func (d *Device) SetModemConfig(m ModemConfig) error {
	if int(m) >= len(modemSettings) {
		return fmt.Errorf("%w: unknown modem config %d", ErrConfig, byte(m))
	}
	s := modemSettings[m]
	if err := d.bus.WriteRegisterBytes(RegDataModul, s.modul[:]...); err != nil {
		return err
	}
	if err := d.bus.WriteRegisterBytes(RegRxBw, s.bw[:]...); err != nil {
		return err
	}
	d.opts.Modem = m
	return nil
}
