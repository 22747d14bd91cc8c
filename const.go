package rfm69

type Register byte

const (
	RegFifo          Register = 0x00
	RegOpMode        Register = 0x01
	RegDataModul     Register = 0x02
	RegBitrateMsb    Register = 0x03
	RegBitrateLsb    Register = 0x04
	RegFdevMsb       Register = 0x05
	RegFdevLsb       Register = 0x06
	RegFrfMsb        Register = 0x07
	RegFrfMid        Register = 0x08
	RegFrfLsb        Register = 0x09
	RegOsc1          Register = 0x0a
	RegAfcCtrl       Register = 0x0b
	RegListen1       Register = 0x0d
	RegListen2       Register = 0x0e
	RegListen3       Register = 0x0f
	RegVersion       Register = 0x10
	RegPaLevel       Register = 0x11
	RegPaRamp        Register = 0x12
	RegOcp           Register = 0x13
	RegLna           Register = 0x18
	RegRxBw          Register = 0x19
	RegAfcBw         Register = 0x1a
	RegOokPeak       Register = 0x1b
	RegOokAvg        Register = 0x1c
	RegOokFix        Register = 0x1d
	RegAfcFei        Register = 0x1e
	RegAfcMsb        Register = 0x1f
	RegAfcLsb        Register = 0x20
	RegFeiMsb        Register = 0x21
	RegFeiLsb        Register = 0x22
	RegRssiConfig    Register = 0x23
	RegRssiValue     Register = 0x24
	RegDioMapping1   Register = 0x25
	RegDioMapping2   Register = 0x26
	RegIrqFlags1     Register = 0x27
	RegIrqFlags2     Register = 0x28
	RegRssiThresh    Register = 0x29
	RegRxTimeout1    Register = 0x2a
	RegRxTimeout2    Register = 0x2b
	RegPreambleMsb   Register = 0x2c
	RegPreambleLsb   Register = 0x2d
	RegSyncConfig    Register = 0x2e
	RegSyncValue1    Register = 0x2f
	RegPacketConfig1 Register = 0x37
	RegPayloadLength Register = 0x38
	RegNodeAdrs      Register = 0x39
	RegBroadcastAdrs Register = 0x3a
	RegAutoModes     Register = 0x3b
	RegFifoThresh    Register = 0x3c
	RegPacketConfig2 Register = 0x3d
	RegAesKey1       Register = 0x3e
	RegTemp1         Register = 0x4e
	RegTemp2         Register = 0x4f
	RegTestLna       Register = 0x58
	RegTestPa1       Register = 0x5a
	RegTestPa2       Register = 0x5c
	RegTestDagc      Register = 0x6f
	RegTestAfc       Register = 0x71
)

const (
	readMask  byte = 0x7f
	writeMask byte = 0x80
)

// writable reports whether reg may be written. Read-only status registers and
// the reserved holes of the register file are rejected.
func writable(reg Register) bool {
	switch reg {
	case RegVersion, RegAfcMsb, RegAfcLsb, RegFeiMsb, RegFeiLsb, RegRssiValue, RegTemp2:
		return false
	case RegTestLna, RegTestPa1, RegTestPa2, RegTestDagc, RegTestAfc:
		return true
	}
	return reg <= RegTemp2
}

const (
	opModeMask byte = 0x1c

	IrqModeReady     byte = 0x80
	IrqRxReady       byte = 0x40
	IrqTxReady       byte = 0x20
	IrqPllLock       byte = 0x10
	IrqRssi          byte = 0x08
	IrqTimeout       byte = 0x04
	IrqSyncAddrMatch byte = 0x01

	IrqFifoFull     byte = 0x80
	IrqFifoNotEmpty byte = 0x40
	IrqFifoLevel    byte = 0x20
	IrqFifoOverrun  byte = 0x10
	IrqPacketSent   byte = 0x08
	IrqPayloadReady byte = 0x04
	IrqCrcOk        byte = 0x02

	dio0PacketSent   byte = 0x00
	dio0PayloadReady byte = 0x40

	temp1MeasStart   byte = 0x08
	temp1MeasRunning byte = 0x04

	fifoThreshTxStartNotEmpty byte = 0x80
	packetConfig2AutoRestart  byte = 0x02
	packetConfig2AesOn        byte = 0x01
)

const (
	ExpectedVersion byte   = 0x24
	FifoSize        int    = 66
	aesMaxFrame     int    = 64
	aesKeyLength    int    = 16
	maxSyncWords    int    = 8
	fxoscHz         uint64 = 32000000
	minFrequencyHz  uint64 = 290e6
	maxFrequencyHz  uint64 = 1020e6
	temperatureBase int    = 166
)

const (
	paLevelPa0On         byte = 0x80
	paLevelPa1On         byte = 0x40
	paLevelPa2On         byte = 0x20
	paLevelOutputPower   byte = 0x1f
	testPa1Normal        byte = 0x55
	testPa2Normal        byte = 0x70
	testPa1Boost         byte = 0x5d
	testPa2Boost         byte = 0x7c
	lnaDefault           byte = 0x88
	fifoThreshDefault    byte = fifoThreshTxStartNotEmpty | 0x0f
	dagcImprovedLowBeta1 byte = 0x30
)
