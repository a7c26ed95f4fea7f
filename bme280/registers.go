package bme280

// Register map, see section 5.3 of the BME280 datasheet.
const (
	AddrChipID   byte = 0xD0 // read-only, should contain 0x60
	AddrReset    byte = 0xE0
	AddrCtrlHum  byte = 0xF2
	AddrStatus   byte = 0xF3
	AddrCtrlMeas byte = 0xF4
	AddrConfig   byte = 0xF5

	// calibration ranges

	AddrCalib00 byte = 0x88 // calib00..calib23: T1..T3, P1..P9
	AddrCalib25 byte = 0xA1 // H1
	AddrCalib26 byte = 0xE1 // calib26..calib32: H2..H6

	// data registers, burst readable from AddrPressMSB through AddrHumLSB

	AddrPressMSB  byte = 0xF7
	AddrPressLSB  byte = 0xF8
	AddrPressXLSB byte = 0xF9
	AddrTempMSB   byte = 0xFA
	AddrTempLSB   byte = 0xFB
	AddrTempXLSB  byte = 0xFC
	AddrHumMSB    byte = 0xFD
	AddrHumLSB    byte = 0xFE
)

const (
	chipID       byte = 0x60
	softResetKey byte = 0xB6

	calibTPLen = 24
	calibHLen  = 7
	dataLen    = 8
)

// Bit masks of the control registers.
const (
	statusMask      byte = 0x09
	statusMeasuring byte = 0x08
	statusIMUpdate  byte = 0x01

	modeMask   byte = 0x03 // ctrl_meas[1:0]
	osrsPMask  byte = 0x1C // ctrl_meas[4:2]
	osrsTMask  byte = 0xE0 // ctrl_meas[7:5]
	osrsHMask  byte = 0x07 // ctrl_hum[2:0]
	filterMask byte = 0x1C // config[4:2]
	stbyMask   byte = 0xE0 // config[7:5]
)

// Values the device reports when a measurement was skipped or is not ready
// yet.
const (
	noDataTP int32 = 0x80000
	noDataH  int32 = 0x8000
)
