package bme280

import "fmt"

// Calibration holds the trimming parameters burned into each device at the
// factory. They are read once after power-up or reset.
type Calibration struct {
	T1     uint16
	T2, T3 int16

	P1                             uint16
	P2, P3, P4, P5, P6, P7, P8, P9 int16

	H1     uint8
	H2     int16
	H3     uint8
	H4, H5 int16
	H6     int8
}

// newCalibration parses calibration data from the three register blocks.
func newCalibration(tp []byte, h1 byte, h []byte) (c Calibration) {
	// tp covers 0x88 through 0x9F
	// h1 is 0xA1
	// h covers 0xE1 through 0xE7

	getInt16 := func(lsb, msb byte) int16 {
		return int16(lsb) | (int16(msb) << 8)
	}

	getUInt16 := func(lsb, msb byte) uint16 {
		return uint16(lsb) | (uint16(msb) << 8)
	}

	c.T1 = getUInt16(tp[0], tp[1])
	c.T2 = getInt16(tp[2], tp[3])
	c.T3 = getInt16(tp[4], tp[5])

	c.P1 = getUInt16(tp[6], tp[7])
	c.P2 = getInt16(tp[8], tp[9])
	c.P3 = getInt16(tp[10], tp[11])
	c.P4 = getInt16(tp[12], tp[13])
	c.P5 = getInt16(tp[14], tp[15])
	c.P6 = getInt16(tp[16], tp[17])
	c.P7 = getInt16(tp[18], tp[19])
	c.P8 = getInt16(tp[20], tp[21])
	c.P9 = getInt16(tp[22], tp[23])

	c.H1 = h1
	c.H2 = getInt16(h[0], h[1])
	c.H3 = h[2]
	// H4 and H5 are 12 bits each and share the nibbles of 0xE5.
	c.H4 = int16(int8(h[3]))<<4 | int16(h[4]&0x0F)
	c.H5 = int16(int8(h[5]))<<4 | int16(h[4]>>4)
	c.H6 = int8(h[6])

	return c
}

func (c *Calibration) String() string {
	return fmt.Sprintf("T1:%d T2:%d T3:%d P1:%d P2:%d P3:%d P4:%d P5:%d P6:%d P7:%d P8:%d P9:%d H1:%d H2:%d H3:%d H4:%d H5:%d H6:%d",
		c.T1, c.T2, c.T3,
		c.P1, c.P2, c.P3, c.P4, c.P5, c.P6, c.P7, c.P8, c.P9,
		c.H1, c.H2, c.H3, c.H4, c.H5, c.H6)
}

// compensateTemp returns temperature in °C, resolution is 0.01 °C.
// Output value of 5123 equals 51.23 C. The second value is the fine
// temperature needed by compensatePressure and compensateHumidity.
//
// raw has 20 bits of resolution. The 32 bit evaluation order matches the
// datasheet's reference code.
func (c *Calibration) compensateTemp(raw int32) (temp, tFine int32) {
	var1 := (((raw >> 3) - (int32(c.T1) << 1)) * int32(c.T2)) >> 11
	x := (raw >> 4) - int32(c.T1)
	var2 := (((x * x) >> 12) * int32(c.T3)) >> 14
	tFine = var1 + var2
	return (tFine*5 + 128) >> 8, tFine
}

// compensatePressure returns pressure in Pa in Q24.8 format (24 integer
// bits and 8 fractional bits). Output value of 24674867 represents
// 24674867/256 = 96386.2 Pa = 963.862 hPa.
//
// raw has 20 bits of resolution. Returns 0 when the calibration would
// cause a division by zero.
func (c *Calibration) compensatePressure(raw, tFine int32) uint32 {
	var1 := int64(tFine) - 128000
	var2 := var1 * var1 * int64(c.P6)
	var2 += (var1 * int64(c.P5)) << 17
	var2 += int64(c.P4) << 35
	var1 = ((var1 * var1 * int64(c.P3)) >> 8) + ((var1 * int64(c.P2)) << 12)
	var1 = ((int64(1) << 47) + var1) * int64(c.P1) >> 33
	if var1 == 0 {
		return 0
	}
	p := 1048576 - int64(raw)
	p = (((p << 31) - var2) * 3125) / var1
	var1 = (int64(c.P9) * (p >> 13) * (p >> 13)) >> 25
	var2 = (int64(c.P8) * p) >> 19
	p = ((p + var1 + var2) >> 8) + (int64(c.P7) << 4)
	return uint32(p)
}

// compensateHumidity returns humidity in %RH in Q22.10 format (22 integer
// and 10 fractional bits). Output value of 47445 represents 47445/1024 =
// 46.333%
//
// raw has 16 bits of resolution.
func (c *Calibration) compensateHumidity(raw, tFine int32) uint32 {
	x := tFine - 76800
	a := ((raw << 14) - (int32(c.H4) << 20) - (int32(c.H5) * x) + 16384) >> 15
	b := (((((x*int32(c.H6))>>10)*(((x*int32(c.H3))>>11)+32768))>>10)+2097152)*int32(c.H2) + 8192
	x = a * (b >> 14)
	x -= ((((x >> 15) * (x >> 15)) >> 7) * int32(c.H1)) >> 4
	if x < 0 {
		x = 0
	}
	if x > 419430400 {
		x = 419430400
	}
	return uint32(x >> 12)
}
