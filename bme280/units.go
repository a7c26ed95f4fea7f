package bme280

// mmHgQ0_20 is 0.00750061683 (mmHg per Pa) in Q0.20 format.
const mmHgQ0_20 = 7865

// PaToMmHg converts a Q24.8 pressure in Pa, as returned by
// Compensator.CompensatePressure, to millimeters of mercury.
//
// The result is in thousandths: 746225 represents 746.225 mmHg.
func PaToMmHg(q24_8 uint32) uint32 {
	// Q24.8 * Q0.20 = Q24.28
	p := uint64(q24_8) * mmHgQ0_20
	// Keep the top 13 bits of the fraction. n*122070/1000000 approximates
	// n/8192*1000.
	frac := (uint32(p) << 4) >> 19
	return uint32(p>>28)*1000 + frac*122070/1000000
}
