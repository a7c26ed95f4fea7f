// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package bme280

import (
	"errors"

	"periph.io/x/conn/v3/physic"
)

var (
	// ErrUncalibrated is returned when compensating before the calibration
	// was read from the device.
	ErrUncalibrated = errors.New("calibration not read")
	// ErrNoFineTemperature is returned when pressure or humidity is
	// compensated before temperature in the same measurement cycle.
	ErrNoFineTemperature = errors.New("temperature must be compensated first")
	// ErrNoData is returned when the device had no conversion result for a
	// quantity that was needed.
	ErrNoData = errors.New("no data")
)

// Raw is one uncompensated ADC count.
//
// Ok is false when the device reported that the measurement was skipped or
// not ready yet. Count is then 0.
type Raw struct {
	Count int32
	Ok    bool
}

func rawTP(b []byte) Raw {
	// These values are 20 bits as per doc.
	v := int32(b[0])<<12 | int32(b[1])<<4 | int32(b[2])>>4
	if v == noDataTP {
		return Raw{}
	}
	return Raw{Count: v, Ok: true}
}

func rawH(b []byte) Raw {
	v := int32(b[0])<<8 | int32(b[1])
	if v == noDataH {
		return Raw{}
	}
	return Raw{Count: v, Ok: true}
}

// RawSample is the triple of ADC counts from one measurement cycle.
type RawSample struct {
	Temperature Raw
	Pressure    Raw
	Humidity    Raw
}

// Reading is a compensated measurement in the device's fixed point units.
type Reading struct {
	// Temperature in 0.01 °C. 5123 is 51.23 °C.
	Temperature int32
	// Pressure in Pa, Q24.8. Only valid when HasPressure.
	Pressure    uint32
	HasPressure bool
	// Humidity in %RH, Q22.10. Only valid when HasHumidity.
	Humidity    uint32
	HasHumidity bool
}

// MmHg returns the pressure in thousandths of mmHg.
func (r *Reading) MmHg() uint32 {
	return PaToMmHg(r.Pressure)
}

// Env converts r to periph units.
func (r *Reading) Env(e *physic.Env) {
	// Convert CentiCelsius to Kelvin.
	e.Temperature = physic.Temperature(r.Temperature)*10*physic.MilliCelsius + physic.ZeroCelsius
	if r.HasPressure {
		// It has 8 bits of fractional Pascal.
		e.Pressure = physic.Pressure(r.Pressure) * 15625 * physic.MicroPascal / 4
	}
	if r.HasHumidity {
		// Convert base 1024 to base 1000.
		e.Humidity = physic.RelativeHumidity(r.Humidity) * 10000 / 1024 * physic.MicroRH
	}
}

// Compensator converts raw ADC counts to calibrated values for one device.
//
// Pressure and humidity depend on the fine temperature computed by
// CompensateTemperature, so temperature must be compensated first in each
// measurement cycle. A Compensator is not safe for concurrent use.
type Compensator struct {
	cal        Calibration
	calibrated bool

	tFine    int32
	hasTFine bool
}

// NewCompensator returns a Compensator using c.
func NewCompensator(c Calibration) *Compensator {
	return &Compensator{cal: c, calibrated: true}
}

// Calibration returns the loaded calibration.
func (c *Compensator) Calibration() (Calibration, error) {
	if !c.calibrated {
		return Calibration{}, ErrUncalibrated
	}
	return c.cal, nil
}

// Load replaces the calibration and forgets the fine temperature.
func (c *Compensator) Load(cal Calibration) {
	c.cal = cal
	c.calibrated = true
	c.tFine = 0
	c.hasTFine = false
}

// Reset returns c to the uncalibrated state.
func (c *Compensator) Reset() {
	*c = Compensator{}
}

// CompensateTemperature returns the temperature in 0.01 °C and stores the
// fine temperature for the rest of the cycle.
func (c *Compensator) CompensateTemperature(raw int32) (int32, error) {
	if !c.calibrated {
		return 0, ErrUncalibrated
	}
	t, tFine := c.cal.compensateTemp(raw)
	c.tFine = tFine
	c.hasTFine = true
	return t, nil
}

// CompensatePressure returns the pressure in Pa in Q24.8 format.
//
// Returns 0 if the calibration would cause a division by zero.
func (c *Compensator) CompensatePressure(raw int32) (uint32, error) {
	if err := c.ready(); err != nil {
		return 0, err
	}
	return c.cal.compensatePressure(raw, c.tFine), nil
}

// CompensateHumidity returns the relative humidity in %RH in Q22.10 format,
// within [0, 102400].
func (c *Compensator) CompensateHumidity(raw int32) (uint32, error) {
	if err := c.ready(); err != nil {
		return 0, err
	}
	return c.cal.compensateHumidity(raw, c.tFine), nil
}

// FineTemperature returns the fine temperature of the current cycle.
func (c *Compensator) FineTemperature() (int32, error) {
	if err := c.ready(); err != nil {
		return 0, err
	}
	return c.tFine, nil
}

// Compensate runs one full cycle on s. Temperature is required. Pressure
// and humidity are skipped when absent from s.
//
// The fine temperature does not outlive the call.
func (c *Compensator) Compensate(s RawSample) (Reading, error) {
	defer func() { c.hasTFine = false }()
	var r Reading
	if !c.calibrated {
		return r, ErrUncalibrated
	}
	if !s.Temperature.Ok {
		return r, ErrNoData
	}
	var err error
	if r.Temperature, err = c.CompensateTemperature(s.Temperature.Count); err != nil {
		return r, err
	}
	if s.Pressure.Ok {
		if r.Pressure, err = c.CompensatePressure(s.Pressure.Count); err != nil {
			return r, err
		}
		r.HasPressure = true
	}
	if s.Humidity.Ok {
		if r.Humidity, err = c.CompensateHumidity(s.Humidity.Count); err != nil {
			return r, err
		}
		r.HasHumidity = true
	}
	return r, nil
}

func (c *Compensator) ready() error {
	if !c.calibrated {
		return ErrUncalibrated
	}
	if !c.hasTFine {
		return ErrNoFineTemperature
	}
	return nil
}

// ReadCalibration reads the calibration parameters from the device.
//
// It must be called once after each power-up or Reset before compensating.
func (d *Dev) ReadCalibration() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readCalibration()
}

func (d *Dev) readCalibration() error {
	d.comp.Reset()
	tp, err := d.readBurst(AddrCalib00, calibTPLen)
	if err != nil {
		return err
	}
	var h1 [1]byte
	if err := d.readReg(AddrCalib25, h1[:]); err != nil {
		return err
	}
	h, err := d.readBurst(AddrCalib26, calibHLen)
	if err != nil {
		return err
	}
	cal := newCalibration(tp, h1[0], h)
	lg.Debugf("%s: calibration %s", d, &cal)
	d.comp.Load(cal)
	return nil
}

// ReadRaw reads pressure, temperature and humidity in a single burst so the
// three values come from the same conversion.
func (d *Dev) ReadRaw() (RawSample, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readRaw()
}

func (d *Dev) readRaw() (RawSample, error) {
	b, err := d.readBurst(AddrPressMSB, dataLen)
	if err != nil {
		return RawSample{}, err
	}
	return RawSample{
		Pressure:    rawTP(b[0:3]),
		Temperature: rawTP(b[3:6]),
		Humidity:    rawH(b[6:8]),
	}, nil
}

// ReadRawPressure reads only the pressure ADC registers.
func (d *Dev) ReadRawPressure() (Raw, error) {
	return d.readRawOne(AddrPressMSB, 3, rawTP)
}

// ReadRawTemperature reads only the temperature ADC registers.
func (d *Dev) ReadRawTemperature() (Raw, error) {
	return d.readRawOne(AddrTempMSB, 3, rawTP)
}

// ReadRawHumidity reads only the humidity ADC registers.
func (d *Dev) ReadRawHumidity() (Raw, error) {
	return d.readRawOne(AddrHumMSB, 2, rawH)
}

func (d *Dev) readRawOne(reg byte, n int, parse func([]byte) Raw) (Raw, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, err := d.readBurst(reg, n)
	if err != nil {
		return Raw{}, err
	}
	return parse(b), nil
}

// CompensateTemperature compensates raw with the device's calibration.
// See Compensator.CompensateTemperature.
func (d *Dev) CompensateTemperature(raw int32) (int32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, err := d.comp.CompensateTemperature(raw)
	return t, d.wrapIf(err)
}

// CompensatePressure compensates raw with the device's calibration and the
// fine temperature of the last CompensateTemperature call.
func (d *Dev) CompensatePressure(raw int32) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, err := d.comp.CompensatePressure(raw)
	return p, d.wrapIf(err)
}

// CompensateHumidity compensates raw with the device's calibration and the
// fine temperature of the last CompensateTemperature call.
func (d *Dev) CompensateHumidity(raw int32) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h, err := d.comp.CompensateHumidity(raw)
	return h, d.wrapIf(err)
}

// sense280 triggers a forced conversion and reads the result.
//
// It must be called with d.mu lock held.
func (d *Dev) sense280(r *Reading) error {
	if err := d.writeCommands([]byte{AddrCtrlMeas, d.ctrlMeas(Forced)}); err != nil {
		return err
	}
	if err := d.waitIdle(); err != nil {
		return err
	}
	return d.senseNow(r)
}

// senseNow reads and compensates the latest conversion.
//
// It must be called with d.mu lock held.
func (d *Dev) senseNow(r *Reading) error {
	s, err := d.readRaw()
	if err != nil {
		return err
	}
	if !d.opts.Pressure.enabled() {
		s.Pressure = Raw{}
	}
	if !d.opts.Humidity.enabled() {
		s.Humidity = Raw{}
	}
	reading, err := d.comp.Compensate(s)
	if err != nil {
		return d.wrap(err)
	}
	*r = reading
	return nil
}

// waitIdle sleeps for the expected conversion time, then polls the status
// register until the measuring bit clears.
func (d *Dev) waitIdle() error {
	doSleep(d.measDelay)
	for i := 0; i < maxIdlePolls; i++ {
		idle, err := d.isIdle()
		if err != nil {
			return err
		}
		if idle {
			return nil
		}
		doSleep(idlePollInterval)
	}
	return d.wrap(errors.New("timed out waiting for measurement"))
}

func (d *Dev) isIdle() (bool, error) {
	// status
	v := [1]byte{}
	if err := d.readReg(AddrStatus, v[:]); err != nil {
		return false, err
	}
	// Make sure bit 3 is cleared. Bit 0 is only important at device boot up.
	return v[0]&statusMeasuring == 0, nil
}
