package bme280

// Check reports whether a BME280 answers on the bus.
func (d *Dev) Check() (bool, error) {
	v, err := d.ReadRegister(AddrChipID)
	if err != nil {
		return false, err
	}
	return v == chipID, nil
}

// Version returns the chip id register.
func (d *Dev) Version() (byte, error) {
	return d.ReadRegister(AddrChipID)
}

// Reset does a software reset. The calibration is forgotten and must be read
// again with ReadCalibration once the device is back, about 2ms later.
func (d *Dev) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.writeCommands([]byte{AddrReset, softResetKey}); err != nil {
		return err
	}
	d.comp.Reset()
	return nil
}

// Status returns the measuring and im_update bits of the status register.
func (d *Dev) Status() (byte, error) {
	v, err := d.ReadRegister(AddrStatus)
	return v & statusMask, err
}

// Mode returns the current operating mode.
func (d *Dev) Mode() (Mode, error) {
	v, err := d.ReadRegister(AddrCtrlMeas)
	return Mode(v & modeMask), err
}

// SetMode changes the operating mode.
func (d *Dev) SetMode(m Mode) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.updateReg(AddrCtrlMeas, modeMask, byte(m))
}

// SetFilter changes the IIR filter coefficient.
func (d *Dev) SetFilter(f Filter) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.updateReg(AddrConfig, filterMask, byte(f)<<2); err != nil {
		return err
	}
	d.opts.Filter = f
	return nil
}

// SetStandby changes the inactive duration used in Normal mode.
func (d *Dev) SetStandby(s Standby) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.updateReg(AddrConfig, stbyMask, byte(s)<<5)
}

// SetOversamplingT changes the temperature oversampling.
func (d *Dev) SetOversamplingT(o Oversampling) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.updateReg(AddrCtrlMeas, osrsTMask, byte(o)<<5); err != nil {
		return err
	}
	d.opts.Temperature = o
	d.measDelay = measurementDelay(d.opts)
	return nil
}

// SetOversamplingP changes the pressure oversampling.
func (d *Dev) SetOversamplingP(o Oversampling) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.updateReg(AddrCtrlMeas, osrsPMask, byte(o)<<2); err != nil {
		return err
	}
	d.opts.Pressure = o
	d.measDelay = measurementDelay(d.opts)
	return nil
}

// SetOversamplingH changes the humidity oversampling.
//
// ctrl_hum only takes effect after a write to ctrl_meas, so ctrl_meas is
// written back unchanged.
func (d *Dev) SetOversamplingH(o Oversampling) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.updateReg(AddrCtrlHum, osrsHMask, byte(o)); err != nil {
		return err
	}
	var v [1]byte
	if err := d.readReg(AddrCtrlMeas, v[:]); err != nil {
		return err
	}
	if err := d.writeCommands([]byte{AddrCtrlMeas, v[0]}); err != nil {
		return err
	}
	d.opts.Humidity = o
	d.measDelay = measurementDelay(d.opts)
	return nil
}
