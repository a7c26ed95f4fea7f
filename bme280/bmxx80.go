package bme280

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	logger "github.com/d2r2/go-logger"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

var lg = logger.NewPackageLogger("bme280", logger.InfoLevel)

// ErrBus is wrapped by every error caused by the underlying I²C or SPI
// transaction failing.
var ErrBus = errors.New("bus failure")

// Oversampling affects how much time is taken to measure each of temperature,
// pressure and humidity.
//
// Using high oversampling and low standby results in highest power
// consumption, but this is still below 1mA so we generally don't care.
type Oversampling uint8

// Possible oversampling values.
//
// The higher the more time and power it takes to take a measurement. Even at
// 16x for all 3 sensors, it is less than 100ms albeit increased power
// consumption may increase the temperature reading.
const (
	Off  Oversampling = 0
	O1x  Oversampling = 1
	O2x  Oversampling = 2
	O4x  Oversampling = 3
	O8x  Oversampling = 4
	O16x Oversampling = 5
)

const oversamplingName = "Off1x2x4x8x16x"

var oversamplingIndex = [...]uint8{0, 3, 5, 7, 9, 11, 14}

func (o Oversampling) String() string {
	if o >= Oversampling(len(oversamplingIndex)-1) {
		return fmt.Sprintf("Oversampling(%d)", o)
	}
	return oversamplingName[oversamplingIndex[o]:oversamplingIndex[o+1]]
}

func (o Oversampling) asValue() int {
	switch o {
	case O1x:
		return 1
	case O2x:
		return 2
	case O4x:
		return 4
	case O8x:
		return 8
	case O16x:
		return 16
	default:
		return 0
	}
}

func (o Oversampling) enabled() bool {
	return o.asValue() != 0
}

// Filter specifies the internal IIR filter to get steadier measurements.
//
// Oversampling will get better measurements than filtering but at a larger
// power consumption cost, which may slightly affect temperature measurement.
type Filter uint8

// Possible filtering values.
//
// The higher the filter, the slower the value converges but the more stable
// the measurement is.
const (
	NoFilter Filter = 0
	F2       Filter = 1
	F4       Filter = 2
	F8       Filter = 3
	F16      Filter = 4
)

// Standby is the inactive duration between two conversions in Normal mode.
type Standby uint8

// Possible standby values.
const (
	S500us Standby = 0
	S62ms  Standby = 1
	S125ms Standby = 2
	S250ms Standby = 3
	S500ms Standby = 4
	S1s    Standby = 5
	S10ms  Standby = 6
	S20ms  Standby = 7
)

var standbyDuration = [...]time.Duration{
	500 * time.Microsecond,
	62500 * time.Microsecond,
	125 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
	10 * time.Millisecond,
	20 * time.Millisecond,
}

// Duration returns the standby time.
func (s Standby) Duration() time.Duration {
	if int(s) >= len(standbyDuration) {
		return 0
	}
	return standbyDuration[s]
}

// chooseStandby returns the longest standby that keeps the device ahead of
// interval.
func chooseStandby(interval, measDelay time.Duration) Standby {
	best := S500us
	for s, dur := range standbyDuration {
		if dur+measDelay <= interval && dur > best.Duration() {
			best = Standby(s)
		}
	}
	return best
}

// Mode is the operating mode.
type Mode byte

const (
	Sleep  Mode = 0 // no operation, all registers accessible, lowest power, selected after startup
	Forced Mode = 1 // perform one measurement, store results and return to sleep mode
	Normal Mode = 3 // perpetual cycling of measurements and inactive periods
)

func (m Mode) String() string {
	switch m {
	case Sleep:
		return "Sleep"
	case Forced, 2:
		return "Forced"
	case Normal:
		return "Normal"
	default:
		return fmt.Sprintf("Mode(%d)", m)
	}
}

// DefaultOpts is the recommended default options.
var DefaultOpts = Opts{
	Temperature: O4x,
	Pressure:    O4x,
	Humidity:    O4x,
}

// Opts defines the options for the device.
//
// Recommended sensing settings as per the datasheet:
//
// → Weather monitoring: manual sampling once per minute, all sensors O1x.
// Power consumption: 0.16µA, filter NoFilter. RMS noise: 3.3Pa / 30cm, 0.07%RH.
//
// → Humidity sensing: manual sampling once per second, pressure Off, humidity
// and temperature O1X, filter NoFilter. Power consumption: 2.9µA, 0.07%RH.
//
// → Indoor navigation: continuous sampling at 40ms with filter F16, pressure
// O16x, temperature O2x, humidity O1x, filter F16. Power consumption 633µA.
// RMS noise: 0.2Pa / 1.7cm.
//
// → Gaming: continuous sampling at 40ms with filter F16, pressure O4x,
// temperature O1x, humidity Off, filter F16. Power consumption 581µA. RMS
// noise: 0.3Pa / 2.5cm.
//
// See the datasheet for more details about the trade offs.
type Opts struct {
	// Temperature must be measured for pressure and humidity to be measured.
	Temperature Oversampling
	Pressure    Oversampling
	Humidity    Oversampling
	// Filter is only used while using SenseContinuous()
	Filter Filter
}

// NewI2C returns an object that communicates over I²C to a BME280
// environmental sensor.
//
// The address must be 0x76 or 0x77. The value used depends on HW
// configuration of the sensor's SDO pin.
//
// It is recommended to call Halt() when done with the device so it stops
// sampling.
func NewI2C(b i2c.Bus, addr uint16, opts *Opts) (*Dev, error) {
	switch addr {
	case 0x76, 0x77:
	default:
		return nil, errors.New("bme280: given address not supported by device")
	}
	d := &Dev{d: &i2c.Dev{Bus: b, Addr: addr}, isSPI: false}
	if err := d.makeDev(opts); err != nil {
		return nil, err
	}
	return d, nil
}

// NewSPI returns an object that communicates over SPI to a BME280
// environmental sensor.
//
// It is recommended to call Halt() when done with the device so it stops
// sampling.
//
// When using SPI, the CS line must be used.
func NewSPI(p spi.Port, opts *Opts) (*Dev, error) {
	// It works both in Mode0 and Mode3.
	c, err := p.Connect(10*physic.MegaHertz, spi.Mode3, 8)
	if err != nil {
		return nil, fmt.Errorf("bme280: %w: %w", ErrBus, err)
	}
	d := &Dev{d: c, isSPI: true}
	if err := d.makeDev(opts); err != nil {
		return nil, err
	}
	return d, nil
}

// Dev is a handle to an initialized BME280 device.
//
// All methods are safe for concurrent use; each holds the device for the
// duration of its bus transactions.
type Dev struct {
	d         conn.Conn
	isSPI     bool
	opts      Opts
	name      string
	measDelay time.Duration
	comp      Compensator

	mu   sync.Mutex
	stop chan struct{}
	wg   sync.WaitGroup
}

func (d *Dev) String() string {
	return fmt.Sprintf("%s{%s}", d.name, d.d)
}

// Measure does a forced conversion and returns the reading in the device's
// fixed point units.
func (d *Dev) Measure() (Reading, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var r Reading
	if d.stop != nil {
		return r, d.wrap(errors.New("already sensing continuously"))
	}
	err := d.sense280(&r)
	return r, err
}

// Sense requests a one time measurement as °C, kPa and % of relative humidity.
//
// The very first measurements may be of poor quality.
func (d *Dev) Sense(e *physic.Env) error {
	r, err := d.Measure()
	if err != nil {
		return err
	}
	r.Env(e)
	return nil
}

// SenseContinuous returns measurements as °C, kPa and % of relative humidity
// on a continuous basis.
//
// The application must call Halt() to stop the sensing when done to stop the
// sensor and close the channel.
//
// It's the responsibility of the caller to retrieve the values from the
// channel as fast as possible, otherwise the interval may not be respected.
func (d *Dev) SenseContinuous(interval time.Duration) (<-chan physic.Env, error) {
	sensing := make(chan physic.Env)
	emit := func(r Reading, stop <-chan struct{}) bool {
		e := physic.Env{}
		r.Env(&e)
		select {
		case sensing <- e:
			return true
		case <-stop:
			return false
		}
	}
	if err := d.startContinuous(interval, emit, func() { close(sensing) }); err != nil {
		return nil, err
	}
	return sensing, nil
}

// MeasureContinuous is SenseContinuous in the device's fixed point units.
func (d *Dev) MeasureContinuous(interval time.Duration) (<-chan Reading, error) {
	sensing := make(chan Reading)
	emit := func(r Reading, stop <-chan struct{}) bool {
		select {
		case sensing <- r:
			return true
		case <-stop:
			return false
		}
	}
	if err := d.startContinuous(interval, emit, func() { close(sensing) }); err != nil {
		return nil, err
	}
	return sensing, nil
}

func (d *Dev) startContinuous(interval time.Duration, emit func(Reading, <-chan struct{}) bool, done func()) error {
	if interval <= 0 {
		return d.wrap(fmt.Errorf("invalid interval %s", interval))
	}
	// Don't send the stop command to the device.
	d.stopContinuous()

	d.mu.Lock()
	defer d.mu.Unlock()
	// Another caller started in between.
	if d.stop != nil {
		return d.wrap(errors.New("already sensing continuously"))
	}

	s := chooseStandby(interval, d.measDelay)
	err := d.writeCommands([]byte{
		// config
		AddrConfig, byte(s)<<5 | byte(d.opts.Filter)<<2,
		// ctrl_meas
		AddrCtrlMeas, d.ctrlMeas(Normal),
	})
	if err != nil {
		return err
	}
	lg.Debugf("%s: normal mode, standby %s, interval %s", d, s.Duration(), interval)

	stop := make(chan struct{})
	d.stop = stop
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer done()
		d.sensingContinuous(interval, emit, stop)
	}()
	return nil
}

// Precision implements physic.SenseEnv.
func (d *Dev) Precision(e *physic.Env) {
	e.Temperature = 10 * physic.MilliKelvin
	e.Pressure = 15625 * physic.MicroPascal / 4
	e.Humidity = 10000 / 1024 * physic.MicroRH
}

// Halt stops the BME280 from acquiring measurements as initiated by
// SenseContinuous().
//
// It is recommended to call this function before terminating the process to
// reduce idle power usage and a goroutine leak.
func (d *Dev) Halt() error {
	if !d.stopContinuous() {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writeCommands([]byte{
		// config
		AddrConfig, byte(NoFilter) << 2,
		// ctrl_meas
		AddrCtrlMeas, d.ctrlMeas(Sleep),
	})
}

// stopContinuous stops the sensing goroutine, if any, and waits for it to
// exit. It must be called without d.mu held since the goroutine takes it.
func (d *Dev) stopContinuous() bool {
	d.mu.Lock()
	stop := d.stop
	d.stop = nil
	d.mu.Unlock()
	if stop == nil {
		return false
	}
	close(stop)
	d.wg.Wait()
	return true
}

// Calibration returns the calibration read from the device.
func (d *Dev) Calibration() (Calibration, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, err := d.comp.Calibration()
	return c, d.wrapIf(err)
}

// WriteRegister writes value to register reg.
func (d *Dev) WriteRegister(reg, value byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writeCommands([]byte{reg, value})
}

// ReadRegister reads the single register reg.
//
// The value is 0 when err is not nil.
func (d *Dev) ReadRegister(reg byte) (byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var v [1]byte
	if err := d.readReg(reg, v[:]); err != nil {
		return 0, err
	}
	return v[0], nil
}

// ReadBurst reads n consecutive registers starting at reg.
func (d *Dev) ReadBurst(reg byte, n int) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readBurst(reg, n)
}

//

func (d *Dev) makeDev(opts *Opts) error {
	if opts == nil {
		opts = &DefaultOpts
	}
	d.opts = *opts
	d.name = "BME280"
	d.measDelay = measurementDelay(d.opts)

	var id [1]byte
	if err := d.readReg(AddrChipID, id[:]); err != nil {
		return err
	}
	if id[0] != chipID {
		return fmt.Errorf("bme280: unexpected chip id %x", id[0])
	}

	if err := d.readCalibration(); err != nil {
		return err
	}

	b := []byte{
		// ctrl_meas; put it to sleep otherwise the config update may be
		// ignored. This is really just in case the device was somehow put
		// into normal but was not Halt'ed.
		AddrCtrlMeas, d.ctrlMeas(Sleep),
		// ctrl_hum
		AddrCtrlHum, byte(d.opts.Humidity),
		// config
		AddrConfig, byte(NoFilter) << 2,
		// ctrl_meas must be re-written last.
		AddrCtrlMeas, d.ctrlMeas(Sleep),
	}
	return d.writeCommands(b)
}

func (d *Dev) ctrlMeas(m Mode) byte {
	return byte(d.opts.Temperature)<<5 | byte(d.opts.Pressure)<<2 | byte(m)
}

// measurementDelay returns the maximum conversion time as per section 9.1 of
// the datasheet.
func measurementDelay(o Opts) time.Duration {
	us := 1250 + 2300*o.Temperature.asValue()
	if o.Pressure.enabled() {
		us += 2300*o.Pressure.asValue() + 575
	}
	if o.Humidity.enabled() {
		us += 2300*o.Humidity.asValue() + 575
	}
	return time.Duration(us) * time.Microsecond
}

func (d *Dev) sensingContinuous(interval time.Duration, emit func(Reading, <-chan struct{}) bool, stop <-chan struct{}) {
	t := time.NewTicker(interval)
	defer t.Stop()

	// The data registers hold the no data pattern until the first
	// conversion completes.
	doSleep(d.measDelay)

	var err error
	for {
		r := Reading{}
		d.mu.Lock()
		err = d.senseNow(&r)
		d.mu.Unlock()
		switch {
		case errors.Is(err, ErrNoData):
			lg.Debugf("%s: no data yet", d)
		case err != nil:
			lg.Errorf("%s: failed to sense: %v", d, err)
			return
		default:
			if !emit(r, stop) {
				return
			}
		}
		select {
		case <-stop:
			return
		case <-t.C:
		}
	}
}

func (d *Dev) readReg(reg uint8, b []byte) error {
	if d.isSPI {
		// MSB is 0 for write and 1 for read.
		read := make([]byte, len(b)+1)
		write := make([]byte, len(read))
		// Rest of the write buffer is ignored.
		write[0] = reg | 0x80
		if err := d.d.Tx(write, read); err != nil {
			return d.busErr(err)
		}
		copy(b, read[1:])
		return nil
	}
	if err := d.d.Tx([]byte{reg}, b); err != nil {
		return d.busErr(err)
	}
	return nil
}

func (d *Dev) readBurst(reg uint8, n int) ([]byte, error) {
	b := make([]byte, n)
	if err := d.readReg(reg, b); err != nil {
		return nil, err
	}
	return b, nil
}

// writeCommands writes a command to the device.
//
// Warning: b may be modified!
func (d *Dev) writeCommands(b []byte) error {
	if d.isSPI {
		// set RW bit 7 to 0.
		for i := 0; i < len(b); i += 2 {
			b[i] &^= 0x80
		}
	}
	if err := d.d.Tx(b, nil); err != nil {
		return d.busErr(err)
	}
	return nil
}

// updateReg clears mask in reg then sets value & mask.
//
// It must be called with d.mu lock held.
func (d *Dev) updateReg(reg, mask, value byte) error {
	var v [1]byte
	if err := d.readReg(reg, v[:]); err != nil {
		return err
	}
	return d.writeCommands([]byte{reg, v[0]&^mask | value&mask})
}

func (d *Dev) busErr(err error) error {
	return d.wrap(fmt.Errorf("%w: %w", ErrBus, err))
}

func (d *Dev) wrap(err error) error {
	return fmt.Errorf("%s: %w", strings.ToLower(d.name), err)
}

func (d *Dev) wrapIf(err error) error {
	if err == nil {
		return nil
	}
	return d.wrap(err)
}

var doSleep = time.Sleep

const (
	maxIdlePolls     = 10
	idlePollInterval = time.Millisecond
)

var _ conn.Resource = &Dev{}
var _ physic.SenseEnv = &Dev{}
