// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package bme280

import (
	"errors"
	"sync"
	"testing"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/i2c/i2ctest"
	"periph.io/x/conn/v3/physic"
)

// Raw burst for 304428, 526700, 31350.
var rawData = []byte{0x4a, 0x52, 0xc0, 0x80, 0x96, 0xc0, 0x7a, 0x76}

// initOps is what NewI2C does with DefaultOpts.
func initOps() []i2ctest.IO {
	return append([]i2ctest.IO{
		// Chip ID detection.
		{Addr: 0x76, W: []byte{0xd0}, R: []byte{0x60}},
	}, append(calibrationOps(),
		// Configuration.
		i2ctest.IO{Addr: 0x76, W: []byte{0xf4, 0x6c, 0xf2, 0x03, 0xf5, 0x00, 0xf4, 0x6c}},
	)...)
}

func calibrationOps() []i2ctest.IO {
	return []i2ctest.IO{
		{Addr: 0x76, W: []byte{0x88}, R: calTP},
		{Addr: 0x76, W: []byte{0xa1}, R: []byte{calH1}},
		{Addr: 0x76, W: []byte{0xe1}, R: calH},
	}
}

func newDev(t *testing.T, ops ...i2ctest.IO) (*Dev, *i2ctest.Playback) {
	bus := &i2ctest.Playback{Ops: append(initOps(), ops...), DontPanic: true}
	d, err := NewI2C(bus, 0x76, nil)
	if err != nil {
		t.Fatal(err)
	}
	return d, bus
}

func noSleep(t *testing.T) {
	doSleep = func(time.Duration) {}
	t.Cleanup(func() { doSleep = time.Sleep })
}

func TestNewI2C_badAddr(t *testing.T) {
	bus := &i2ctest.Playback{DontPanic: true}
	if _, err := NewI2C(bus, 0x40, nil); err == nil {
		t.Fatal("bad addr")
	}
}

func TestNewI2C_badChipID(t *testing.T) {
	bus := &i2ctest.Playback{
		Ops:       []i2ctest.IO{{Addr: 0x76, W: []byte{0xd0}, R: []byte{0x58}}},
		DontPanic: true,
	}
	if _, err := NewI2C(bus, 0x76, nil); err == nil {
		t.Fatal("bad chip id")
	}
}

func TestNewI2C_busFailure(t *testing.T) {
	// The calibration read has nothing to play back.
	bus := &i2ctest.Playback{
		Ops:       []i2ctest.IO{{Addr: 0x76, W: []byte{0xd0}, R: []byte{0x60}}},
		DontPanic: true,
	}
	_, err := NewI2C(bus, 0x76, nil)
	if !errors.Is(err, ErrBus) {
		t.Fatalf("NewI2C() = %v", err)
	}
}

func TestDev_Calibration(t *testing.T) {
	d, bus := newDev(t)
	c, err := d.Calibration()
	if err != nil {
		t.Fatal(err)
	}
	if c != devCal {
		t.Fatalf("Calibration() = %+v", c)
	}
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestDev_Measure(t *testing.T) {
	noSleep(t)
	d, bus := newDev(t,
		// Forced mode.
		i2ctest.IO{Addr: 0x76, W: []byte{0xf4, 0x6d}},
		// Still measuring, then done.
		i2ctest.IO{Addr: 0x76, W: []byte{0xf3}, R: []byte{0x08}},
		i2ctest.IO{Addr: 0x76, W: []byte{0xf3}, R: []byte{0x00}},
		i2ctest.IO{Addr: 0x76, W: []byte{0xf7}, R: rawData},
	)
	r, err := d.Measure()
	if err != nil {
		t.Fatal(err)
	}
	want := Reading{Temperature: 2397, Pressure: 24781563, HasPressure: true, Humidity: 21538, HasHumidity: true}
	if r != want {
		t.Fatalf("Measure() = %+v != %+v", r, want)
	}
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestDev_Sense(t *testing.T) {
	noSleep(t)
	d, bus := newDev(t,
		i2ctest.IO{Addr: 0x76, W: []byte{0xf4, 0x6d}},
		i2ctest.IO{Addr: 0x76, W: []byte{0xf3}, R: []byte{0x00}},
		i2ctest.IO{Addr: 0x76, W: []byte{0xf7}, R: rawData},
	)
	e := physic.Env{}
	if err := d.Sense(&e); err != nil {
		t.Fatal(err)
	}
	if want := physic.ZeroCelsius + 23970*physic.MilliKelvin; e.Temperature != want {
		t.Errorf("temperature %s != %s", e.Temperature, want)
	}
	if want := physic.Pressure(96802980468750); e.Pressure != want {
		t.Errorf("pressure %s != %s", e.Pressure, want)
	}
	if want := 210332 * physic.MicroRH; e.Humidity != want {
		t.Errorf("humidity %s != %s", e.Humidity, want)
	}
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestDev_Measure_noData(t *testing.T) {
	noSleep(t)
	d, bus := newDev(t,
		i2ctest.IO{Addr: 0x76, W: []byte{0xf4, 0x6d}},
		i2ctest.IO{Addr: 0x76, W: []byte{0xf3}, R: []byte{0x00}},
		// Humidity skipped.
		i2ctest.IO{Addr: 0x76, W: []byte{0xf7}, R: []byte{0x4a, 0x52, 0xc0, 0x80, 0x96, 0xc0, 0x80, 0x00}},
		i2ctest.IO{Addr: 0x76, W: []byte{0xf4, 0x6d}},
		i2ctest.IO{Addr: 0x76, W: []byte{0xf3}, R: []byte{0x00}},
		// Nothing converted.
		i2ctest.IO{Addr: 0x76, W: []byte{0xf7}, R: []byte{0x80, 0x00, 0x00, 0x80, 0x00, 0x00, 0x80, 0x00}},
	)
	r, err := d.Measure()
	if err != nil {
		t.Fatal(err)
	}
	if r.HasHumidity || !r.HasPressure || r.Temperature != 2397 {
		t.Fatalf("Measure() = %+v", r)
	}
	if _, err := d.Measure(); !errors.Is(err, ErrNoData) {
		t.Fatalf("Measure() = %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestDev_Measure_timeout(t *testing.T) {
	noSleep(t)
	ops := []i2ctest.IO{{Addr: 0x76, W: []byte{0xf4, 0x6d}}}
	for i := 0; i < maxIdlePolls; i++ {
		ops = append(ops, i2ctest.IO{Addr: 0x76, W: []byte{0xf3}, R: []byte{0x08}})
	}
	d, bus := newDev(t, ops...)
	if _, err := d.Measure(); err == nil {
		t.Fatal("expected timeout")
	}
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestDev_ReadRaw(t *testing.T) {
	d, bus := newDev(t,
		i2ctest.IO{Addr: 0x76, W: []byte{0xf7}, R: rawData},
		i2ctest.IO{Addr: 0x76, W: []byte{0xf7}, R: []byte{0x4a, 0x52, 0xc0}},
		i2ctest.IO{Addr: 0x76, W: []byte{0xfa}, R: []byte{0x80, 0x00, 0x00}},
		i2ctest.IO{Addr: 0x76, W: []byte{0xfd}, R: []byte{0x80, 0x00}},
		i2ctest.IO{Addr: 0x76, W: []byte{0xfd}, R: []byte{0x00, 0x00}},
	)
	s, err := d.ReadRaw()
	if err != nil {
		t.Fatal(err)
	}
	want := RawSample{Raw{526700, true}, Raw{304428, true}, Raw{31350, true}}
	if s != want {
		t.Fatalf("ReadRaw() = %+v != %+v", s, want)
	}
	if p, err := d.ReadRawPressure(); err != nil || p != (Raw{304428, true}) {
		t.Fatalf("ReadRawPressure() = %+v, %v", p, err)
	}
	if v, err := d.ReadRawTemperature(); err != nil || v.Ok {
		t.Fatalf("ReadRawTemperature() = %+v, %v", v, err)
	}
	if v, err := d.ReadRawHumidity(); err != nil || v.Ok {
		t.Fatalf("ReadRawHumidity() = %+v, %v", v, err)
	}
	// A real zero is not the sentinel.
	if v, err := d.ReadRawHumidity(); err != nil || v != (Raw{0, true}) {
		t.Fatalf("ReadRawHumidity() = %+v, %v", v, err)
	}
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestDev_ReadRaw_busFailure(t *testing.T) {
	d, _ := newDev(t)
	s, err := d.ReadRaw()
	if !errors.Is(err, ErrBus) {
		t.Fatalf("ReadRaw() = %v", err)
	}
	if s != (RawSample{}) {
		t.Fatalf("ReadRaw() = %+v", s)
	}
	if v, err := d.ReadRegister(AddrChipID); !errors.Is(err, ErrBus) || v != 0 {
		t.Fatalf("ReadRegister() = %d, %v", v, err)
	}
}

func TestDev_Compensate(t *testing.T) {
	d, _ := newDev(t)
	if _, err := d.CompensateHumidity(31350); !errors.Is(err, ErrNoFineTemperature) {
		t.Fatalf("CompensateHumidity() = %v", err)
	}
	if v, err := d.CompensateTemperature(526700); err != nil || v != 2397 {
		t.Fatalf("CompensateTemperature() = %d, %v", v, err)
	}
	if v, err := d.CompensatePressure(304428); err != nil || v != 24781563 {
		t.Fatalf("CompensatePressure() = %d, %v", v, err)
	}
	if v, err := d.CompensateHumidity(31350); err != nil || v != 21538 {
		t.Fatalf("CompensateHumidity() = %d, %v", v, err)
	}
}

func TestDev_Reset(t *testing.T) {
	d, bus := newDev(t, append([]i2ctest.IO{
		{Addr: 0x76, W: []byte{0xe0, 0xb6}},
	}, calibrationOps()...)...)
	if err := d.Reset(); err != nil {
		t.Fatal(err)
	}
	if _, err := d.CompensateTemperature(526700); !errors.Is(err, ErrUncalibrated) {
		t.Fatalf("CompensateTemperature() = %v", err)
	}
	if err := d.ReadCalibration(); err != nil {
		t.Fatal(err)
	}
	if v, err := d.CompensateTemperature(526700); err != nil || v != 2397 {
		t.Fatalf("CompensateTemperature() = %d, %v", v, err)
	}
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestDev_ReadCalibration_busFailure(t *testing.T) {
	d, _ := newDev(t,
		i2ctest.IO{Addr: 0x76, W: []byte{0x88}, R: calTP},
	)
	if err := d.ReadCalibration(); !errors.Is(err, ErrBus) {
		t.Fatalf("ReadCalibration() = %v", err)
	}
	if _, err := d.CompensateTemperature(526700); !errors.Is(err, ErrUncalibrated) {
		t.Fatalf("CompensateTemperature() = %v", err)
	}
}

func TestDev_control(t *testing.T) {
	d, bus := newDev(t,
		// Check
		i2ctest.IO{Addr: 0x76, W: []byte{0xd0}, R: []byte{0x60}},
		// Status
		i2ctest.IO{Addr: 0x76, W: []byte{0xf3}, R: []byte{0xff}},
		// SetMode
		i2ctest.IO{Addr: 0x76, W: []byte{0xf4}, R: []byte{0x6c}},
		i2ctest.IO{Addr: 0x76, W: []byte{0xf4, 0x6f}},
		// Mode
		i2ctest.IO{Addr: 0x76, W: []byte{0xf4}, R: []byte{0x6f}},
		// SetFilter
		i2ctest.IO{Addr: 0x76, W: []byte{0xf5}, R: []byte{0xe0}},
		i2ctest.IO{Addr: 0x76, W: []byte{0xf5, 0xf0}},
		// SetStandby
		i2ctest.IO{Addr: 0x76, W: []byte{0xf5}, R: []byte{0xf0}},
		i2ctest.IO{Addr: 0x76, W: []byte{0xf5, 0x70}},
		// SetOversamplingT
		i2ctest.IO{Addr: 0x76, W: []byte{0xf4}, R: []byte{0x6f}},
		i2ctest.IO{Addr: 0x76, W: []byte{0xf4, 0x2f}},
		// SetOversamplingP
		i2ctest.IO{Addr: 0x76, W: []byte{0xf4}, R: []byte{0x2f}},
		i2ctest.IO{Addr: 0x76, W: []byte{0xf4, 0x23}},
		// SetOversamplingH
		i2ctest.IO{Addr: 0x76, W: []byte{0xf2}, R: []byte{0x03}},
		i2ctest.IO{Addr: 0x76, W: []byte{0xf2, 0x05}},
		i2ctest.IO{Addr: 0x76, W: []byte{0xf4}, R: []byte{0x23}},
		i2ctest.IO{Addr: 0x76, W: []byte{0xf4, 0x23}},
	)
	if ok, err := d.Check(); err != nil || !ok {
		t.Fatalf("Check() = %t, %v", ok, err)
	}
	if s, err := d.Status(); err != nil || s != 0x09 {
		t.Fatalf("Status() = %#x, %v", s, err)
	}
	if err := d.SetMode(Normal); err != nil {
		t.Fatal(err)
	}
	if m, err := d.Mode(); err != nil || m != Normal {
		t.Fatalf("Mode() = %s, %v", m, err)
	}
	if err := d.SetFilter(F16); err != nil {
		t.Fatal(err)
	}
	if err := d.SetStandby(S250ms); err != nil {
		t.Fatal(err)
	}
	if err := d.SetOversamplingT(O1x); err != nil {
		t.Fatal(err)
	}
	if err := d.SetOversamplingP(Off); err != nil {
		t.Fatal(err)
	}
	if err := d.SetOversamplingH(O16x); err != nil {
		t.Fatal(err)
	}
	want := Opts{Temperature: O1x, Pressure: Off, Humidity: O16x, Filter: F16}
	if d.opts != want {
		t.Fatalf("opts = %+v", d.opts)
	}
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestDev_MeasureContinuous(t *testing.T) {
	noSleep(t)
	d, bus := newDev(t,
		// Normal mode, 1s standby.
		i2ctest.IO{Addr: 0x76, W: []byte{0xf5, 0xa0, 0xf4, 0x6f}},
		i2ctest.IO{Addr: 0x76, W: []byte{0xf7}, R: rawData},
		// Halt.
		i2ctest.IO{Addr: 0x76, W: []byte{0xf5, 0x00, 0xf4, 0x6c}},
	)
	c, err := d.MeasureContinuous(time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	r := <-c
	if r.Temperature != 2397 || r.Pressure != 24781563 || r.Humidity != 21538 {
		t.Fatalf("MeasureContinuous() = %+v", r)
	}
	if _, err := d.Measure(); err == nil {
		t.Fatal("Measure() while sensing continuously")
	}
	if err := d.Halt(); err != nil {
		t.Fatal(err)
	}
	if _, ok := <-c; ok {
		t.Fatal("channel should be closed")
	}
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestDev_MeasureContinuous_noDataFirst(t *testing.T) {
	noSleep(t)
	d, bus := newDev(t,
		// Normal mode, 0.5ms standby.
		i2ctest.IO{Addr: 0x76, W: []byte{0xf5, 0x00, 0xf4, 0x6f}},
		// Right after power up.
		i2ctest.IO{Addr: 0x76, W: []byte{0xf7}, R: []byte{0x80, 0x00, 0x00, 0x80, 0x00, 0x00, 0x80, 0x00}},
		i2ctest.IO{Addr: 0x76, W: []byte{0xf7}, R: rawData},
		// Halt.
		i2ctest.IO{Addr: 0x76, W: []byte{0xf5, 0x00, 0xf4, 0x6c}},
	)
	c, err := d.MeasureContinuous(20 * time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	r, ok := <-c
	if !ok {
		t.Fatal("channel closed after a sample without data")
	}
	if r.Temperature != 2397 || r.Pressure != 24781563 || r.Humidity != 21538 {
		t.Fatalf("MeasureContinuous() = %+v", r)
	}
	if err := d.Halt(); err != nil {
		t.Fatal(err)
	}
	if _, ok := <-c; ok {
		t.Fatal("channel should be closed")
	}
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestDev_MeasureContinuous_badInterval(t *testing.T) {
	d, bus := newDev(t)
	for _, interval := range []time.Duration{0, -time.Second} {
		if _, err := d.MeasureContinuous(interval); err == nil {
			t.Fatalf("MeasureContinuous(%s) succeeded", interval)
		}
		if _, err := d.SenseContinuous(interval); err == nil {
			t.Fatalf("SenseContinuous(%s) succeeded", interval)
		}
	}
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
}

// anyConn accepts every write and answers every read with rawData.
type anyConn struct{}

func (anyConn) String() string { return "any" }

func (anyConn) Tx(w, r []byte) error {
	copy(r, rawData)
	return nil
}

func (anyConn) Duplex() conn.Duplex { return conn.Half }

func TestDev_MeasureContinuous_concurrentStart(t *testing.T) {
	noSleep(t)
	d, _ := newDev(t)
	d.d = anyConn{}
	for i := 0; i < 50; i++ {
		var wg sync.WaitGroup
		chans := make([]<-chan Reading, 2)
		for j := range chans {
			wg.Add(1)
			go func(j int) {
				defer wg.Done()
				chans[j], _ = d.MeasureContinuous(time.Hour)
			}(j)
		}
		wg.Wait()

		halted := make(chan error)
		go func() { halted <- d.Halt() }()
		select {
		case err := <-halted:
			if err != nil {
				t.Fatal(err)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("#%d: Halt() did not return", i)
		}
		for _, c := range chans {
			if c == nil {
				continue
			}
			for range c {
			}
		}
	}
}

func TestMeasurementDelay(t *testing.T) {
	if d := measurementDelay(DefaultOpts); d != 30*time.Millisecond {
		t.Fatalf("measurementDelay() = %s", d)
	}
	if d := measurementDelay(Opts{Temperature: O1x}); d != 3550*time.Microsecond {
		t.Fatalf("measurementDelay() = %s", d)
	}
}

func TestChooseStandby(t *testing.T) {
	data := []struct {
		interval time.Duration
		want     Standby
	}{
		{time.Millisecond, S500us},
		{40 * time.Millisecond, S10ms},
		{100 * time.Millisecond, S62ms},
		{time.Minute, S1s},
	}
	for _, line := range data {
		if s := chooseStandby(line.interval, 30*time.Millisecond); s != line.want {
			t.Fatalf("chooseStandby(%s) = %d != %d", line.interval, s, line.want)
		}
	}
}

func TestOversampling_String(t *testing.T) {
	data := []struct {
		o    Oversampling
		want string
	}{
		{Off, "Off"},
		{O1x, "1x"},
		{O16x, "16x"},
		{Oversampling(6), "Oversampling(6)"},
	}
	for _, line := range data {
		if s := line.o.String(); s != line.want {
			t.Fatalf("%d: %q != %q", line.o, s, line.want)
		}
	}
}
