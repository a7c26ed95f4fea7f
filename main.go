package main

import (
	"BMEServer/bme280"
	"context"
	"fmt"
	"github.com/aldernero/scd4x"
	logger "github.com/d2r2/go-logger"
	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
	"net"
	"net/http"
	"os"
	"os/signal"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
	"time"
)

type ProgramArgs struct {
	// Server Options
	Host string `short:"H" long:"host" env:"THERMO_HOST" default:"127.0.0.1" description:"IP to listen on"`
	Port uint16 `short:"P" long:"port" env:"THERMO_PORT" default:"27315" description:"Port to listen on"`

	// Sensor Options
	Interval  uint16 `short:"I" long:"interval" env:"THERMO_INTERVAL" default:"5" description:"Interval between readings"`
	I2CDevice string `short:"D" long:"i2cdev" env:"THERMO_I2C_DEV" description:"The used I2C device (default: auto)"`
	I2CAddr   uint16 `short:"A" long:"i2caddr" env:"THERMO_I2C_ADDR" default:"76" base:"16" description:"BME280 I2C address (76 or 77)"`
	SPIPort   string `long:"spi" env:"THERMO_SPI" description:"Use this SPI port for the BME280 instead of I2C"`
	Filter    uint8  `short:"F" long:"filter" env:"THERMO_FILTER" default:"2" description:"IIR filter coefficient (0-4)"`
	SCD4x     bool   `long:"scd4x" env:"THERMO_SCD4X" description:"Read humidity and CO2 from an SCD4x on the same I2C bus"`

	// Export Options
	InfluxURL    string `long:"influx-url" env:"INFLUX_URL" description:"InfluxDB URL, export is disabled when empty"`
	InfluxToken  string `long:"influx-token" env:"INFLUX_TOKEN" description:"InfluxDB token"`
	InfluxOrg    string `long:"influx-org" env:"INFLUX_ORG" description:"InfluxDB organization"`
	InfluxBucket string `long:"influx-bucket" env:"INFLUX_BUCKET" default:"sensors" description:"InfluxDB bucket"`

	Debug bool `short:"d" long:"debug" env:"THERMO_DEBUG" description:"Verbose logging"`
}

var lg = logger.NewPackageLogger("main", logger.InfoLevel)

var (
	args ProgramArgs

	scdDev *scd4x.SCD4x
)

const (
	MIN_TIMEOUT_SECONDS = 2
)

func updateReading(ch <-chan bme280.Reading, srv *server, sink *influxSink) {
	for r := range ch {
		lg.Debug("New readings")

		// BME280
		reading := NewSensorReading(time.Now())
		reading.SetBME(r)

		// SCD41
		if scdDev != nil {
			scdData, err := scdDev.ReadMeasurement()
			if err != nil {
				lg.Errorf("error while reading SCD4x data: %v", err)
			} else {
				reading.SetHumidity(scdData.Rh)
				reading.CO2 = scdData.CO2
			}
		}

		srv.update(reading)
		if sink != nil {
			sink.write("bme280", reading)
		}
	}
}

func getOutboundIP() net.IP {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		lg.Fatal(err)
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)

	return localAddr.IP
}

func setupI2CBus(i2cdev string) i2c.BusCloser {
	bus, err := i2creg.Open(i2cdev)
	if err != nil {
		lg.Fatalf("Couldn't open I2C device: %v", err)
	}

	return bus
}

func sensorOpts() *bme280.Opts {
	opts := bme280.DefaultOpts
	opts.Filter = bme280.Filter(args.Filter)
	return &opts
}

// setupBMESensor returns the device. the caller has the responsibility to close the bus
func setupBMESensor(i2cBus i2c.Bus) *bme280.Dev {
	if args.SPIPort != "" {
		port, err := spireg.Open(args.SPIPort)
		if err != nil {
			lg.Fatalf("Couldn't open SPI port: %v", err)
		}
		dev, err := bme280.NewSPI(port, sensorOpts())
		if err != nil {
			lg.Fatalf("Couldn't initialize sensor: %v", err)
		}
		return dev
	}

	dev, err := bme280.NewI2C(i2cBus, args.I2CAddr, sensorOpts())
	if err != nil {
		lg.Fatalf("Couldn't initialize sensor: %v", err)
	}

	cal, err := dev.Calibration()
	if err == nil {
		lg.Debugf("Calibration: %s", &cal)
	}

	return dev
}

func setupSCDSensor(i2cBus i2c.BusCloser) *scd4x.SCD4x {
	sensor, err := scd4x.SensorInit(i2cBus, false)
	if err != nil {
		lg.Fatal(err.Error())
	}

	lg.Info("Initializing SCD4x…")
	if err := sensor.StopMeasurements(); err != nil {
		lg.Fatalf("Error while trying to stop periodic measurements: %v", err)
	}
	if err := sensor.StartMeasurements(); err != nil {
		lg.Fatalf("Error while trying to start periodic measurements: %v", err)
	}
	lg.Info("Done")

	return sensor
}

func main() {
	defer logger.FinalizeLogger()

	if err := godotenv.Load(); err != nil {
		lg.Debug("No .env file found, using environment variables")
	}

	args = ProgramArgs{}
	argParser := flags.NewParser(&args, flags.Default)

	_, err := argParser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	if args.Debug {
		_ = logger.ChangePackageLogLevel("main", logger.DebugLevel)
		_ = logger.ChangePackageLogLevel("bme280", logger.DebugLevel)
	}

	if _, err := host.Init(); err != nil {
		lg.Fatalf("Initialization failed: %v", err)
	}

	// Boring i2c setup (error handling happens in these functions)
	var bus i2c.BusCloser
	if args.SPIPort == "" || args.SCD4x {
		bus = setupI2CBus(args.I2CDevice)
		defer bus.Close()
	}

	bmeDev := setupBMESensor(bus)

	// MeasureContinuous takes the first reading once a conversion is done
	intervalDuration := time.Duration(args.Interval)
	readingChannel, err := bmeDev.MeasureContinuous(intervalDuration * time.Second)
	if err != nil {
		lg.Fatalf("Couldn't start taking readings: %v", err)
	}
	defer bmeDev.Halt()

	if args.SCD4x {
		scdDev = setupSCDSensor(bus)
		defer scdDev.StopMeasurements()

		lg.Info("Waking up in a second…")

		// give the sensor time to wake up
		time.Sleep(1 * time.Second)
	}

	var sink *influxSink
	if args.InfluxURL != "" {
		sink = newInfluxSink(args.InfluxURL, args.InfluxToken, args.InfluxOrg, args.InfluxBucket)
		defer sink.Close()
		lg.Infof("Exporting to InfluxDB at %s", args.InfluxURL)
	}

	thermo := newServer()
	defer thermo.hub.closeAll()

	// Start background measurements
	go updateReading(readingChannel, thermo, sink)

	timeoutLen := max(MIN_TIMEOUT_SECONDS, int(args.Interval))

	addr := fmt.Sprintf("%s:%d", args.Host, args.Port)
	srv := &http.Server{
		Addr:         addr,
		ReadTimeout:  time.Duration(timeoutLen) * time.Second,
		WriteTimeout: time.Duration(timeoutLen) * time.Second,
		IdleTimeout:  120 * time.Second,
		Handler:      thermo.router(),
	}

	go func() {
		if args.Host == "0.0.0.0" {
			localIP := getOutboundIP() // resolve local IP for easier debugging
			lg.Infof("Listening on %s:%d…", localIP.String(), args.Port)
		} else {
			lg.Infof("Listening on %s…", addr)
		}

		err := srv.ListenAndServe()
		lg.Infof("Shutdown (%v)", err)
	}()

	sigChan := make(chan os.Signal, 1)
	// We'll accept graceful shutdowns when quit via SIGINT (Ctrl+C)
	// SIGKILL, SIGQUIT or SIGTERM (Ctrl+/) will not be caught.
	signal.Notify(sigChan, os.Interrupt)

	<-sigChan

	// Give the server a timeout period of 4 seconds
	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Second)
	defer cancel()
	// Doesn't block if no connections, but will otherwise wait until the timeout deadline.
	_ = srv.Shutdown(ctx)
}
