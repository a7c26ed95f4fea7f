package main

import (
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

const measurementName = "environment"

// influxSink exports every reading to an InfluxDB bucket.
type influxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
}

func newInfluxSink(url, token, org, bucket string) *influxSink {
	client := influxdb2.NewClient(url, token)
	s := &influxSink{
		client:   client,
		writeAPI: client.WriteAPI(org, bucket),
	}
	go func() {
		for err := range s.writeAPI.Errors() {
			lg.Errorf("InfluxDB write error: %v", err)
		}
	}()
	return s
}

func readingPoint(sensor string, reading SensorReading) *write.Point {
	p := influxdb2.NewPointWithMeasurement(measurementName).
		AddTag("sensor", sensor).
		AddField("temperature", reading.Temperature).
		SetTime(reading.Updated)
	if reading.Pressure != nil {
		p.AddField("pressure", *reading.Pressure)
	}
	if reading.PressureMmHg != nil {
		p.AddField("pressure_mmhg", *reading.PressureMmHg)
	}
	if reading.Humidity != nil {
		p.AddField("humidity", *reading.Humidity)
	}
	if reading.CO2 != 0 {
		p.AddField("co2", int64(reading.CO2))
	}
	return p
}

func (s *influxSink) write(sensor string, reading SensorReading) {
	s.writeAPI.WritePoint(readingPoint(sensor, reading))
}

func (s *influxSink) Close() {
	s.writeAPI.Flush()
	s.client.Close()
}
